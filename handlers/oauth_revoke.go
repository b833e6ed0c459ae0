package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"oauth-server/models"
	"oauth-server/tokens"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// OAuthRevokeHandler handles POST /oauth/revoke (RFC 7009) and
// POST /oauth/introspect (RFC 7662).
type OAuthRevokeHandler struct {
	db     *sqlx.DB
	signer *tokens.Signer
}

// NewOAuthRevokeHandler creates the handler
func NewOAuthRevokeHandler(db *sqlx.DB, signer *tokens.Signer) *OAuthRevokeHandler {
	return &OAuthRevokeHandler{
		db:     db,
		signer: signer,
	}
}

// revokeByColumn marks the issuance record matching column=value as revoked.
// Returns whether a row was updated; callers must not expose that to the
// client.
func (h *OAuthRevokeHandler) revokeByColumn(ctx context.Context, column, value string) bool {
	// column is one of the two fixed names below, never request input
	result, err := h.db.Exec(
		"UPDATE oauth_tokens SET is_revoked = 1 WHERE "+column+" = ? AND is_revoked = 0",
		value,
	)
	if err != nil {
		logRequest(ctx, "error", "Revocation update failed", zap.Error(err))
		return false
	}
	affected, _ := result.RowsAffected()
	return affected == 1
}

// HandleRevoke handles POST /oauth/revoke
// Always answers 200 success: whether the token existed, was already
// revoked, or never parsed must be indistinguishable to the caller.
func (h *OAuthRevokeHandler) HandleRevoke(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	logRequest(ctx, "info", "Revocation request")

	var req models.RevokeRequest
	if isFormEncoded(r) {
		if err := r.ParseForm(); err == nil {
			req.Token = r.Form.Get("token")
			req.TokenTypeHint = r.Form.Get("token_type_hint")
		}
	} else {
		json.NewDecoder(r.Body).Decode(&req)
	}

	if req.Token != "" {
		revoked := false
		// The hint only orders the lookup; a wrong hint still finds the token
		if req.TokenTypeHint != "refresh_token" {
			if claims, err := h.signer.Parse(req.Token); err == nil {
				revoked = h.revokeByColumn(ctx, "token_id", claims.ID)
			}
		}
		if !revoked {
			revoked = h.revokeByColumn(ctx, "refresh_token", req.Token)
		}
		if !revoked && req.TokenTypeHint == "refresh_token" {
			if claims, err := h.signer.Parse(req.Token); err == nil {
				revoked = h.revokeByColumn(ctx, "token_id", claims.ID)
			}
		}
		if revoked {
			logRequest(ctx, "info", "Token revoked")
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleIntrospect handles POST /oauth/introspect
// Anything invalid, expired, revoked, or unparseable is {"active": false};
// a malformed token is never an error.
func (h *OAuthRevokeHandler) HandleIntrospect(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	logRequest(ctx, "info", "Introspection request")

	var req models.IntrospectRequest
	if isFormEncoded(r) {
		if err := r.ParseForm(); err == nil {
			req.Token = r.Form.Get("token")
		}
	} else {
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Token == "" {
		writeJSON(w, http.StatusOK, models.IntrospectResponse{Active: false})
		return
	}

	// Access token first: signature + expiry, then the issuance record for
	// revocation state
	if claims, err := h.signer.Parse(req.Token); err == nil {
		var record models.Token
		err := h.db.Get(&record, `
			SELECT id, token_id, refresh_token, client_id, user_id, scopes,
				access_expires_at, refresh_expires_at, is_revoked, created_at
			FROM oauth_tokens WHERE token_id = ?`, claims.ID)
		if err != nil || record.IsRevoked {
			writeJSON(w, http.StatusOK, models.IntrospectResponse{Active: false})
			return
		}
		writeJSON(w, http.StatusOK, models.IntrospectResponse{
			Active:    true,
			Scope:     claims.Scope,
			ClientID:  claims.ClientID,
			Subject:   claims.Subject,
			TokenType: "access_token",
			ExpiresAt: claims.ExpiresAt.Unix(),
		})
		return
	}

	// Then as an opaque refresh token
	var record models.Token
	err := h.db.Get(&record, `
		SELECT id, token_id, refresh_token, client_id, user_id, scopes,
			access_expires_at, refresh_expires_at, is_revoked, created_at
		FROM oauth_tokens WHERE refresh_token = ?`, req.Token)
	if err == sql.ErrNoRows || (err == nil && (record.IsRevoked || time.Now().After(record.RefreshExpiresAt))) {
		writeJSON(w, http.StatusOK, models.IntrospectResponse{Active: false})
		return
	}
	if err != nil {
		logRequest(ctx, "error", "Introspection lookup failed", zap.Error(err))
		writeJSON(w, http.StatusOK, models.IntrospectResponse{Active: false})
		return
	}

	writeJSON(w, http.StatusOK, models.IntrospectResponse{
		Active:    true,
		Scope:     record.Scopes,
		ClientID:  record.ClientID,
		Subject:   strconv.Itoa(record.UserID),
		TokenType: "refresh_token",
		ExpiresAt: record.RefreshExpiresAt.Unix(),
	})
}
