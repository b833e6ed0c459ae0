package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"oauth-server/credentials"
	"oauth-server/models"
	"oauth-server/platform"
	"oauth-server/tokens"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// OAuthTokenHandler handles POST /oauth/token: exchanging an authorization
// code or a refresh token for a fresh access/refresh token pair. Dispatch
// happens once on the grant type; each arm implements the same
// (request) -> (*TokenResponse, *OAuthError) contract.
type OAuthTokenHandler struct {
	db         *sqlx.DB
	hasher     credentials.SecretHasher
	signer     *tokens.Signer
	flags      platform.TenantFlags
	refreshTTL time.Duration
}

// NewOAuthTokenHandler creates a new token handler
func NewOAuthTokenHandler(db *sqlx.DB, hasher credentials.SecretHasher, signer *tokens.Signer, flags platform.TenantFlags, refreshTTL time.Duration) *OAuthTokenHandler {
	return &OAuthTokenHandler{
		db:         db,
		hasher:     hasher,
		signer:     signer,
		flags:      flags,
		refreshTTL: refreshTTL,
	}
}

// HandleToken handles POST /oauth/token (JSON or form body, both are common
// for OAuth clients). All errors are direct JSON responses, never redirects.
func (h *OAuthTokenHandler) HandleToken(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	logRequest(ctx, "info", "Token request")

	if !h.flags.OAuthEnabled(platform.TenantID(r)) {
		writeOAuthError(w, models.NewOAuthError(models.ErrInvalidRequest, "OAuth is not enabled for this tenant"))
		return
	}

	// Form and JSON bodies are both accepted; the JSON decoder drains the
	// body, so the encoding has to be picked up front from Content-Type
	var req models.TokenRequest
	if isFormEncoded(r) {
		if err := r.ParseForm(); err != nil {
			writeOAuthError(w, models.NewOAuthError(models.ErrInvalidRequest, "malformed request body"))
			return
		}
		req.GrantType = r.Form.Get("grant_type")
		req.Code = r.Form.Get("code")
		req.RedirectURI = r.Form.Get("redirect_uri")
		req.CodeVerifier = r.Form.Get("code_verifier")
		req.RefreshToken = r.Form.Get("refresh_token")
		req.ClientID = r.Form.Get("client_id")
		req.ClientSecret = r.Form.Get("client_secret")
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, models.NewOAuthError(models.ErrInvalidRequest, "malformed request body"))
		return
	}

	if req.ClientID == "" || req.ClientSecret == "" {
		writeOAuthError(w, models.NewOAuthError(models.ErrInvalidRequest, "client_id and client_secret are required"))
		return
	}

	// Client authentication is common to every grant. A missing, inactive,
	// or wrong-secret client gets the same answer.
	app, err := lookupActiveApplication(h.db, req.ClientID)
	if err == sql.ErrNoRows {
		writeOAuthError(w, models.NewOAuthError(models.ErrInvalidClient, "client authentication failed"))
		return
	}
	if err != nil {
		logRequest(ctx, "error", "Client lookup failed", zap.Error(err))
		writeOAuthError(w, models.NewOAuthError(models.ErrServerError, ""))
		return
	}
	if !h.hasher.Verify(req.ClientSecret, app.ClientSecretHash) {
		logRequest(ctx, "error", "Invalid client secret", zap.String("client_id", req.ClientID))
		writeOAuthError(w, models.NewOAuthError(models.ErrInvalidClient, "client authentication failed"))
		return
	}

	var resp *models.TokenResponse
	var oauthErr *models.OAuthError
	switch models.GrantType(req.GrantType) {
	case models.GrantAuthorizationCode:
		resp, oauthErr = h.exchangeAuthorizationCode(ctx, app, &req)
	case models.GrantRefreshToken:
		resp, oauthErr = h.refreshAccessToken(ctx, app, &req)
	default:
		oauthErr = models.NewOAuthError(models.ErrUnsupportedGrantType, "grant_type must be authorization_code or refresh_token")
	}

	if oauthErr != nil {
		writeOAuthError(w, oauthErr)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// exchangeAuthorizationCode implements the authorization_code grant arm
func (h *OAuthTokenHandler) exchangeAuthorizationCode(ctx context.Context, app *models.OAuthApplication, req *models.TokenRequest) (*models.TokenResponse, *models.OAuthError) {
	if !app.AllowsGrantType(models.GrantAuthorizationCode) {
		return nil, models.NewOAuthError(models.ErrUnauthorizedClient, "client may not use the authorization_code grant")
	}
	if req.Code == "" || req.RedirectURI == "" {
		return nil, models.NewOAuthError(models.ErrInvalidRequest, "code and redirect_uri are required")
	}

	var authCode models.AuthCode
	err := h.db.Get(&authCode, `
		SELECT id, code, client_id, user_id, scopes, redirect_uri,
			code_challenge, code_challenge_method, expires_at, is_used, created_at
		FROM oauth_auth_codes WHERE code = ?`, req.Code)
	if err == sql.ErrNoRows {
		return nil, models.NewOAuthError(models.ErrInvalidGrant, "invalid authorization code")
	}
	if err != nil {
		logRequest(ctx, "error", "Auth code lookup failed", zap.Error(err))
		return nil, models.NewOAuthError(models.ErrServerError, "")
	}

	if authCode.IsUsed || authCode.ClientID != app.ClientID {
		return nil, models.NewOAuthError(models.ErrInvalidGrant, "invalid authorization code")
	}
	if authCode.IsExpired() {
		return nil, models.NewOAuthError(models.ErrInvalidGrant, "authorization code expired")
	}
	// Byte-for-byte equality with the URI presented at issuance
	if authCode.RedirectURI != req.RedirectURI {
		logRequest(ctx, "error", "Redirect URI mismatch at exchange",
			zap.String("client_id", app.ClientID))
		return nil, models.NewOAuthError(models.ErrInvalidGrant, "redirect_uri does not match")
	}

	if authCode.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, models.NewOAuthError(models.ErrInvalidRequest, "code_verifier is required")
		}
		if !credentials.VerifyPKCE(req.CodeVerifier, authCode.CodeChallenge, authCode.CodeChallengeMethod) {
			logRequest(ctx, "error", "PKCE verification failed", zap.String("client_id", app.ClientID))
			return nil, models.NewOAuthError(models.ErrInvalidGrant, "PKCE verification failed")
		}
	} else if req.CodeVerifier != "" {
		return nil, models.NewOAuthError(models.ErrInvalidRequest, "code_verifier provided but no challenge was registered")
	}

	// Atomic single-use consumption. The WHERE guard makes concurrent
	// exchanges of the same code race-safe: exactly one UPDATE reports an
	// affected row, every other attempt sees invalid_grant.
	result, err := h.db.Exec(
		"UPDATE oauth_auth_codes SET is_used = 1 WHERE code = ? AND is_used = 0",
		req.Code,
	)
	if err != nil {
		logRequest(ctx, "error", "Failed to consume auth code", zap.Error(err))
		return nil, models.NewOAuthError(models.ErrServerError, "")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		logRequest(ctx, "error", "Failed to read affected rows", zap.Error(err))
		return nil, models.NewOAuthError(models.ErrServerError, "")
	}
	if affected != 1 {
		logRequest(ctx, "error", "Authorization code already consumed",
			zap.String("client_id", app.ClientID))
		return nil, models.NewOAuthError(models.ErrInvalidGrant, "authorization code already used")
	}

	resp, err := h.issueTokens(ctx, app.ClientID, authCode.UserID, authCode.Scopes)
	if err != nil {
		logRequest(ctx, "error", "Token issuance failed", zap.Error(err))
		return nil, models.NewOAuthError(models.ErrServerError, "")
	}
	return resp, nil
}

// refreshAccessToken implements the refresh_token grant arm. Refresh tokens
// rotate: the presented token's issuance record is revoked with the same
// conditional-update guard used for codes, so a replayed refresh token gets
// invalid_grant just like a replayed code.
func (h *OAuthTokenHandler) refreshAccessToken(ctx context.Context, app *models.OAuthApplication, req *models.TokenRequest) (*models.TokenResponse, *models.OAuthError) {
	if !app.AllowsGrantType(models.GrantRefreshToken) {
		return nil, models.NewOAuthError(models.ErrUnauthorizedClient, "client may not use the refresh_token grant")
	}
	if req.RefreshToken == "" {
		return nil, models.NewOAuthError(models.ErrInvalidRequest, "refresh_token is required")
	}

	var record models.Token
	err := h.db.Get(&record, `
		SELECT id, token_id, refresh_token, client_id, user_id, scopes,
			access_expires_at, refresh_expires_at, is_revoked, created_at
		FROM oauth_tokens WHERE refresh_token = ?`, req.RefreshToken)
	if err == sql.ErrNoRows {
		return nil, models.NewOAuthError(models.ErrInvalidGrant, "invalid refresh token")
	}
	if err != nil {
		logRequest(ctx, "error", "Refresh token lookup failed", zap.Error(err))
		return nil, models.NewOAuthError(models.ErrServerError, "")
	}

	if record.IsRevoked || record.ClientID != app.ClientID {
		return nil, models.NewOAuthError(models.ErrInvalidGrant, "invalid refresh token")
	}
	if time.Now().After(record.RefreshExpiresAt) {
		return nil, models.NewOAuthError(models.ErrInvalidGrant, "refresh token expired")
	}

	// Rotation: revoke the presented token before issuing its successor
	result, err := h.db.Exec(
		"UPDATE oauth_tokens SET is_revoked = 1 WHERE refresh_token = ? AND is_revoked = 0",
		req.RefreshToken,
	)
	if err != nil {
		logRequest(ctx, "error", "Failed to rotate refresh token", zap.Error(err))
		return nil, models.NewOAuthError(models.ErrServerError, "")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		logRequest(ctx, "error", "Failed to read affected rows", zap.Error(err))
		return nil, models.NewOAuthError(models.ErrServerError, "")
	}
	if affected != 1 {
		return nil, models.NewOAuthError(models.ErrInvalidGrant, "invalid refresh token")
	}

	// Same subject, same scopes; scope never widens across a refresh
	resp, err := h.issueTokens(ctx, app.ClientID, record.UserID, record.Scopes)
	if err != nil {
		logRequest(ctx, "error", "Token issuance failed", zap.Error(err))
		return nil, models.NewOAuthError(models.ErrServerError, "")
	}
	return resp, nil
}

// issueTokens signs a new access token, generates a new refresh token, and
// persists the issuance record backing them both.
func (h *OAuthTokenHandler) issueTokens(ctx context.Context, clientID string, userID int, scopes string) (*models.TokenResponse, error) {
	accessToken, jti, accessExpiresAt, err := h.signer.Sign(userID, clientID, scopes)
	if err != nil {
		return nil, err
	}
	refreshToken, err := credentials.GenerateOpaqueToken(32)
	if err != nil {
		return nil, err
	}

	_, err = h.db.Exec(`
		INSERT INTO oauth_tokens (
			token_id, refresh_token, client_id, user_id, scopes,
			access_expires_at, refresh_expires_at, is_revoked, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		jti, refreshToken, clientID, userID, scopes,
		accessExpiresAt, time.Now().Add(h.refreshTTL), time.Now(),
	)
	if err != nil {
		return nil, err
	}

	logRequest(ctx, "info", "Tokens issued",
		zap.String("client_id", clientID), zap.Int("user_id", userID),
		zap.String("scopes", scopes))

	return &models.TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.signer.TTL().Seconds()),
		RefreshToken: refreshToken,
		Scope:        scopes,
	}, nil
}
