package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"oauth-server/credentials"
	"oauth-server/models"
	"oauth-server/platform"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/umakantv/go-utils/errs"
	"go.uber.org/zap"
)

// OAuthAuthorizeHandler handles GET /oauth/authorize and the consent
// decision. Validates the authorization request, resolves consent (auto for
// trusted applications), and issues the single-use authorization code.
type OAuthAuthorizeHandler struct {
	db       *sqlx.DB
	sessions platform.Sessions
	flags    platform.TenantFlags
	codeTTL  time.Duration
	loginURL string
}

// NewOAuthAuthorizeHandler creates the handler
func NewOAuthAuthorizeHandler(db *sqlx.DB, sessions platform.Sessions, flags platform.TenantFlags, codeTTL time.Duration, loginURL string) *OAuthAuthorizeHandler {
	return &OAuthAuthorizeHandler{
		db:       db,
		sessions: sessions,
		flags:    flags,
		codeTTL:  codeTTL,
		loginURL: loginURL,
	}
}

// redirectWithError delivers an OAuth error via redirect. Only called once
// the redirect URI has been matched against the registered set; anything
// earlier must respond directly instead (open-redirect prevention).
func redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI, errCode, description, state string) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		writeOAuthError(w, models.NewOAuthError(models.ErrInvalidRequest, "invalid redirect_uri"))
		return
	}
	q := u.Query()
	q.Set("error", errCode)
	if description != "" {
		q.Set("error_description", description)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// successRedirectURL appends code and the verbatim state to the redirect URI
func successRedirectURL(redirectURI, code, state string) string {
	u, _ := url.Parse(redirectURI)
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// issueCode generates and persists a single-use authorization code bound to
// the client, user, scopes, redirect URI, and optional PKCE challenge.
func (h *OAuthAuthorizeHandler) issueCode(ctx context.Context, req *models.PendingAuthRequest, scopes string) (string, error) {
	code, err := credentials.GenerateOpaqueToken(32)
	if err != nil {
		return "", err
	}

	_, err = h.db.Exec(`
		INSERT INTO oauth_auth_codes (
			code, client_id, user_id, scopes, redirect_uri,
			code_challenge, code_challenge_method, expires_at, is_used, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		code, req.ClientID, req.UserID, scopes, req.RedirectURI,
		req.CodeChallenge, req.CodeChallengeMethod,
		time.Now().Add(h.codeTTL), time.Now(),
	)
	if err != nil {
		return "", err
	}

	logRequest(ctx, "info", "Authorization code issued",
		zap.String("client_id", req.ClientID), zap.Int("user_id", req.UserID),
		zap.String("scopes", scopes))
	return code, nil
}

// HandleAuthorize handles GET /oauth/authorize
// Query params: response_type=code, client_id, redirect_uri, scope, state,
// code_challenge, code_challenge_method.
// Validation order matters: errors before the redirect URI is matched
// against the registered set are returned directly, never via redirect.
func (h *OAuthAuthorizeHandler) HandleAuthorize(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	logRequest(ctx, "info", "OAuth authorize request")

	if !h.flags.OAuthEnabled(platform.TenantID(r)) {
		writeJSON(w, http.StatusForbidden, errs.NewValidationError("OAuth is not enabled for this tenant"))
		return
	}

	query := r.URL.Query()
	clientID := query.Get("client_id")
	redirectURI := query.Get("redirect_uri")
	scope := query.Get("scope")
	state := query.Get("state")
	responseType := query.Get("response_type")
	codeChallenge := query.Get("code_challenge")
	codeChallengeMethod := query.Get("code_challenge_method")

	if responseType != "code" {
		writeOAuthError(w, models.NewOAuthError(models.ErrUnsupportedResponseType, "only response_type=code is supported"))
		return
	}
	if clientID == "" || redirectURI == "" {
		writeOAuthError(w, models.NewOAuthError(models.ErrInvalidRequest, "client_id and redirect_uri are required"))
		return
	}

	app, err := lookupActiveApplication(h.db, clientID)
	if err == sql.ErrNoRows {
		// 401 is a token-endpoint convention; here the caller is a browser
		writeJSON(w, http.StatusBadRequest, models.NewOAuthError(models.ErrInvalidClient, "unknown client"))
		return
	}
	if err != nil {
		logRequest(ctx, "error", "Client lookup failed", zap.Error(err))
		writeOAuthError(w, models.NewOAuthError(models.ErrServerError, ""))
		return
	}

	// Exact match only; an unregistered URI never receives a redirect
	if !app.HasRedirectURI(redirectURI) {
		logRequest(ctx, "error", "Redirect URI not registered",
			zap.String("client_id", clientID), zap.String("redirect_uri", redirectURI))
		writeOAuthError(w, models.NewOAuthError(models.ErrInvalidRequest, "redirect_uri is not registered for this client"))
		return
	}

	// From here on the redirect URI is trusted and errors go back to it
	requestedScopes := strings.Fields(scope)
	if len(requestedScopes) == 0 {
		requestedScopes = app.ScopeList()
	} else if !scopeSubset(requestedScopes, app.ScopeList()) {
		redirectWithError(w, r, redirectURI, models.ErrInvalidScope, "requested scope exceeds the application's allowed scopes", state)
		return
	}

	if codeChallengeMethod != "" && codeChallenge == "" {
		redirectWithError(w, r, redirectURI, models.ErrInvalidRequest, "code_challenge_method requires code_challenge", state)
		return
	}
	if codeChallenge != "" {
		if codeChallengeMethod == "" {
			codeChallengeMethod = credentials.PKCEMethodPlain
		}
		if !credentials.ValidPKCEMethod(codeChallengeMethod) {
			redirectWithError(w, r, redirectURI, models.ErrInvalidRequest, "unsupported code_challenge_method", state)
			return
		}
	}

	userID, err := h.sessions.UserID(r)
	if err != nil {
		// Not an OAuth error: send the user to authenticate, preserving the
		// original authorization request
		loginURL := h.loginURL + "?return_to=" + url.QueryEscape(r.URL.RequestURI())
		logRequest(ctx, "info", "No authenticated session, redirecting to login")
		http.Redirect(w, r, loginURL, http.StatusFound)
		return
	}

	pending := &models.PendingAuthRequest{
		RequestID:           uuid.New().String(),
		ClientID:            clientID,
		UserID:              userID,
		RedirectURI:         redirectURI,
		Scopes:              strings.Join(requestedScopes, " "),
		State:               state,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
	}

	// Trusted applications bypass the consent step
	if app.IsTrusted {
		code, err := h.issueCode(ctx, pending, pending.Scopes)
		if err != nil {
			logRequest(ctx, "error", "Failed to issue authorization code", zap.Error(err))
			redirectWithError(w, r, redirectURI, models.ErrServerError, "", state)
			return
		}
		http.Redirect(w, r, successRedirectURL(redirectURI, code, state), http.StatusFound)
		return
	}

	// Pin the validated request so the consent decision cannot alter the
	// client, redirect URI, or PKCE binding
	_, err = h.db.Exec(`
		INSERT INTO oauth_pending_requests (
			request_id, client_id, user_id, scopes, redirect_uri, state,
			code_challenge, code_challenge_method, expires_at, is_consumed, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		pending.RequestID, pending.ClientID, pending.UserID, pending.Scopes,
		pending.RedirectURI, pending.State, pending.CodeChallenge,
		pending.CodeChallengeMethod, time.Now().Add(h.codeTTL), time.Now(),
	)
	if err != nil {
		logRequest(ctx, "error", "Failed to store pending authorization request", zap.Error(err))
		redirectWithError(w, r, redirectURI, models.ErrServerError, "", state)
		return
	}

	writeJSON(w, http.StatusOK, models.ConsentPayload{
		RequestID:       pending.RequestID,
		ClientID:        app.ClientID,
		ClientName:      app.Name,
		Description:     app.Description,
		RequestedScopes: requestedScopes,
		State:           state,
	})
}

// HandleConsent handles POST /oauth/authorize/consent
// The decision references the pinned request; an approval may narrow the
// granted scopes to a subset of the requested ones. The pending request is
// consumed either way.
func (h *OAuthAuthorizeHandler) HandleConsent(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var decision models.ConsentDecision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		writeOAuthError(w, models.NewOAuthError(models.ErrInvalidRequest, "invalid JSON"))
		return
	}
	if decision.RequestID == "" {
		writeOAuthError(w, models.NewOAuthError(models.ErrInvalidRequest, "request_id is required"))
		return
	}

	var pending models.PendingAuthRequest
	err := h.db.Get(&pending, `
		SELECT id, request_id, client_id, user_id, scopes, redirect_uri, state,
			code_challenge, code_challenge_method, expires_at, is_consumed, created_at
		FROM oauth_pending_requests WHERE request_id = ?`, decision.RequestID)
	if err == sql.ErrNoRows {
		writeOAuthError(w, models.NewOAuthError(models.ErrInvalidRequest, "unknown or expired authorization request"))
		return
	}
	if err != nil {
		logRequest(ctx, "error", "Pending request lookup failed", zap.Error(err))
		writeOAuthError(w, models.NewOAuthError(models.ErrServerError, ""))
		return
	}

	// Consume first, with the same guarded update the code exchange uses:
	// concurrent decisions on one request_id resolve to a single winner
	result, err := h.db.Exec(
		"UPDATE oauth_pending_requests SET is_consumed = 1 WHERE request_id = ? AND is_consumed = 0",
		decision.RequestID,
	)
	if err != nil {
		logRequest(ctx, "error", "Failed to consume pending request", zap.Error(err))
		writeOAuthError(w, models.NewOAuthError(models.ErrServerError, ""))
		return
	}
	affected, err := result.RowsAffected()
	if err != nil {
		logRequest(ctx, "error", "Failed to read affected rows", zap.Error(err))
		writeOAuthError(w, models.NewOAuthError(models.ErrServerError, ""))
		return
	}
	if affected != 1 || time.Now().After(pending.ExpiresAt) {
		writeOAuthError(w, models.NewOAuthError(models.ErrInvalidRequest, "unknown or expired authorization request"))
		return
	}

	// The deciding user must be the one who initiated the request
	userID, err := h.sessions.UserID(r)
	if err != nil || userID != pending.UserID {
		writeOAuthError(w, models.NewOAuthError(models.ErrAccessDenied, "authorization request does not belong to this session"))
		return
	}

	if !decision.Approved {
		logRequest(ctx, "info", "Consent denied",
			zap.String("client_id", pending.ClientID), zap.Int("user_id", pending.UserID))
		u, _ := url.Parse(pending.RedirectURI)
		q := u.Query()
		q.Set("error", models.ErrAccessDenied)
		if pending.State != "" {
			q.Set("state", pending.State)
		}
		u.RawQuery = q.Encode()
		writeJSON(w, http.StatusOK, map[string]string{"redirect_url": u.String()})
		return
	}

	// Optional partial approval: granted scopes must stay within the request
	grantedScopes := pending.Scopes
	if len(decision.Scopes) > 0 {
		if !scopeSubset(decision.Scopes, strings.Fields(pending.Scopes)) {
			writeOAuthError(w, models.NewOAuthError(models.ErrInvalidScope, "approved scopes exceed the requested scopes"))
			return
		}
		grantedScopes = strings.Join(decision.Scopes, " ")
	}

	code, err := h.issueCode(ctx, &pending, grantedScopes)
	if err != nil {
		logRequest(ctx, "error", "Failed to issue authorization code", zap.Error(err))
		writeOAuthError(w, models.NewOAuthError(models.ErrServerError, ""))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"redirect_url": successRedirectURL(pending.RedirectURI, code, pending.State),
		"code":         code,
	})
}
