package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"oauth-server/config"
	"oauth-server/credentials"
	"oauth-server/models"
	"oauth-server/tokens"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

type revokeEnv struct {
	db     *sqlx.DB
	signer *tokens.Signer
	token  *OAuthTokenHandler
	revoke *OAuthRevokeHandler
	app    *models.OAuthApplication
	secret string
}

func newRevokeEnv(t *testing.T) *revokeEnv {
	t.Helper()
	db := newTestDB(t)
	hasher := &credentials.FastHasher{}
	signer := newTestSigner()
	app, secret := createTestApp(t, db, hasher, testAppOpts{})
	return &revokeEnv{
		db:     db,
		signer: signer,
		token:  NewOAuthTokenHandler(db, hasher, signer, allowAllFlags{}, 30*24*time.Hour),
		revoke: NewOAuthRevokeHandler(db, signer),
		app:    app,
		secret: secret,
	}
}

// issuePair runs a full code exchange and returns the token response body
func (e *revokeEnv) issuePair(t *testing.T) map[string]interface{} {
	t.Helper()
	code := insertTestCode(t, e.db, models.AuthCode{
		ClientID:    e.app.ClientID,
		UserID:      3,
		Scopes:      "orders:read",
		RedirectURI: "https://app.example.com/cb",
	})
	status, body := postToken(t, e.token, models.TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "https://app.example.com/cb",
		ClientID:     e.app.ClientID,
		ClientSecret: e.secret,
	})
	require.Equal(t, 200, status)
	return body
}

func (e *revokeEnv) postRevoke(t *testing.T, req models.RevokeRequest) map[string]interface{} {
	t.Helper()
	payload, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/oauth/revoke", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	e.revoke.HandleRevoke(context.Background(), rec, httpReq)
	require.Equal(t, 200, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func (e *revokeEnv) introspect(t *testing.T, token string) models.IntrospectResponse {
	t.Helper()
	payload, _ := json.Marshal(models.IntrospectRequest{Token: token})
	httpReq := httptest.NewRequest("POST", "/oauth/introspect", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	e.revoke.HandleIntrospect(context.Background(), rec, httpReq)
	require.Equal(t, 200, rec.Code)

	var body models.IntrospectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestIntrospectAccessToken(t *testing.T) {
	env := newRevokeEnv(t)
	pair := env.issuePair(t)

	resp := env.introspect(t, pair["access_token"].(string))
	require.True(t, resp.Active)
	require.Equal(t, "orders:read", resp.Scope)
	require.Equal(t, env.app.ClientID, resp.ClientID)
	require.Equal(t, "3", resp.Subject)
	require.Equal(t, "access_token", resp.TokenType)
	require.Greater(t, resp.ExpiresAt, time.Now().Unix())
}

func TestIntrospectRefreshToken(t *testing.T) {
	env := newRevokeEnv(t)
	pair := env.issuePair(t)

	resp := env.introspect(t, pair["refresh_token"].(string))
	require.True(t, resp.Active)
	require.Equal(t, "refresh_token", resp.TokenType)
	require.Equal(t, "orders:read", resp.Scope)
}

func TestRevokeRefreshToken(t *testing.T) {
	env := newRevokeEnv(t)
	pair := env.issuePair(t)
	refreshToken := pair["refresh_token"].(string)

	env.postRevoke(t, models.RevokeRequest{Token: refreshToken})

	require.False(t, env.introspect(t, refreshToken).Active)
	// Revoking the issuance record also kills the paired access token
	require.False(t, env.introspect(t, pair["access_token"].(string)).Active)

	// And the revoked refresh token cannot be exchanged
	status, body := postToken(t, env.token, models.TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
		ClientID:     env.app.ClientID,
		ClientSecret: env.secret,
	})
	require.Equal(t, 400, status)
	require.Equal(t, "invalid_grant", body["error"])
}

func TestRevokeAccessToken(t *testing.T) {
	env := newRevokeEnv(t)
	pair := env.issuePair(t)
	accessToken := pair["access_token"].(string)

	env.postRevoke(t, models.RevokeRequest{Token: accessToken})
	require.False(t, env.introspect(t, accessToken).Active)
}

func TestRevokeHonorsRefreshHint(t *testing.T) {
	env := newRevokeEnv(t)
	pair := env.issuePair(t)
	refreshToken := pair["refresh_token"].(string)

	env.postRevoke(t, models.RevokeRequest{Token: refreshToken, TokenTypeHint: "refresh_token"})
	require.False(t, env.introspect(t, refreshToken).Active)
}

func TestRevokeIdempotentAndOracleFree(t *testing.T) {
	env := newRevokeEnv(t)
	pair := env.issuePair(t)
	refreshToken := pair["refresh_token"].(string)

	// Real token, unknown token, garbage, and a replay all answer identically
	first := env.postRevoke(t, models.RevokeRequest{Token: refreshToken})
	again := env.postRevoke(t, models.RevokeRequest{Token: refreshToken})
	unknown := env.postRevoke(t, models.RevokeRequest{Token: "never-issued"})
	garbage := env.postRevoke(t, models.RevokeRequest{Token: "!!not.a.jwt!!"})

	require.Equal(t, first, again)
	require.Equal(t, first, unknown)
	require.Equal(t, first, garbage)

	require.False(t, env.introspect(t, refreshToken).Active)
}

func TestRevokeAndIntrospectFormEncoded(t *testing.T) {
	env := newRevokeEnv(t)
	pair := env.issuePair(t)
	refreshToken := pair["refresh_token"].(string)

	// A live token introspected via a form body comes back active
	form := url.Values{}
	form.Set("token", pair["access_token"].(string))
	req := httptest.NewRequest("POST", "/oauth/introspect", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.revoke.HandleIntrospect(context.Background(), rec, req)
	require.Equal(t, 200, rec.Code)
	var resp models.IntrospectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Active)

	// A form-encoded revocation actually takes effect
	form = url.Values{}
	form.Set("token", refreshToken)
	form.Set("token_type_hint", "refresh_token")
	req = httptest.NewRequest("POST", "/oauth/revoke", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	env.revoke.HandleRevoke(context.Background(), rec, req)
	require.Equal(t, 200, rec.Code)

	require.False(t, env.introspect(t, refreshToken).Active)
}

func TestIntrospectNeverErrors(t *testing.T) {
	env := newRevokeEnv(t)

	for _, token := range []string{"", "garbage", "a.b.c", "!!not.a.jwt!!"} {
		resp := env.introspect(t, token)
		require.False(t, resp.Active)
		require.Empty(t, resp.Scope)
		require.Empty(t, resp.ClientID)
	}
}

func TestIntrospectForeignSignatureInactive(t *testing.T) {
	env := newRevokeEnv(t)

	// Token signed with a different key must come back inactive
	foreign := tokens.NewSigner("some-other-key", "http://auth.test", time.Hour)
	token, _, _, err := foreign.Sign(3, env.app.ClientID, "orders:read")
	require.NoError(t, err)

	require.False(t, env.introspect(t, token).Active)
}

func TestIntrospectExpiredRefreshTokenInactive(t *testing.T) {
	env := newRevokeEnv(t)
	pair := env.issuePair(t)
	refreshToken := pair["refresh_token"].(string)

	_, err := env.db.Exec(
		"UPDATE oauth_tokens SET refresh_expires_at = ? WHERE refresh_token = ?",
		time.Now().Add(-time.Hour), refreshToken)
	require.NoError(t, err)

	require.False(t, env.introspect(t, refreshToken).Active)
}

func TestServerMetadata(t *testing.T) {
	cfg := config.NewConfig()
	h := NewMetadataHandler(cfg)

	req := httptest.NewRequest("GET", "/.well-known/oauth-authorization-server", nil)
	rec := httptest.NewRecorder()
	h.HandleMetadata(context.Background(), rec, req)

	require.Equal(t, 200, rec.Code)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, cfg.Issuer, doc["issuer"])
	require.Equal(t, cfg.Issuer+"/oauth/token", doc["token_endpoint"])
	require.Equal(t, cfg.Issuer+"/oauth/authorize", doc["authorization_endpoint"])
	require.Contains(t, doc, "revocation_endpoint")
	require.Contains(t, doc, "introspection_endpoint")
	require.ElementsMatch(t, []interface{}{"code"}, doc["response_types_supported"])
	require.ElementsMatch(t, []interface{}{"authorization_code", "refresh_token"}, doc["grant_types_supported"])
	require.ElementsMatch(t, []interface{}{"S256", "plain"}, doc["code_challenge_methods_supported"])
}
