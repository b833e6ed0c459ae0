package models

import "time"

// GrantType is the closed set of token-endpoint grants. Dispatch happens
// once at the endpoint boundary; each arm implements the same
// (request) -> (response | error) contract.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
)

// Token is a persisted issuance record: one row per access/refresh token
// pair. The access token itself is a stateless JWT identified here by its
// jti (TokenID); the refresh token is the opaque value stored verbatim.
// Revocation and refresh rotation both set IsRevoked, never delete.
type Token struct {
	ID               int       `json:"id" db:"id"`
	TokenID          string    `json:"token_id" db:"token_id"` // jti of the access JWT
	RefreshToken     string    `json:"refresh_token" db:"refresh_token"`
	ClientID         string    `json:"client_id" db:"client_id"`
	UserID           int       `json:"user_id" db:"user_id"`
	Scopes           string    `json:"scopes" db:"scopes"`
	AccessExpiresAt  time.Time `json:"access_expires_at" db:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at" db:"refresh_expires_at"`
	IsRevoked        bool      `json:"is_revoked" db:"is_revoked"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// TokenRequest represents the POST /oauth/token request body (JSON or form)
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// TokenResponse is the standard OAuth2 response for /oauth/token
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"` // "Bearer"
	ExpiresIn    int    `json:"expires_in"` // seconds
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// RevokeRequest is the POST /oauth/revoke body (RFC 7009)
type RevokeRequest struct {
	Token         string `json:"token"`
	TokenTypeHint string `json:"token_type_hint,omitempty"`
}

// IntrospectRequest is the POST /oauth/introspect body
type IntrospectRequest struct {
	Token string `json:"token"`
}

// IntrospectResponse follows RFC 7662: active:false with no other fields for
// anything invalid, expired, revoked, or unparseable.
type IntrospectResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
}
