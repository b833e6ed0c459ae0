package models

import "time"

// AuthCode represents a single-use authorization code for the code grant.
// Stored in the database so consumption can be a guarded conditional update;
// IsUsed only ever transitions false -> true, inside the token exchange.
type AuthCode struct {
	ID                  int       `json:"id" db:"id"`
	Code                string    `json:"code" db:"code"`
	ClientID            string    `json:"client_id" db:"client_id"`
	UserID              int       `json:"user_id" db:"user_id"`
	Scopes              string    `json:"scopes" db:"scopes"`
	RedirectURI         string    `json:"redirect_uri" db:"redirect_uri"` // Re-checked byte-for-byte at exchange
	CodeChallenge       string    `json:"code_challenge,omitempty" db:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty" db:"code_challenge_method"`
	ExpiresAt           time.Time `json:"expires_at" db:"expires_at"`
	IsUsed              bool      `json:"is_used" db:"is_used"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}

// IsExpired reports whether the code's TTL has passed
func (c *AuthCode) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// PendingAuthRequest is a validated authorization request awaiting the user's
// consent decision. Persisted keyed by RequestID so the PKCE challenge and
// resolved scopes cannot be tampered with between validation and consent;
// IsConsumed transitions false -> true exactly once, like AuthCode.IsUsed.
type PendingAuthRequest struct {
	ID                  int       `json:"id" db:"id"`
	RequestID           string    `json:"request_id" db:"request_id"`
	ClientID            string    `json:"client_id" db:"client_id"`
	UserID              int       `json:"user_id" db:"user_id"`
	Scopes              string    `json:"scopes" db:"scopes"` // Resolved: requested, or the app's full allowed set
	RedirectURI         string    `json:"redirect_uri" db:"redirect_uri"`
	State               string    `json:"state" db:"state"`
	CodeChallenge       string    `json:"code_challenge,omitempty" db:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty" db:"code_challenge_method"`
	ExpiresAt           time.Time `json:"expires_at" db:"expires_at"`
	IsConsumed          bool      `json:"is_consumed" db:"is_consumed"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}

// ConsentPayload is returned from GET /oauth/authorize for untrusted
// applications so the platform UI can render the consent screen.
type ConsentPayload struct {
	RequestID       string   `json:"request_id"`
	ClientID        string   `json:"client_id"`
	ClientName      string   `json:"client_name"`
	Description     string   `json:"description,omitempty"`
	RequestedScopes []string `json:"requested_scopes"`
	State           string   `json:"state,omitempty"`
}

// ConsentDecision is the POST /oauth/authorize/consent body.
// Scopes optionally narrows the grant to a subset of the requested scopes.
type ConsentDecision struct {
	RequestID string   `json:"request_id"`
	Approved  bool     `json:"approved"`
	Scopes    []string `json:"scopes,omitempty"`
}
