package models

import (
	"encoding/json"
	"strings"
	"time"
)

// OAuthApplication represents a registered OAuth client application
// The client secret is stored only as a bcrypt hash; the plaintext is
// returned exactly once, at registration.
type OAuthApplication struct {
	ID               int       `json:"id" db:"id"`
	ClientID         string    `json:"client_id" db:"client_id"`
	ClientSecretHash string    `json:"-" db:"client_secret_hash"` // Never serialized
	Name             string    `json:"name" db:"name"`
	Description      string    `json:"description" db:"description"`
	RedirectURIs     string    `json:"redirect_uris" db:"redirect_uris"` // JSON array of exact-match absolute URIs
	Scopes           string    `json:"scopes" db:"scopes"`               // Space-delimited allowed scopes
	GrantTypes       string    `json:"grant_types" db:"grant_types"`     // JSON array, subset of authorization_code/refresh_token
	IsTrusted        bool      `json:"is_trusted" db:"is_trusted"`       // Trusted apps skip the consent step
	IsActive         bool      `json:"is_active" db:"is_active"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// RedirectURIList decodes the stored JSON redirect URI array
func (a *OAuthApplication) RedirectURIList() []string {
	var uris []string
	json.Unmarshal([]byte(a.RedirectURIs), &uris)
	return uris
}

// HasRedirectURI reports whether uri is an exact member of the registered set.
// No prefix or wildcard matching.
func (a *OAuthApplication) HasRedirectURI(uri string) bool {
	for _, registered := range a.RedirectURIList() {
		if registered == uri {
			return true
		}
	}
	return false
}

// GrantTypeList decodes the stored JSON grant type array
func (a *OAuthApplication) GrantTypeList() []string {
	var grants []string
	json.Unmarshal([]byte(a.GrantTypes), &grants)
	return grants
}

// AllowsGrantType reports whether the application may use the given grant
func (a *OAuthApplication) AllowsGrantType(gt GrantType) bool {
	for _, g := range a.GrantTypeList() {
		if g == string(gt) {
			return true
		}
	}
	return false
}

// ScopeList splits the space-delimited allowed scopes
func (a *OAuthApplication) ScopeList() []string {
	return strings.Fields(a.Scopes)
}

// CreateApplicationRequest represents the request to register a new application
type CreateApplicationRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	RedirectURIs []string `json:"redirect_uris"`
	Scopes       string   `json:"scopes,omitempty"`      // Space-delimited; e.g. "orders:read products:read"
	GrantTypes   []string `json:"grant_types,omitempty"` // Default: authorization_code, refresh_token
	IsTrusted    bool     `json:"is_trusted,omitempty"`
}

// UpdateApplicationRequest represents the request to update an application.
// Pointer fields distinguish "not provided" from zero values.
type UpdateApplicationRequest struct {
	Name         *string  `json:"name,omitempty"`
	Description  *string  `json:"description,omitempty"`
	RedirectURIs []string `json:"redirect_uris,omitempty"`
	Scopes       *string  `json:"scopes,omitempty"`
	GrantTypes   []string `json:"grant_types,omitempty"`
	IsTrusted    *bool    `json:"is_trusted,omitempty"`
}

// ApplicationResponse is the registry's view of an application.
// ClientSecret is only populated on the registration response.
type ApplicationResponse struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret,omitempty"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	RedirectURIs []string  `json:"redirect_uris"`
	Scopes       string    `json:"scopes"`
	GrantTypes   []string  `json:"grant_types"`
	IsTrusted    bool      `json:"is_trusted"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AllowedGrantTypes is the closed set of grants this server supports
var AllowedGrantTypes = map[string]bool{
	"authorization_code": true,
	"refresh_token":      true,
}
