package handlers

import (
	"context"
	"net/http"

	"oauth-server/config"
	"oauth-server/credentials"
)

// MetadataHandler serves GET /.well-known/oauth-authorization-server
// (RFC 8414). The document is static per process, built once from config.
type MetadataHandler struct {
	doc map[string]interface{}
}

// NewMetadataHandler builds the discovery document
func NewMetadataHandler(cfg *config.Config) *MetadataHandler {
	issuer := cfg.Issuer
	return &MetadataHandler{
		doc: map[string]interface{}{
			"issuer":                                issuer,
			"authorization_endpoint":                issuer + "/oauth/authorize",
			"token_endpoint":                        issuer + "/oauth/token",
			"revocation_endpoint":                   issuer + "/oauth/revoke",
			"introspection_endpoint":                issuer + "/oauth/introspect",
			"registration_endpoint":                 issuer + "/oauth/clients",
			"response_types_supported":              []string{"code"},
			"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
			"token_endpoint_auth_methods_supported": []string{"client_secret_post"},
			"code_challenge_methods_supported":      []string{credentials.PKCEMethodS256, credentials.PKCEMethodPlain},
			"scopes_supported":                      cfg.SupportedScopes,
		},
	}
}

// HandleMetadata handles GET /.well-known/oauth-authorization-server
func (h *MetadataHandler) HandleMetadata(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.doc)
}
