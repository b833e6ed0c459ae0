package handlers

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"oauth-server/credentials"
	"oauth-server/models"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/umakantv/go-utils/errs"
	"go.uber.org/zap"
)

const clientListCacheKey = "oauth_clients:list"

// OAuthClientHandler handles application registry operations: registration,
// lookup, update, and soft-deactivation of OAuth client applications.
type OAuthClientHandler struct {
	db     *sqlx.DB
	cache  Cache
	hasher credentials.SecretHasher
}

// NewOAuthClientHandler creates a new registry handler
func NewOAuthClientHandler(db *sqlx.DB, cache Cache, hasher credentials.SecretHasher) *OAuthClientHandler {
	return &OAuthClientHandler{
		db:     db,
		cache:  cache,
		hasher: hasher,
	}
}

// generateClientID generates a cryptographically secure client ID
func generateClientID() (string, error) {
	b := make([]byte, 16) // 32 hex chars
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate client ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// generateClientSecret generates a cryptographically secure client secret
func generateClientSecret() (string, error) {
	b := make([]byte, 32) // 64 hex chars
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate client secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// validateRedirectURIs validates that all redirect URIs are valid absolute URLs
func validateRedirectURIs(uris []string) error {
	if len(uris) == 0 {
		return fmt.Errorf("at least one redirect_uri is required")
	}
	for _, uri := range uris {
		// url.Parse, not ParseRequestURI: the latter assumes the fragment
		// is already stripped and would never report one
		u, err := url.Parse(uri)
		if err != nil {
			return fmt.Errorf("invalid redirect_uri %q: %v", uri, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("redirect_uri %q must be an absolute URL with scheme and host", uri)
		}
		if u.Fragment != "" {
			return fmt.Errorf("redirect_uri %q must not contain a fragment", uri)
		}
	}
	return nil
}

// validateGrantTypes validates the requested grant types
func validateGrantTypes(grantTypes []string) error {
	for _, gt := range grantTypes {
		if !models.AllowedGrantTypes[gt] {
			return fmt.Errorf("invalid grant_type %q; allowed: authorization_code, refresh_token", gt)
		}
	}
	return nil
}

// lookupActiveApplication fetches an application by client_id, active only.
// Callers must treat sql.ErrNoRows for missing and inactive applications
// identically so existence is never leaked.
func lookupActiveApplication(db *sqlx.DB, clientID string) (*models.OAuthApplication, error) {
	var app models.OAuthApplication
	err := db.Get(&app, `
		SELECT id, client_id, client_secret_hash, name, description, redirect_uris,
			scopes, grant_types, is_trusted, is_active, created_at, updated_at
		FROM oauth_applications WHERE client_id = ? AND is_active = 1`, clientID)
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func applicationResponse(app *models.OAuthApplication) models.ApplicationResponse {
	return models.ApplicationResponse{
		ClientID:     app.ClientID,
		Name:         app.Name,
		Description:  app.Description,
		RedirectURIs: app.RedirectURIList(),
		Scopes:       app.Scopes,
		GrantTypes:   app.GrantTypeList(),
		IsTrusted:    app.IsTrusted,
		IsActive:     app.IsActive,
		CreatedAt:    app.CreatedAt,
		UpdatedAt:    app.UpdatedAt,
	}
}

// RegisterClient handles POST /oauth/clients
// The plaintext secret appears in this response and nowhere else, ever;
// only the bcrypt hash is stored.
func (h *OAuthClientHandler) RegisterClient(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	logRequest(ctx, "info", "Register OAuth application")

	var req models.CreateApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errs.NewValidationError("Invalid JSON"))
		return
	}

	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errs.NewValidationError("name is required"))
		return
	}
	if err := validateRedirectURIs(req.RedirectURIs); err != nil {
		writeJSON(w, http.StatusBadRequest, errs.NewValidationError(err.Error()))
		return
	}
	if len(req.GrantTypes) == 0 {
		req.GrantTypes = []string{"authorization_code", "refresh_token"}
	}
	if err := validateGrantTypes(req.GrantTypes); err != nil {
		writeJSON(w, http.StatusBadRequest, errs.NewValidationError(err.Error()))
		return
	}

	clientID, err := generateClientID()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errs.NewInternalServerError("Failed to generate client credentials"))
		return
	}
	clientSecret, err := generateClientSecret()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errs.NewInternalServerError("Failed to generate client credentials"))
		return
	}
	secretHash, err := h.hasher.Hash(clientSecret)
	if err != nil {
		logRequest(ctx, "error", "Failed to hash client secret", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errs.NewInternalServerError("Failed to generate client credentials"))
		return
	}

	redirectURIsJSON, _ := json.Marshal(req.RedirectURIs)
	grantTypesJSON, _ := json.Marshal(req.GrantTypes)
	now := time.Now()

	_, err = h.db.Exec(`
		INSERT INTO oauth_applications (
			client_id, client_secret_hash, name, description, redirect_uris,
			scopes, grant_types, is_trusted, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		clientID, secretHash, req.Name, req.Description, string(redirectURIsJSON),
		req.Scopes, string(grantTypesJSON), req.IsTrusted, now, now,
	)
	if err != nil {
		logRequest(ctx, "error", "Failed to register application", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errs.NewInternalServerError("Failed to register application"))
		return
	}

	h.cache.Delete(clientListCacheKey)

	logRequest(ctx, "info", "OAuth application registered",
		zap.String("client_id", clientID), zap.Bool("trusted", req.IsTrusted))

	resp := models.ApplicationResponse{
		ClientID:     clientID,
		ClientSecret: clientSecret, // Plaintext, exactly once
		Name:         req.Name,
		Description:  req.Description,
		RedirectURIs: req.RedirectURIs,
		Scopes:       req.Scopes,
		GrantTypes:   req.GrantTypes,
		IsTrusted:    req.IsTrusted,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetClient handles GET /oauth/clients/{client_id}
// Missing and inactive applications both return 404.
func (h *OAuthClientHandler) GetClient(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]

	app, err := lookupActiveApplication(h.db, clientID)
	if err == sql.ErrNoRows {
		writeJSON(w, http.StatusNotFound, errs.NewNotFoundError("Application not found"))
		return
	}
	if err != nil {
		logRequest(ctx, "error", "Application lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errs.NewInternalServerError("Database error"))
		return
	}

	writeJSON(w, http.StatusOK, applicationResponse(app))
}

// UpdateClient handles PATCH /oauth/clients/{client_id}
func (h *OAuthClientHandler) UpdateClient(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]

	var req models.UpdateApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errs.NewValidationError("Invalid JSON"))
		return
	}

	app, err := lookupActiveApplication(h.db, clientID)
	if err == sql.ErrNoRows {
		writeJSON(w, http.StatusNotFound, errs.NewNotFoundError("Application not found"))
		return
	}
	if err != nil {
		logRequest(ctx, "error", "Application lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errs.NewInternalServerError("Database error"))
		return
	}

	if req.Name != nil {
		app.Name = *req.Name
	}
	if req.Description != nil {
		app.Description = *req.Description
	}
	if req.RedirectURIs != nil {
		if err := validateRedirectURIs(req.RedirectURIs); err != nil {
			writeJSON(w, http.StatusBadRequest, errs.NewValidationError(err.Error()))
			return
		}
		urisJSON, _ := json.Marshal(req.RedirectURIs)
		app.RedirectURIs = string(urisJSON)
	}
	if req.Scopes != nil {
		app.Scopes = *req.Scopes
	}
	if req.GrantTypes != nil {
		if err := validateGrantTypes(req.GrantTypes); err != nil {
			writeJSON(w, http.StatusBadRequest, errs.NewValidationError(err.Error()))
			return
		}
		grantsJSON, _ := json.Marshal(req.GrantTypes)
		app.GrantTypes = string(grantsJSON)
	}
	if req.IsTrusted != nil {
		app.IsTrusted = *req.IsTrusted
	}
	app.UpdatedAt = time.Now()

	_, err = h.db.Exec(`
		UPDATE oauth_applications
		SET name = ?, description = ?, redirect_uris = ?, scopes = ?,
			grant_types = ?, is_trusted = ?, updated_at = ?
		WHERE client_id = ? AND is_active = 1`,
		app.Name, app.Description, app.RedirectURIs, app.Scopes,
		app.GrantTypes, app.IsTrusted, app.UpdatedAt, clientID,
	)
	if err != nil {
		logRequest(ctx, "error", "Failed to update application", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errs.NewInternalServerError("Failed to update application"))
		return
	}

	h.cache.Delete(clientListCacheKey)

	logRequest(ctx, "info", "OAuth application updated", zap.String("client_id", clientID))
	writeJSON(w, http.StatusOK, applicationResponse(app))
}

// DeactivateClient handles DELETE /oauth/clients/{client_id}
// Applications are soft-deactivated, never hard-deleted, because issued
// tokens keep referencing them. Idempotent.
func (h *OAuthClientHandler) DeactivateClient(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]

	_, err := h.db.Exec(
		"UPDATE oauth_applications SET is_active = 0, updated_at = ? WHERE client_id = ?",
		time.Now(), clientID,
	)
	if err != nil {
		logRequest(ctx, "error", "Failed to deactivate application", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errs.NewInternalServerError("Failed to deactivate application"))
		return
	}

	h.cache.Delete(clientListCacheKey)

	logRequest(ctx, "info", "OAuth application deactivated", zap.String("client_id", clientID))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ListClients handles GET /oauth/clients - active applications only,
// served from cache when possible
func (h *OAuthClientHandler) ListClients(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if cached, err := h.cache.Get(clientListCacheKey); err == nil {
		if body, ok := cached.(string); ok {
			logRequest(ctx, "debug", "Serving application list from cache")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(body))
			return
		}
	}

	var apps []models.OAuthApplication
	err := h.db.Select(&apps, `
		SELECT id, client_id, client_secret_hash, name, description, redirect_uris,
			scopes, grant_types, is_trusted, is_active, created_at, updated_at
		FROM oauth_applications WHERE is_active = 1 ORDER BY created_at`)
	if err != nil {
		logRequest(ctx, "error", "Failed to list applications", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errs.NewInternalServerError("Database error"))
		return
	}

	resp := make([]models.ApplicationResponse, 0, len(apps))
	for i := range apps {
		resp = append(resp, applicationResponse(&apps[i]))
	}

	body, _ := json.Marshal(resp)
	h.cache.Set(clientListCacheKey, string(body), 5*time.Minute)

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
