package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"oauth-server/models"

	"github.com/umakantv/go-utils/httpserver"
	logger "github.com/umakantv/go-utils/logger"
	"go.uber.org/zap"
)

// Cache is the subset of the go-utils cache the OAuth handlers use.
// Production wiring passes the Redis-backed go-utils cache; tests pass a
// map-backed fake.
type Cache interface {
	Get(key string) (interface{}, error)
	Set(key string, value interface{}, expiry time.Duration) error
	Delete(key string) error
}

// logRequest logs the request with the specified format.
// Shared package-level function to eliminate duplication between handlers.
// It reuses httpserver context utils for route/auth details and structured logging.
func logRequest(ctx context.Context, level string, message string, fields ...zap.Field) {
	routeName := httpserver.GetRouteName(ctx)
	method := httpserver.GetRouteMethod(ctx)
	path := httpserver.GetRoutePath(ctx)
	auth := httpserver.GetRequestAuth(ctx)

	// Build full message consistent with existing (timestamp - route - method - path - client)
	logMsg := time.Now().Format("2006-01-02 15:04:05") + " - " + routeName + " - " + method + " - " + path
	if auth != nil {
		logMsg += " - client:" + auth.Client
	}
	if message != "" {
		logMsg += " - " + message
	}

	allFields := append([]zap.Field{
		zap.String("route", routeName),
		zap.String("method", method),
		zap.String("path", path),
	}, fields...)

	switch level {
	case "info":
		logger.Info(logMsg, allFields...)
	case "error":
		logger.Error(logMsg, allFields...)
	case "debug":
		logger.Debug(logMsg, allFields...)
	}
}

// isFormEncoded reports whether the request body is form-encoded rather
// than JSON
func isFormEncoded(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded")
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeOAuthError writes an RFC 6749 error body. Token-endpoint errors are
// always direct JSON responses, never redirects.
func writeOAuthError(w http.ResponseWriter, err *models.OAuthError) {
	writeJSON(w, err.StatusCode(), err)
}

// scopeSubset reports whether every member of sub appears in super
func scopeSubset(sub, super []string) bool {
	allowed := make(map[string]bool, len(super))
	for _, s := range super {
		allowed[s] = true
	}
	for _, s := range sub {
		if !allowed[s] {
			return false
		}
	}
	return true
}
