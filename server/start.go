package server

import (
	"context"
	"net/http"
	"os"

	cachepackage "oauth-server/cache"
	"oauth-server/config"
	"oauth-server/credentials"
	"oauth-server/database"
	"oauth-server/handlers"
	"oauth-server/platform"
	"oauth-server/tokens"

	"github.com/umakantv/go-utils/httpserver"
	"github.com/umakantv/go-utils/logger"
	"go.uber.org/zap"
)

// checkAuth is the service-level auth hook for the admin registry routes.
// The OAuth protocol endpoints authenticate per the protocol (client secret,
// session cookie) and register with AuthType "none".
func checkAuth(r *http.Request) (bool, httpserver.RequestAuth) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return false, httpserver.RequestAuth{}
	}

	if len(auth) > 7 && auth[:7] == "Bearer " {
		token := auth[7:]
		if token == os.Getenv("ADMIN_API_TOKEN") && token != "" {
			return true, httpserver.RequestAuth{
				Type:   "bearer",
				Client: "partner-admin",
				Claims: map[string]interface{}{"role": "admin"},
			}
		}
	}

	return false, httpserver.RequestAuth{}
}

func StartServer() {
	// Initialize logger
	logger.Init(logger.LoggerConfig{
		CallerKey:  "file",
		TimeKey:    "timestamp",
		CallerSkip: 1,
	})

	logger.Info("Starting OAuth Authorization Server...")

	cfg := config.NewConfig()

	// Initialize database
	dbConn := database.InitializeDatabase(cfg)
	defer dbConn.Close()

	// Initialize cache
	cache := cachepackage.InitializeCache(cfg)
	defer cache.Close()

	hasher := &credentials.BcryptHasher{}
	signer := tokens.NewSigner(cfg.TokenSigningKey, cfg.Issuer, cfg.AccessTokenTTL)
	sessions := platform.NewCacheSessions(cache)
	flags := platform.NewCacheTenantFlags(cache)

	clientHandler := handlers.NewOAuthClientHandler(dbConn, cache, hasher)
	authorizeHandler := handlers.NewOAuthAuthorizeHandler(dbConn, sessions, flags, cfg.AuthCodeTTL, cfg.LoginURL)
	tokenHandler := handlers.NewOAuthTokenHandler(dbConn, hasher, signer, flags, cfg.RefreshTokenTTL)
	revokeHandler := handlers.NewOAuthRevokeHandler(dbConn, signer)
	metadataHandler := handlers.NewMetadataHandler(cfg)

	// Create HTTP server with authentication
	server := httpserver.New(cfg.Port, checkAuth)

	server.Register(httpserver.Route{
		Name:     "HealthCheck",
		Method:   "GET",
		Path:     "/health",
		AuthType: "none",
	}, httpserver.HandlerFunc(func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "oauth-server"}`))
	}))

	// Application registry (admin token protected)
	server.Register(httpserver.Route{
		Name:     "RegisterClient",
		Method:   "POST",
		Path:     "/oauth/clients",
		AuthType: "bearer",
	}, httpserver.HandlerFunc(clientHandler.RegisterClient))

	server.Register(httpserver.Route{
		Name:     "ListClients",
		Method:   "GET",
		Path:     "/oauth/clients",
		AuthType: "bearer",
	}, httpserver.HandlerFunc(clientHandler.ListClients))

	server.Register(httpserver.Route{
		Name:     "GetClient",
		Method:   "GET",
		Path:     "/oauth/clients/{client_id}",
		AuthType: "bearer",
	}, httpserver.HandlerFunc(clientHandler.GetClient))

	server.Register(httpserver.Route{
		Name:     "UpdateClient",
		Method:   "PATCH",
		Path:     "/oauth/clients/{client_id}",
		AuthType: "bearer",
	}, httpserver.HandlerFunc(clientHandler.UpdateClient))

	server.Register(httpserver.Route{
		Name:     "DeactivateClient",
		Method:   "DELETE",
		Path:     "/oauth/clients/{client_id}",
		AuthType: "bearer",
	}, httpserver.HandlerFunc(clientHandler.DeactivateClient))

	// Protocol endpoints
	server.Register(httpserver.Route{
		Name:     "Authorize",
		Method:   "GET",
		Path:     "/oauth/authorize",
		AuthType: "none",
	}, httpserver.HandlerFunc(authorizeHandler.HandleAuthorize))

	server.Register(httpserver.Route{
		Name:     "Consent",
		Method:   "POST",
		Path:     "/oauth/authorize/consent",
		AuthType: "none",
	}, httpserver.HandlerFunc(authorizeHandler.HandleConsent))

	server.Register(httpserver.Route{
		Name:     "Token",
		Method:   "POST",
		Path:     "/oauth/token",
		AuthType: "none",
	}, httpserver.HandlerFunc(tokenHandler.HandleToken))

	server.Register(httpserver.Route{
		Name:     "Revoke",
		Method:   "POST",
		Path:     "/oauth/revoke",
		AuthType: "none",
	}, httpserver.HandlerFunc(revokeHandler.HandleRevoke))

	server.Register(httpserver.Route{
		Name:     "Introspect",
		Method:   "POST",
		Path:     "/oauth/introspect",
		AuthType: "none",
	}, httpserver.HandlerFunc(revokeHandler.HandleIntrospect))

	server.Register(httpserver.Route{
		Name:     "ServerMetadata",
		Method:   "GET",
		Path:     "/.well-known/oauth-authorization-server",
		AuthType: "none",
	}, httpserver.HandlerFunc(metadataHandler.HandleMetadata))

	logger.Info("OAuth Authorization Server started", zap.String("port", cfg.Port))
	logger.Info("Discovery: GET /.well-known/oauth-authorization-server")

	// Start server
	if err := server.Start(); err != nil {
		logger.Error("Server failed to start", zap.Error(err))
		os.Exit(1)
	}
}
