package config

import (
	"os"
	"time"
)

// Config holds the authorization server configuration
type Config struct {
	Port          string
	DatabasePath  string
	MigrationsDir string
	RedisAddr     string
	RedisPassword string

	// Issuer is the external base URL of this server, used in the
	// discovery document and as the "iss" claim of access tokens.
	Issuer string

	// TokenSigningKey signs access-token JWTs (HS256)
	TokenSigningKey string

	// LoginURL is where unauthenticated users are sent from /oauth/authorize
	LoginURL string

	AuthCodeTTL     time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// SupportedScopes is advertised in the discovery document
	SupportedScopes []string
}

// NewConfig creates a new Config with default or environment values
func NewConfig() *Config {
	return &Config{
		Port:            getEnv("PORT", "8080"),
		DatabasePath:    getEnv("DATABASE_PATH", "./oauth_server.db"),
		MigrationsDir:   getEnv("MIGRATIONS_DIR", "./database/migrations"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		Issuer:          getEnv("ISSUER", "http://localhost:8080"),
		TokenSigningKey: getEnv("TOKEN_SIGNING_KEY", "dev-signing-key-change-me"),
		LoginURL:        getEnv("LOGIN_URL", "/login"),
		AuthCodeTTL:     10 * time.Minute,
		AccessTokenTTL:  1 * time.Hour,
		RefreshTokenTTL: 30 * 24 * time.Hour, // 30 days
		SupportedScopes: []string{"orders:read", "orders:write", "products:read", "products:write", "customers:read"},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
