package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"oauth-server/credentials"
	"oauth-server/models"
	"oauth-server/tokens"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	logger "github.com/umakantv/go-utils/logger"
)

func TestMain(m *testing.M) {
	logger.Init(logger.LoggerConfig{
		CallerKey:  "file",
		TimeKey:    "timestamp",
		CallerSkip: 1,
	})
	os.Exit(m.Run())
}

// memCache is a map-backed stand-in for the Redis cache
type memCache struct {
	mu   sync.Mutex
	data map[string]interface{}
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string]interface{})}
}

func (c *memCache) Get(key string) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", key)
	}
	return v, nil
}

func (c *memCache) Set(key string, value interface{}, expiry time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// stubSessions resolves every request to a fixed user
type stubSessions struct {
	userID int
	err    error
}

func (s *stubSessions) UserID(r *http.Request) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.userID, nil
}

// allowAllFlags reports OAuth enabled for every tenant
type allowAllFlags struct{}

func (allowAllFlags) OAuthEnabled(tenantID string) bool { return true }

// deniedFlags reports OAuth disabled for every tenant
type deniedFlags struct{}

func (deniedFlags) OAuthEnabled(tenantID string) bool { return false }

// newTestDB opens an in-memory SQLite database with the OAuth schema.
// Single connection so concurrent handler calls serialize at the store, the
// same way row-level locking serializes them in production.
func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	const migrationsDir = "../database/migrations"
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		schema, err := os.ReadFile(filepath.Join(migrationsDir, entry.Name()))
		if err != nil {
			t.Fatalf("read schema %s: %v", entry.Name(), err)
		}
		if _, err := db.Exec(string(schema)); err != nil {
			t.Fatalf("apply schema %s: %v", entry.Name(), err)
		}
	}
	return db
}

func newTestSigner() *tokens.Signer {
	return tokens.NewSigner("test-signing-key", "http://auth.test", time.Hour)
}

type testAppOpts struct {
	redirectURIs []string
	scopes       string
	grantTypes   []string
	trusted      bool
}

// createTestApp registers an application directly in the store and returns
// it together with the plaintext secret.
func createTestApp(t *testing.T, db *sqlx.DB, hasher credentials.SecretHasher, opts testAppOpts) (*models.OAuthApplication, string) {
	t.Helper()

	if opts.redirectURIs == nil {
		opts.redirectURIs = []string{"https://app.example.com/cb"}
	}
	if opts.scopes == "" {
		opts.scopes = "orders:read orders:write"
	}
	if opts.grantTypes == nil {
		opts.grantTypes = []string{"authorization_code", "refresh_token"}
	}

	clientID, err := generateClientID()
	if err != nil {
		t.Fatalf("generate client id: %v", err)
	}
	clientSecret, err := generateClientSecret()
	if err != nil {
		t.Fatalf("generate client secret: %v", err)
	}
	secretHash, err := hasher.Hash(clientSecret)
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}

	urisJSON, _ := json.Marshal(opts.redirectURIs)
	grantsJSON, _ := json.Marshal(opts.grantTypes)
	now := time.Now()

	_, err = db.Exec(`
		INSERT INTO oauth_applications (
			client_id, client_secret_hash, name, description, redirect_uris,
			scopes, grant_types, is_trusted, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		clientID, secretHash, "Test App", "An integration used in tests",
		string(urisJSON), opts.scopes, string(grantsJSON), opts.trusted, true, now, now,
	)
	if err != nil {
		t.Fatalf("insert application: %v", err)
	}

	app := &models.OAuthApplication{
		ClientID:         clientID,
		ClientSecretHash: secretHash,
		Name:             "Test App",
		RedirectURIs:     string(urisJSON),
		Scopes:           opts.scopes,
		GrantTypes:       string(grantsJSON),
		IsTrusted:        opts.trusted,
		IsActive:         true,
	}
	return app, clientSecret
}

// insertTestCode persists an authorization code row and returns the code
func insertTestCode(t *testing.T, db *sqlx.DB, code models.AuthCode) string {
	t.Helper()

	if code.Code == "" {
		generated, err := credentials.GenerateOpaqueToken(32)
		if err != nil {
			t.Fatalf("generate code: %v", err)
		}
		code.Code = generated
	}
	if code.ExpiresAt.IsZero() {
		code.ExpiresAt = time.Now().Add(10 * time.Minute)
	}

	_, err := db.Exec(`
		INSERT INTO oauth_auth_codes (
			code, client_id, user_id, scopes, redirect_uri,
			code_challenge, code_challenge_method, expires_at, is_used, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code.Code, code.ClientID, code.UserID, code.Scopes, code.RedirectURI,
		code.CodeChallenge, code.CodeChallengeMethod, code.ExpiresAt, code.IsUsed, time.Now(),
	)
	if err != nil {
		t.Fatalf("insert auth code: %v", err)
	}
	return code.Code
}
