// Package platform holds the two narrow contracts this subsystem consumes
// from the rest of the system: "is OAuth enabled for tenant T" and "who is
// the authenticated end user". Provisioning of tenants, users, and sessions
// is owned elsewhere; this package only reads.
package platform

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	sessionCookieName = "session_id"
	sessionKeyPrefix  = "session:"
	tenantFlagPrefix  = "tenant_flags:"

	// DefaultTenantID is used when the request carries no tenant header
	DefaultTenantID = "default"

	// TenantHeader carries the tenant identifier set by the routing layer
	TenantHeader = "X-Tenant-ID"
)

// Cache is the subset of the go-utils cache these lookups need
type Cache interface {
	Get(key string) (interface{}, error)
	Set(key string, value interface{}, expiry time.Duration) error
	Delete(key string) error
}

// TenantFlags answers whether OAuth is enabled for a tenant
type TenantFlags interface {
	OAuthEnabled(tenantID string) bool
}

// Sessions resolves the authenticated end user for a request
type Sessions interface {
	UserID(r *http.Request) (int, error)
}

// CacheTenantFlags reads the per-tenant OAuth flag from the shared cache.
// The flag is a kill switch written by the provisioning subsystem: a missing
// key means enabled, an explicit "false"/"0" means disabled.
type CacheTenantFlags struct {
	cache Cache
}

func NewCacheTenantFlags(cache Cache) *CacheTenantFlags {
	return &CacheTenantFlags{cache: cache}
}

func (f *CacheTenantFlags) OAuthEnabled(tenantID string) bool {
	if tenantID == "" {
		tenantID = DefaultTenantID
	}
	raw, err := f.cache.Get(tenantFlagPrefix + tenantID + ":oauth_enabled")
	if err != nil {
		return true
	}
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		return v != "false" && v != "0"
	}
	return true
}

// TenantID extracts the tenant identifier the routing layer attached
func TenantID(r *http.Request) string {
	if id := r.Header.Get(TenantHeader); id != "" {
		return id
	}
	return DefaultTenantID
}

// CacheSessions resolves the session cookie against the shared session
// store. Session payloads are JSON objects written by the platform's
// authentication layer; only user_id is read here.
type CacheSessions struct {
	cache Cache
}

func NewCacheSessions(cache Cache) *CacheSessions {
	return &CacheSessions{cache: cache}
}

func (s *CacheSessions) UserID(r *http.Request) (int, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return 0, fmt.Errorf("no session cookie")
	}

	raw, err := s.cache.Get(sessionKeyPrefix + cookie.Value)
	if err != nil {
		return 0, fmt.Errorf("session expired or invalid")
	}

	var sessionData map[string]interface{}
	switch v := raw.(type) {
	case string:
		if err := json.Unmarshal([]byte(v), &sessionData); err != nil {
			return 0, fmt.Errorf("invalid session data")
		}
	case []byte:
		if err := json.Unmarshal(v, &sessionData); err != nil {
			return 0, fmt.Errorf("invalid session data")
		}
	case map[string]interface{}:
		sessionData = v
	default:
		return 0, fmt.Errorf("unexpected session type")
	}

	switch uid := sessionData["user_id"].(type) {
	case float64:
		return int(uid), nil
	case int:
		return uid, nil
	case json.Number:
		id, _ := uid.Int64()
		return int(id), nil
	}
	return 0, fmt.Errorf("invalid user_id in session")
}
