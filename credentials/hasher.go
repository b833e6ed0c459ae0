// Package credentials holds the crypto primitives shared by the
// authorization and token endpoints: secret hashing, opaque token
// generation, and PKCE verification.
package credentials

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// SecretHasher hashes and verifies client secrets. Verify must be
// constant-time with respect to the provided secret.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, hash string) bool
}

// BcryptHasher is the production hasher
type BcryptHasher struct {
	Cost int // 0 means bcrypt.DefaultCost
}

func (h *BcryptHasher) Hash(secret string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (h *BcryptHasher) Verify(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// FastHasher is an unsalted SHA-256 hasher for tests, where bcrypt's work
// factor would dominate the run time. Not for production use.
type FastHasher struct{}

func (h *FastHasher) Hash(secret string) (string, error) {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:]), nil
}

func (h *FastHasher) Verify(secret, hash string) bool {
	sum := sha256.Sum256([]byte(secret))
	return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(hash)) == 1
}
