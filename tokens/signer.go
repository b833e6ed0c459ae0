// Package tokens issues and validates the signed, stateless access tokens
// returned by the token endpoint. Validity is signature + expiry; the
// issuance record in the database exists for audit, introspection, and
// revocation, not as the primary validity check.
package tokens

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrMalformedToken   = errors.New("malformed token")
)

// AccessTokenClaims are the claims carried by an access token
type AccessTokenClaims struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
	jwt.RegisteredClaims
}

// Signer issues and parses HS256-signed access tokens
type Signer struct {
	key    []byte
	issuer string
	ttl    time.Duration
}

// NewSigner creates a Signer for the given signing key and issuer
func NewSigner(key, issuer string, ttl time.Duration) *Signer {
	return &Signer{
		key:    []byte(key),
		issuer: issuer,
		ttl:    ttl,
	}
}

// TTL returns the access token lifetime
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// Sign issues an access token for the subject/client/scope binding.
// Returns the compact token, its jti, and its expiry.
func (s *Signer) Sign(userID int, clientID, scope string) (string, string, time.Time, error) {
	jti := uuid.New().String()
	now := time.Now()
	expiresAt := now.Add(s.ttl)

	claims := AccessTokenClaims{
		ClientID: clientID,
		Scope:    scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(userID),
			ID:        jti,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return signed, jti, expiresAt, nil
}

// Parse validates the signature and expiry of an access token and returns
// its claims. Any failure (wrong algorithm, bad signature, expired, garbage
// input) comes back as an error; callers at the introspection boundary
// degrade that to active:false.
func (s *Signer) Parse(tokenString string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, ErrInvalidSignature
		}
		return nil, err
	}
	if !token.Valid {
		return nil, ErrMalformedToken
	}
	return claims, nil
}
