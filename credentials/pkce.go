package credentials

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// PKCE challenge methods (RFC 7636)
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// ValidPKCEMethod reports whether the challenge method is one we accept
func ValidPKCEMethod(method string) bool {
	return method == PKCEMethodS256 || method == PKCEMethodPlain
}

// VerifyPKCE verifies a code verifier against the challenge stored at code
// issuance. S256 compares base64url(SHA256(verifier)) to the challenge,
// plain compares directly; both in constant time. Unknown methods fail
// closed.
func VerifyPKCE(codeVerifier, codeChallenge, method string) bool {
	switch method {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(codeVerifier))
		expected := base64.RawURLEncoding.EncodeToString(hash[:])
		return subtle.ConstantTimeCompare([]byte(expected), []byte(codeChallenge)) == 1
	case PKCEMethodPlain:
		return subtle.ConstantTimeCompare([]byte(codeVerifier), []byte(codeChallenge)) == 1
	default:
		return false
	}
}

// GenerateCodeChallenge derives the S256 challenge for a verifier
func GenerateCodeChallenge(codeVerifier string) string {
	hash := sha256.Sum256([]byte(codeVerifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
