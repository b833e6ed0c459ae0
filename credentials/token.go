package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GenerateOpaqueToken returns a base64url string from nBytes of
// cryptographically secure randomness. Authorization codes and refresh
// tokens use 32 bytes (256 bits of entropy).
func GenerateOpaqueToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
