package tokens

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignAndParse(t *testing.T) {
	signer := NewSigner("unit-test-key", "http://auth.test", time.Hour)

	token, jti, expiresAt, err := signer.Sign(42, "client-abc", "orders:read orders:write")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.NotEmpty(t, jti)
	require.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "42", claims.Subject)
	require.Equal(t, "client-abc", claims.ClientID)
	require.Equal(t, "orders:read orders:write", claims.Scope)
	require.Equal(t, jti, claims.ID)
	require.Equal(t, "http://auth.test", claims.Issuer)
}

func TestParseRejectsWrongKey(t *testing.T) {
	signer := NewSigner("key-one", "http://auth.test", time.Hour)
	other := NewSigner("key-two", "http://auth.test", time.Hour)

	token, _, _, err := signer.Sign(1, "client", "orders:read")
	require.NoError(t, err)

	_, err = other.Parse(token)
	require.Error(t, err)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	signer := NewSigner("unit-test-key", "http://auth.test", -time.Minute)

	token, _, _, err := signer.Sign(1, "client", "orders:read")
	require.NoError(t, err)

	_, err = signer.Parse(token)
	require.Error(t, err)
}

func TestParseRejectsGarbage(t *testing.T) {
	signer := NewSigner("unit-test-key", "http://auth.test", time.Hour)

	for _, input := range []string{"", "garbage", "a.b.c", "e30.e30."} {
		_, err := signer.Parse(input)
		require.Error(t, err, "input %q must not parse", input)
	}
}
