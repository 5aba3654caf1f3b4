package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
)

func sign(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func claimsFor(sub string) Claims {
	return Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
}

func TestHS256(t *testing.T) {
	v, err := NewJWTValidatorHS256("s3cret")
	require.NoError(t, err)

	c := claimsFor("alice")
	c.Name = "Alice"
	c.Avatar = "https://cdn/a.png"
	id, err := v.Validate(sign(t, jwt.SigningMethodHS256, []byte("s3cret"), c))
	require.NoError(t, err)
	assert.Equal(t, "alice", id.UserID)
	assert.Equal(t, "Alice", id.DisplayName)
	assert.Equal(t, "https://cdn/a.png", id.Avatar)

	id, err = v.Validate(sign(t, jwt.SigningMethodHS256, []byte("s3cret"), claimsFor("bob")))
	require.NoError(t, err)
	assert.Equal(t, "bob", id.DisplayName)
	assert.False(t, id.HasRole(RoleService))
}

func TestRolesClaim(t *testing.T) {
	v, err := NewJWTValidatorHS256("s3cret")
	require.NoError(t, err)

	c := claimsFor("crm")
	c.Roles = []string{RoleService}
	id, err := v.Validate(sign(t, jwt.SigningMethodHS256, []byte("s3cret"), c))
	require.NoError(t, err)
	assert.True(t, id.HasRole(RoleService))
}

func TestHS256Rejects(t *testing.T) {
	v, err := NewJWTValidatorHS256("s3cret")
	require.NoError(t, err)

	expired := claimsFor("alice")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	tests := map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": sign(t, jwt.SigningMethodHS256, []byte("other"), claimsFor("alice")),
		"expired":      sign(t, jwt.SigningMethodHS256, []byte("s3cret"), expired),
		"no subject":   sign(t, jwt.SigningMethodHS256, []byte("s3cret"), claimsFor("")),
		"alg none":     sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, claimsFor("alice")),
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(tok)
			assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
		})
	}

	_, err = NewJWTValidatorHS256("")
	assert.Error(t, err)
}

func TestRS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "pub.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))

	v, err := NewJWTValidatorRS256(path)
	require.NoError(t, err)
	id, err := v.Validate(sign(t, jwt.SigningMethodRS256, key, claimsFor("carol")))
	require.NoError(t, err)
	assert.Equal(t, "carol", id.UserID)

	// an HS256 token signed with the public key bytes must not pass
	_, err = v.Validate(sign(t, jwt.SigningMethodHS256, der, claimsFor("carol")))
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	_, err = NewJWTValidatorRS256(filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)
}

func TestParseBearerToken(t *testing.T) {
	tok, err := ParseBearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	for _, h := range []string{"", "abc", "Basic abc", "Bearer "} {
		_, err := ParseBearerToken(h)
		assert.Error(t, err, h)
	}
}
