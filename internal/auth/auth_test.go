package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestResolve_ValidCredential(t *testing.T) {
	token, err := NewToken([]byte(testSecret), "sub_1", "acme", "client", time.Hour)
	require.NoError(t, err)

	r := NewResolver(testSecret)
	p, err := r.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "sub_1", p.SubjectID)
	assert.Equal(t, "acme", p.TenantID)
	assert.Equal(t, "client", p.Role)
}

func TestResolve_WrongSecret(t *testing.T) {
	token, err := NewToken([]byte(strings.Repeat("x", 32)), "sub_1", "acme", "client", time.Hour)
	require.NoError(t, err)

	r := NewResolver(testSecret)
	_, err = r.Resolve(token)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestResolve_Expired(t *testing.T) {
	token, err := NewToken([]byte(testSecret), "sub_1", "acme", "client", -time.Minute)
	require.NoError(t, err)

	r := NewResolver(testSecret)
	_, err = r.Resolve(token)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestResolve_MissingSubject(t *testing.T) {
	token, err := NewToken([]byte(testSecret), "", "acme", "client", time.Hour)
	require.NoError(t, err)

	r := NewResolver(testSecret)
	_, err = r.Resolve(token)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestResolve_MissingTenant(t *testing.T) {
	token, err := NewToken([]byte(testSecret), "sub_1", "", "client", time.Hour)
	require.NoError(t, err)

	r := NewResolver(testSecret)
	_, err = r.Resolve(token)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestResolve_RejectsUnexpectedSigningMethod(t *testing.T) {
	// alg=none is the classic downgrade attempt.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "sub_1"},
		TenantID:         "acme",
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	r := NewResolver(testSecret)
	_, err = r.Resolve(signed)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestResolve_Garbage(t *testing.T) {
	r := NewResolver(testSecret)
	_, err := r.Resolve("not-a-credential")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
