package token

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openquill/voxsignal/internal/errors"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	auth := NewAuth("test-secret")

	tok, err := auth.Sign("u1", "Alice")
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	id, err := auth.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "Alice", id.DisplayName)
}

func TestSignRequiresUserID(t *testing.T) {
	auth := NewAuth("test-secret")

	_, err := auth.Sign("", "Alice")
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestVerifyRejectsEmptyToken(t *testing.T) {
	auth := NewAuth("test-secret")

	_, err := auth.Verify("")
	assert.True(t, errors.Is(err, ErrNoToken))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	auth := NewAuth("test-secret")
	other := NewAuth("other-secret")

	tok, err := auth.Sign("u1", "Alice")
	require.NoError(t, err)

	_, err = other.Verify(tok)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	hs256 := NewAuth("test-secret")
	hs512 := NewAuthWithAlgorithm("test-secret", jwt.SigningMethodHS512)

	tok, err := hs512.Sign("u1", "Alice")
	require.NoError(t, err)

	_, err = hs256.Verify(tok)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestVerifyRejectsMissingUserID(t *testing.T) {
	auth := NewAuth("test-secret")

	claims := &Identity{DisplayName: "nobody"}
	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok, err := raw.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = auth.Verify(tok)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}
