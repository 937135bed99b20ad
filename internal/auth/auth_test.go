package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokensRoundTrip(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)

	signed, err := tokens.Issue("user-1")
	require.NoError(t, err)

	userID, err := tokens.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestTokensRejectWrongSecret(t *testing.T) {
	signed, err := NewTokens("secret", time.Hour).Issue("user-1")
	require.NoError(t, err)

	_, err = NewTokens("other", time.Hour).Parse(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokensRejectExpired(t *testing.T) {
	tokens := NewTokens("secret", time.Minute)
	tokens.now = func() time.Time { return time.Now().Add(-time.Hour) }
	signed, err := tokens.Issue("user-1")
	require.NoError(t, err)

	_, err = NewTokens("secret", time.Minute).Parse(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokensRejectNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "user-1"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokens("secret", time.Hour).Parse(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)

	assert.NoError(t, CheckPassword(hash, "hunter22"))
	assert.ErrorIs(t, CheckPassword(hash, "hunter23"), ErrPasswordMismatch)
}
