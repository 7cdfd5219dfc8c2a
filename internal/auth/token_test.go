package auth

import (
	"testing"
	"time"

	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens_SignVerify(t *testing.T) {
	tokens, err := NewTokens("secret", time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := tokens.Sign(&domain.Account{SocialUserID: "42", Username: "alice"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
}

func TestTokens_Expired(t *testing.T) {
	tokens, err := NewTokens("secret", time.Minute)
	require.NoError(t, err)

	token, _, err := tokens.Sign(&domain.Account{SocialUserID: "42"})
	require.NoError(t, err)

	tokens.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = tokens.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_WrongSecret(t *testing.T) {
	a, err := NewTokens("secret-a", time.Hour)
	require.NoError(t, err)
	b, err := NewTokens("secret-b", time.Hour)
	require.NoError(t, err)

	token, _, err := a.Sign(&domain.Account{SocialUserID: "42"})
	require.NoError(t, err)

	_, err = b.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_RejectsOtherAlgorithms(t *testing.T) {
	tokens, err := NewTokens("secret", time.Hour)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "42", Issuer: issuer},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = tokens.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokens_RequiresSecret(t *testing.T) {
	_, err := NewTokens("", time.Hour)
	assert.Error(t, err)
}
