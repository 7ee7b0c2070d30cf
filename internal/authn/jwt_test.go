package authn

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	token, err := Issue("secret", "user-1", "Alice")
	require.NoError(t, err)

	claims, err := Verify("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "Alice", claims.UserName)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := Issue("secret", "user-1", "Alice")
	require.NoError(t, err)

	_, err = Verify("wrong-secret", token)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	claims := Claims{
		UserID:   "user-1",
		UserName: "Alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = Verify("secret", signed)
	assert.Error(t, err)
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	_, err := Verify("secret", "not-a-jwt")
	assert.Error(t, err)
}
