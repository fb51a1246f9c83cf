package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateToken("alice", secret, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, "alice", claims.Subject)
}

func TestGenerateToken_Validation(t *testing.T) {
	_, err := GenerateToken("", secret, time.Hour)
	assert.Error(t, err)

	_, err = GenerateToken("alice", nil, time.Hour)
	assert.ErrorContains(t, err, "secret")
}

func TestParseToken_Rejects(t *testing.T) {
	t.Run("wrong secret", func(t *testing.T) {
		token, err := GenerateToken("alice", secret, time.Hour)
		require.NoError(t, err)
		_, err = ParseToken(token, []byte("other"))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := GenerateToken("alice", secret, -time.Minute)
		require.NoError(t, err)
		_, err = ParseToken(token, secret)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other algorithm", func(t *testing.T) {
		token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS512, Claims{UserID: "alice"})
		signed, err := token.SignedString(secret)
		require.NoError(t, err)
		_, err = ParseToken(signed, secret)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing user", func(t *testing.T) {
		token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, Claims{})
		signed, err := token.SignedString(secret)
		require.NoError(t, err)
		_, err = ParseToken(signed, secret)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseToken("not.a.token", secret)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	_, err := BearerToken(req)
	assert.ErrorIs(t, err, ErrMissingToken)

	req.Header.Set("Authorization", "Basic abc")
	_, err = BearerToken(req)
	assert.ErrorIs(t, err, ErrMissingToken)

	req.Header.Set("Authorization", "bearer abc.def")
	token, err := BearerToken(req)
	require.NoError(t, err)
	assert.Equal(t, "abc.def", token)
}

func TestUserContext(t *testing.T) {
	assert.Empty(t, UserFrom(context.Background()))
	assert.Equal(t, "alice", UserFrom(WithUser(context.Background(), "alice")))
}
