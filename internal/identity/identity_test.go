package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Identity{UserID: "user-1", DisplayName: "Avery", Role: "editor"}, time.Hour)
	require.NoError(t, err)

	id, err := ParseToken(secret, issued)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "user-1", DisplayName: "Avery", Role: "editor"}, id)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Identity{UserID: "user-1", DisplayName: "Avery", Role: "editor"}, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(secret, issued)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestParseTokenRejectsTampering(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), Identity{UserID: "user-1", DisplayName: "Avery", Role: "writer"}, time.Hour)
	require.NoError(t, err)

	_, err = ParseToken([]byte("other"), issued)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseToken([]byte("secret"), "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		Name:             "Avery",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = ParseToken([]byte("secret"), signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestContextProvider(t *testing.T) {
	var provider Provider = ContextProvider{}

	_, err := provider.Current(context.Background())
	assert.ErrorIs(t, err, ErrNoIdentity)

	ctx := WithIdentity(context.Background(), Identity{UserID: "u1", Role: "reader", Anonymous: true})
	id, err := provider.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.True(t, id.Anonymous)
}

func TestStaticProvider(t *testing.T) {
	id, err := Static{UserID: "u2"}.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u2", id.UserID)

	_, err = Static{}.Current(context.Background())
	assert.ErrorIs(t, err, ErrNoIdentity)
}
