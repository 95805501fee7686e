package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/models"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)

	user := &models.User{ID: 42, Name: "alice", Email: "alice@example.com", Avatar: "a.png"}
	raw, err := svc.IssueForUser(user)
	require.NoError(t, err)

	claims, err := svc.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.ID)
	assert.Equal(t, "alice", claims.Name)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "a.png", claims.Avatar)
}

func TestTokenTopLevelClaims(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)

	// Credentials issued before claims were nested under "user" carry the
	// same fields at the top level.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":    float64(7),
		"name":  "bob",
		"email": "bob@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	raw, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	claims, err := svc.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.ID)
	assert.Equal(t, "bob", claims.Name)
}

func TestTokenVerifyFailures(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)

	_, err := svc.Verify("")
	assert.ErrorIs(t, err, models.ErrTokenMissing)

	_, err = svc.Verify("not-a-token")
	assert.ErrorIs(t, err, models.ErrTokenInvalid)

	expired := NewTokenService("secret", -time.Hour)
	raw, err := expired.IssueForUser(&models.User{ID: 1})
	require.NoError(t, err)
	_, err = svc.Verify(raw)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)

	other := NewTokenService("other-secret", time.Hour)
	raw, err = other.IssueForUser(&models.User{ID: 1})
	require.NoError(t, err)
	_, err = svc.Verify(raw)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestPasswordHasher(t *testing.T) {
	hasher := NewPasswordHasher(4)

	hashed, err := hasher.Hash("s3cret")
	require.NoError(t, err)
	require.NotEqual(t, "s3cret", hashed)

	assert.NoError(t, hasher.Verify("s3cret", hashed))
	assert.Error(t, hasher.Verify("wrong", hashed))
}
