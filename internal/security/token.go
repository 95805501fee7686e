package security

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"messenger-service/internal/models"
)

// UserClaims is the verified identity payload extracted from a credential.
type UserClaims struct {
	ID     int64
	Name   string
	Email  string
	Avatar string
}

// TokenService issues and verifies HS256 credentials. Issued tokens nest
// the identity under a "user" claim; Parse also accepts tokens with the
// same fields at the top level, for compatibility with credentials issued
// before the nesting was introduced.
type TokenService struct {
	secret    []byte
	expiresIn time.Duration
}

func NewTokenService(secret string, expiresIn time.Duration) *TokenService {
	return &TokenService{
		secret:    []byte(secret),
		expiresIn: expiresIn,
	}
}

// IssueForUser creates a credential embedding the user's id, name, email
// and avatar, so clients can refresh their claims without a new login.
func (t *TokenService) IssueForUser(u *models.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user": map[string]any{
			"id":     u.ID,
			"name":   u.Name,
			"email":  u.Email,
			"avatar": u.Avatar,
		},
		"iat": now.Unix(),
		"exp": now.Add(t.expiresIn).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify validates a raw credential and extracts the bound identity.
// Returns models.ErrTokenMissing for an empty credential and
// models.ErrTokenInvalid for anything that fails signature, expiry or
// claim-shape checks.
func (t *TokenService) Verify(raw string) (UserClaims, error) {
	if raw == "" {
		return UserClaims{}, models.ErrTokenMissing
	}

	token, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return UserClaims{}, models.ErrTokenInvalid
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return UserClaims{}, models.ErrTokenInvalid
	}

	source := map[string]any(mapClaims)
	if nested, ok := mapClaims["user"].(map[string]any); ok {
		source = nested
	}

	claims := UserClaims{
		Name:   stringClaim(source, "name"),
		Email:  stringClaim(source, "email"),
		Avatar: stringClaim(source, "avatar"),
	}
	claims.ID, err = idClaim(source)
	if err != nil {
		return UserClaims{}, models.ErrTokenInvalid
	}
	return claims, nil
}

func stringClaim(claims map[string]any, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

func idClaim(claims map[string]any) (int64, error) {
	switch v := claims["id"].(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("missing id claim")
	}
}
