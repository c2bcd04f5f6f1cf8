// Package auth issues and checks the admin credential used by the /admin
// routes: an HS256 JWT carrying a role claim, and a bcrypt password hash
// for the login endpoint.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the role required by the admin API.
const RoleAdmin = "admin"

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// Claims is the JWT payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken creates a signed HS256 JWT for username with the given role.
func IssueToken(secret, username, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken parses and validates a JWT. Any failure wraps ErrUnauthorized.
func ValidateToken(secret, tokenStr string) (*Claims, error) {
	if secret == "" || tokenStr == "" {
		return nil, ErrUnauthorized
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// RequireRole validates tokenStr and checks its role claim. A bad token is
// ErrUnauthorized, a good token with the wrong role is ErrForbidden.
func RequireRole(secret, tokenStr, role string) (*Claims, error) {
	claims, err := ValidateToken(secret, tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Role != role {
		return claims, ErrForbidden
	}
	return claims, nil
}
