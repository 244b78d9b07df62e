// Package token issues and verifies the signed bearer tokens used by the
// API and the event stream. Tokens are HMAC-signed JWTs; user management
// itself lives outside the console.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/averlard/custos/internal/domain"
)

// Claims carried by a console token.
type Claims struct {
	Admin bool `json:"admin"`
	jwt.RegisteredClaims
}

// Issue creates a signed token for the given user.
func Issue(secret, userID string, admin bool, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("signing secret is empty")
	}
	now := time.Now().UTC()
	claims := Claims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "custos",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Parse verifies a token and returns the identity it encodes.
func Parse(secret, tokenString string) (domain.Identity, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return domain.Identity{}, errors.New("invalid token")
	}
	return domain.Identity{UserID: claims.Subject, Admin: claims.Admin}, nil
}
