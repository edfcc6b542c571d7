// Package auth recovers the owner claim from a bearer token, grounded on
// jonkmatsumo-resume-customizer's JWTService.ValidateToken. Authorization
// itself is out of scope; this package only extracts the claim prepare()
// logs and persists.
package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of the bearer token's payload this service reads.
type Claims struct {
	Owner string `json:"owner"`
	jwt.RegisteredClaims
}

// OwnerExtractor parses a bearer token and recovers its owner claim.
type OwnerExtractor struct {
	secret []byte
}

// NewOwnerExtractor builds an OwnerExtractor that verifies tokens with the
// given HMAC secret.
func NewOwnerExtractor(secret string) *OwnerExtractor {
	return &OwnerExtractor{secret: []byte(secret)}
}

// ExtractOwner parses authHeader ("Bearer <token>"), verifies its
// signature, and returns the owner claim.
func (e *OwnerExtractor) ExtractOwner(authHeader string) (string, error) {
	tokenString, err := bearerToken(authHeader)
	if err != nil {
		return "", err
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return e.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse bearer token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("bearer token is not valid")
	}
	if claims.Owner == "" {
		return "", fmt.Errorf("bearer token has no owner claim")
	}
	return claims.Owner, nil
}

func bearerToken(authHeader string) (string, error) {
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("missing or malformed Authorization header")
	}
	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return "", fmt.Errorf("empty bearer token")
	}
	return tokenString, nil
}
