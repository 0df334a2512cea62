// ABOUTME: JWT token verification for authenticating API callers
// ABOUTME: Uses HS256 signing with the configured secret; the "sub" claim is the owner id

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned when a caller has no verified identity.
// Token errors wrap it so callers can test for either.
var ErrUnauthenticated = errors.New("unauthenticated")

// Token errors
var (
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	ErrExpiredToken = fmt.Errorf("%w: token expired", ErrUnauthenticated)
	ErrMissingClaim = fmt.Errorf("%w: missing required claim", ErrUnauthenticated)
)

// MinSecretLength is the shortest HS256 secret the gateway accepts
const MinSecretLength = 32

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (ownerID string, err error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the owner id from the "sub" claim
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}

// Generate creates a token for ownerID that expires after expiresIn
func (v *JWTVerifier) Generate(ownerID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": ownerID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
