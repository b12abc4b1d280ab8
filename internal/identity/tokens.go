package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// defaultTokenTTL applies when the configured TTL is not positive.
const defaultTokenTTL = 60 * time.Minute

// Claims are the JWT claims issued for an application session.
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	SessionID string `json:"sid"`
}

// Identity returns the identity carried by the token.
func (c *Claims) Identity() Identity {
	return Identity{ID: c.Subject, Email: c.Email}
}

// GenerateAccessToken signs an HS256 token binding id to session sid.
func GenerateAccessToken(id Identity, sid, secret string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Email:     id.Email,
		SessionID: sid,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ParseToken validates signature and expiry and returns the claims.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session", ErrTokenInvalid)
	}
	return claims, nil
}
