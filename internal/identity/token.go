package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrMissingSecret is returned when a TokenIssuer is built without a key.
var ErrMissingSecret = errors.New("jwt secret is required")

// AccountClaims are the JWT claims for an account session token.
type AccountClaims struct {
	jwt.RegisteredClaims
	AccountID string `json:"account_id"`
	Email     string `json:"email,omitempty"`
}

// TokenIssuer issues and verifies account tokens signed with HS256.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
//	secret: shared HMAC key; must be non-empty.
//	issuer: the "iss" claim value.
//	ttl: token lifetime (default: 24 hours).
func NewTokenIssuer(secret, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Issue creates a signed token for accountID.
func (t *TokenIssuer) Issue(accountID, email string) (string, error) {
	if accountID == "" {
		return "", fmt.Errorf("issue account token: account id is required")
	}
	now := time.Now().UTC()
	claims := AccountClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		AccountID: accountID,
		Email:     email,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign account token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an account token, returning its claims.
func (t *TokenIssuer) Verify(tokenStr string) (*AccountClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&AccountClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify account token: %w", err)
	}
	claims, ok := token.Claims.(*AccountClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid account token claims")
	}
	if claims.AccountID == "" || claims.AccountID != claims.Subject {
		return nil, fmt.Errorf("account token subject mismatch")
	}
	return claims, nil
}
