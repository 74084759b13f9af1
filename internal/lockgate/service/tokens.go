package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/BrandonDHaskell/lockgate/internal/lockgate/types"
)

const (
	TokenIssuerName = "lockgate"
	DefaultTokenTTL = 12 * time.Hour
)

type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies the HS256 bearer tokens used by the HTTP and
// gRPC surfaces.  Subject is the account uid.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: secret, ttl: ttl, now: time.Now}
}

// WithClock returns a copy of t that reads time from now.
func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	c := *t
	c.now = now
	return &c
}

func (t *TokenIssuer) Issue(id types.Identity) (string, error) {
	if len(t.secret) == 0 {
		return "", errors.New("Issue: token secret not configured")
	}
	now := t.now().UTC()
	claims := tokenClaims{
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuerName,
			Subject:   id.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("Issue: %w", err)
	}
	return signed, nil
}

// Verify parses a token (with or without a "Bearer " prefix) and returns the
// identity it carries.  Every failure wraps ErrInvalidToken.
func (t *TokenIssuer) Verify(token string) (types.Identity, error) {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" || len(t.secret) == 0 {
		return types.Identity{}, ErrInvalidToken
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return types.Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return types.Identity{UID: claims.Subject, Email: claims.Email}, nil
}
