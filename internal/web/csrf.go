package web

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid anti-forgery token")

const tokenIssuer = "relaybot"

// Tokens issues and verifies anti-forgery tokens. A token is an HS256 JWT
// bound to the source address it was issued to.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

// NewTokens creates a Tokens. An empty secret is replaced by 32 random
// bytes, so tokens do not survive a restart.
func NewTokens(secret string, ttl time.Duration, clock clockwork.Clock) (*Tokens, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate csrf secret: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tokens{secret: key, ttl: ttl, clock: clock}, nil
}

// Issue mints a token for sourceID.
func (t *Tokens) Issue(sourceID string) (string, error) {
	now := t.clock.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    tokenIssuer,
		Subject:   sourceID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign csrf token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, expiry and that the token was issued to sourceID.
func (t *Tokens) Verify(token, sourceID string) error {
	if token == "" {
		return fmt.Errorf("%w: missing", ErrInvalidToken)
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithSubject(sourceID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.clock.Now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}
