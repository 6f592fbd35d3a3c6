package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretBytes is the minimum HMAC-SHA256 key length accepted.
const MinSecretBytes = 32

// ErrInvalidToken is returned for forged, malformed or expired tokens.
var ErrInvalidToken = errors.New("session: invalid token")

// TokenSigner issues and verifies HS256 bearer tokens bound to a session ID.
type TokenSigner struct {
	secret []byte
	issuer string
}

// NewTokenSigner returns a signer for the given secret.
func NewTokenSigner(secret []byte) (*TokenSigner, error) {
	if len(secret) < MinSecretBytes {
		return nil, fmt.Errorf("session: token secret must be at least %d bytes", MinSecretBytes)
	}
	return &TokenSigner{secret: secret, issuer: "radar"}, nil
}

// NewRandomTokenSigner generates a per-process secret. Tokens do not survive
// a restart, which matches the in-memory session lifetime.
func NewRandomTokenSigner() (*TokenSigner, error) {
	secret := make([]byte, MinSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("session: generate token secret: %w", err)
	}
	return NewTokenSigner(secret)
}

// Issue signs a token for sessionID valid until expiresAt.
func (t *TokenSigner) Issue(sessionID string, issuedAt, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Subject:   sessionID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("session: sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, algorithm and expiry of token at now and
// returns the bound session ID.
func (t *TokenSigner) Verify(token string, now time.Time) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
