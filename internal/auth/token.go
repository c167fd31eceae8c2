package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken      = errors.New("auth: no token presented")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Identity is the result of verifying a connection token. The relay trusts
// these claims as-is and never queries user state separately.
type Identity struct {
	UserID string
	Name   string
	Groups []string
}

type connClaims struct {
	Name   string   `json:"name,omitempty"`
	Groups []string `json:"groups,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks connection tokens against a shared HS256 secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates raw, returning the embedded identity claims.
// Signature and expiry checks are handled by the jwt library; the expiry
// claim is mandatory, and a token whose subject claim is empty is rejected
// even if otherwise valid.
func (v *Verifier) Verify(raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, ErrNoToken
	}

	claims := &connClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return Identity{
		UserID: claims.Subject,
		Name:   claims.Name,
		Groups: claims.Groups,
	}, nil
}
