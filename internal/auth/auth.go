// Package auth resolves bearer session tokens to caller identities and
// evaluates access policies for file records.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a session token is missing, malformed,
// expired, or carries a bad signature.
var ErrInvalidToken = errors.New("invalid session token")

// Identity is the resolved caller: a wallet address plus an optional
// validator capability. The zero value is the anonymous caller.
type Identity struct {
	Address   string
	Validator bool
}

// Anonymous reports whether no verified identity is present.
func (id Identity) Anonymous() bool {
	return id.Address == ""
}

// Claims is the session token payload.
type Claims struct {
	jwt.RegisteredClaims
	Address   string `json:"address"`
	Validator bool   `json:"validator,omitempty"`
}

// Verifier issues and validates HS256 session tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Issue signs a session token for the given wallet address.
func (v *Verifier) Issue(address string, validator bool, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "deedgate",
		},
		Address:   address,
		Validator: validator,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify resolves an authorization header value to an Identity. An empty
// header yields the anonymous identity without error; callers decide whether
// anonymity is acceptable via policy evaluation. Any present-but-invalid
// token is an error.
func (v *Verifier) Verify(header string) (Identity, error) {
	if header == "" {
		return Identity{}, nil
	}
	raw := strings.TrimPrefix(header, "Bearer ")
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.Address == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{Address: claims.Address, Validator: claims.Validator}, nil
}
