package jwtx

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	Sign(Claims) (string, error)
}

// minHMACKeyLen is the shortest secret accepted for HS256.
const minHMACKeyLen = 16

// HS256Signer signs envelopes with a shared secret.
type HS256Signer struct {
	key []byte
}

// NewSignerHS256 creates an HS256 signer. The secret is used as-is.
func NewSignerHS256(secret []byte) (*HS256Signer, error) {
	if len(secret) < minHMACKeyLen {
		return nil, fmt.Errorf("jwtx: HS256 secret must be at least %d bytes", minHMACKeyLen)
	}
	return &HS256Signer{key: append([]byte(nil), secret...)}, nil
}

func (s *HS256Signer) Alg() string { return jwt.SigningMethodHS256.Alg() }

// Sign takes your claims and turns them into a signed JWT string.
func (s *HS256Signer) Sign(claims Claims) (string, error) {
	if len(s.key) == 0 {
		return "", errors.New("jwtx: signer not initialised")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign: %w", err)
	}
	return signed, nil
}
