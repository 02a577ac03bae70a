package cryptox

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrEmptySecret = errors.New("cryptox: empty secret")
	ErrMalformed   = errors.New("cryptox: ciphertext malformed")
	ErrOpen        = errors.New("cryptox: message authentication failed")
)

// Sealer performs authenticated encryption with XChaCha20-Poly1305. The key is
// derived from an arbitrary-length secret with HKDF-SHA256, so operators can
// hand in a passphrase rather than exactly 32 random bytes.
//
// Output format: [24-byte nonce][ciphertext][16-byte tag]
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a key from secret. info separates keys derived from the
// same secret for different purposes (e.g. "session-cookie" and "oauth-state").
func NewSealer(secret []byte, info string) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return &Sealer{aead: aead}, nil
}

// Seal encrypts and authenticates plaintext with a fresh random nonce.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal. Any tampering yields ErrOpen.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize+s.aead.Overhead() {
		return nil, ErrMalformed
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrOpen
	}

	return plaintext, nil
}

// SealString is Seal with base64url output, suitable for cookie values.
func (s *Sealer) SealString(plaintext []byte) (string, error) {
	sealed, err := s.Seal(plaintext)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// OpenString reverses SealString.
func (s *Sealer) OpenString(sealed string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrMalformed
	}
	return s.Open(raw)
}
