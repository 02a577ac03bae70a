package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates a JWT and gives you back the claims if it's legit.
type Verifier interface {
	Verify(token string) (Claims, error)
}

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")
	ErrIssuer      = errors.New("jwtx: issuer mismatch")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
	ErrNoExpiry    = errors.New("jwtx: token has no exp claim")
	ErrNoPayload   = errors.New("jwtx: envelope has no payload")
)

// HS256Verifier validates envelopes signed by HS256Signer.
type HS256Verifier struct {
	key    []byte
	parser *jwt.Parser
}

// NewVerifierHS256 returns a verifier for secret. An empty issuer is not
// checked. leeway absorbs clock skew on exp and nbf.
func NewVerifierHS256(secret []byte, issuer string, leeway time.Duration) *HS256Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &HS256Verifier{
		key:    append([]byte(nil), secret...),
		parser: jwt.NewParser(opts...),
	}
}

// Verify checks the signature and the time and issuer claims.
func (v *HS256Verifier) Verify(tokenStr string) (Claims, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})

	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenMalformed):
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return Claims{}, ErrInvalidSig
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return Claims{}, ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return Claims{}, ErrIssuer
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return Claims{}, ErrNoExpiry
	default:
		return Claims{}, fmt.Errorf("jwtx: verify: %w", err)
	}
}

// PeekExpiry reads the exp claim of a JWT without verifying its signature.
// It is only suitable for scheduling a refresh of a token issued by someone
// else, never for trusting the token.
func PeekExpiry(tokenStr string) (time.Time, error) {
	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, &rc); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if rc.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return rc.ExpiresAt.Time, nil
}
