package jwtx

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aussiebroadwan/sessionkit/pkg/idx"
)

// Claims wrap an opaque payload in a signed envelope. The session service
// puts the serialized session in Data and the session ID in SID.
type Claims struct {
	jwt.RegisteredClaims

	SID string `json:"sid,omitempty"`

	// Data is signed, not encrypted. Callers that need confidentiality seal
	// the compact token afterwards.
	Data json.RawMessage `json:"dat,omitempty"`
}

// NewEnvelopeClaims builds claims for a payload valid for ttl from now.
func NewEnvelopeClaims(sid, issuer string, data json.RawMessage, ttl time.Duration, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   sid,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        idx.NewAt(now).String(),
		},
		SID:  sid,
		Data: data,
	}
}

// Decode unmarshals the payload into v.
func (c Claims) Decode(v any) error {
	if len(c.Data) == 0 {
		return ErrNoPayload
	}
	if err := json.Unmarshal(c.Data, v); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	return nil
}
