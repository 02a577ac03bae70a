// Package cookie keeps the whole browser Session in one encrypted cookie.
//
// The value is seal(HS256-JWT{sid, dat: session}). The JWT binds the
// payload to the session ID and bounds its lifetime; the sealer keeps the
// tokens inside unreadable to the browser.
package cookie

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
	"github.com/aussiebroadwan/sessionkit/pkg/cryptox"
	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
)

const (
	issuer     = "sessiond"
	sealerInfo = "sessiond-session-cookie"
)

var ErrInvalid = errors.New("cookie: invalid session cookie")

// Config controls the cookie attributes.
type Config struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// Codec encodes Sessions into cookies and back.
type Codec struct {
	template *http.Cookie
	maxAge   time.Duration
	signer   jwtx.Signer
	verifier jwtx.Verifier
	sealer   *cryptox.Sealer
}

// NewCodec derives the cookie keys. jwtSecret signs the envelope,
// sessionSecret encrypts it.
func NewCodec(cfg Config, jwtSecret, sessionSecret []byte) (*Codec, error) {
	signer, err := jwtx.NewSignerHS256(jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie signer: %w", err)
	}
	sealer, err := cryptox.NewSealer(sessionSecret, sealerInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie sealer: %w", err)
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = authsdk.DefaultMaxAge
	}

	return &Codec{
		template: newTemplate(cfg.Name, cfg.Secure),
		maxAge:   cfg.MaxAge,
		signer:   signer,
		verifier: jwtx.NewVerifierHS256(jwtSecret, issuer, 0),
		sealer:   sealer,
	}, nil
}

// newTemplate uses the __Host- prefix when the cookie is secure, which pins
// it to this host and path "/".
func newTemplate(name string, secure bool) *http.Cookie {
	if secure {
		name = "__Host-" + name
	}
	return &http.Cookie{
		Name:     name,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// Name is the effective cookie name, including any prefix.
func (c *Codec) Name() string { return c.template.Name }

// Encode seals s. The envelope expires MaxAge after the Session was issued.
func (c *Codec) Encode(s authsdk.Session) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode session: %w", err)
	}

	claims := jwtx.NewEnvelopeClaims(s.ID.String(), issuer, data, c.maxAge, s.IssuedAt)
	token, err := c.signer.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign session: %w", err)
	}

	sealed, err := c.sealer.SealString([]byte(token))
	if err != nil {
		return "", fmt.Errorf("failed to seal session: %w", err)
	}
	return sealed, nil
}

// Decode opens and verifies a cookie value.
func (c *Codec) Decode(value string) (authsdk.Session, error) {
	token, err := c.sealer.OpenString(value)
	if err != nil {
		return authsdk.Session{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	claims, err := c.verifier.Verify(string(token))
	if err != nil {
		return authsdk.Session{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	var s authsdk.Session
	if err := claims.Decode(&s); err != nil {
		return authsdk.Session{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if s.ID.String() != claims.SID || !s.Valid() {
		return authsdk.Session{}, ErrInvalid
	}
	return s, nil
}

// Read returns the Session carried by r. A missing cookie is
// authsdk.ErrNoSession.
func (c *Codec) Read(r *http.Request) (authsdk.Session, error) {
	ck, err := r.Cookie(c.template.Name)
	if err != nil {
		return authsdk.Session{}, authsdk.ErrNoSession
	}
	return c.Decode(ck.Value)
}

// Write sets the cookie for s.
func (c *Codec) Write(w http.ResponseWriter, s authsdk.Session) error {
	value, err := c.Encode(s)
	if err != nil {
		return err
	}

	ck := *c.template
	ck.Value = value
	ck.Expires = s.IssuedAt.Add(c.maxAge)
	ck.MaxAge = int(time.Until(ck.Expires).Seconds())
	if ck.MaxAge <= 0 {
		ck.MaxAge = -1
	}
	http.SetCookie(w, &ck)
	return nil
}

// Clear deletes the cookie.
func (c *Codec) Clear(w http.ResponseWriter) {
	ck := *c.template
	ck.MaxAge = -1
	ck.Expires = time.Unix(0, 0)
	http.SetCookie(w, &ck)
}
