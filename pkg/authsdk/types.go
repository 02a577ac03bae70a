package authsdk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp is an absolute time as the identity backend encodes it: an
// ISO-8601 string, with or without a zone offset. A missing or null value
// decodes to the zero time.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses any of the layouts the backend emits. Values without
// a zone are taken as UTC.
func ParseTimestamp(s string) (Timestamp, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{t.UTC()}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q", s)
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// Language is a mother-tongue option.
type Language struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// Identity holds the profile fields copied from the backend.
type Identity struct {
	UserID           string    `json:"userId"`
	Email            string    `json:"email"`
	HasFinishedIntro bool      `json:"hasFinishedIntro"`
	Image            string    `json:"image"`
	MotherTongue     *Language `json:"motherTongue"`

	// Credit is owned by the backend. Feature code may decrement it locally
	// for instant feedback; the next fetch overwrites it.
	Credit int `json:"credit"`
}

// ExchangeResult is the payload of a successful login, registration or
// social-login call. It is consumed once to populate a Session.
type ExchangeResult struct {
	Access                 string    `json:"access"`
	Refresh                string    `json:"refresh"`
	AccessTokenExpiration  Timestamp `json:"accessTokenExpiration"`
	RefreshTokenExpiration Timestamp `json:"refreshTokenExpiration"`
	User                   Identity  `json:"user"`
}

// HasTokens reports whether the backend actually issued a token pair.
func (r *ExchangeResult) HasTokens() bool {
	return r != nil && r.Access != "" && r.Refresh != ""
}

// RefreshResult is the payload of the token refresh endpoint. Refresh and
// RefreshTokenExpiration are only present when the backend rotates refresh
// tokens.
type RefreshResult struct {
	Access                 string    `json:"access"`
	AccessTokenExpiration  Timestamp `json:"accessTokenExpiration"`
	Refresh                string    `json:"refresh,omitempty"`
	RefreshTokenExpiration Timestamp `json:"refreshTokenExpiration"`
}

// Mode selects the credential endpoint.
type Mode int

const (
	ModeLogin Mode = iota
	ModeRegister
)

func (m Mode) String() string {
	switch m {
	case ModeLogin:
		return "login"
	case ModeRegister:
		return "register"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Credentials is the input of the Credential Authenticator.
// PasswordConfirm is only sent in ModeRegister.
type Credentials struct {
	Mode            Mode
	Email           string
	Password        string
	PasswordConfirm string
}

// PasswordResetConfirm completes a password reset started by email.
type PasswordResetConfirm struct {
	UID          string `json:"uid"`
	Token        string `json:"token"`
	NewPassword1 string `json:"newPassword1"`
	NewPassword2 string `json:"newPassword2"`
}

// ProfilePatch is a partial identity update. Nil fields are left as is.
// There is no way to patch UserID.
type ProfilePatch struct {
	Email            *string   `json:"email,omitempty"`
	HasFinishedIntro *bool     `json:"hasFinishedIntro,omitempty"`
	Image            *string   `json:"image,omitempty"`
	MotherTongue     *Language `json:"motherTongue,omitempty"`
	Credit           *int      `json:"credit,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ProfilePatch) IsEmpty() bool {
	return p.Email == nil && p.HasFinishedIntro == nil && p.Image == nil &&
		p.MotherTongue == nil && p.Credit == nil
}

// PatchFromIdentity builds a patch that overwrites every mutable field with
// the backend's values.
func PatchFromIdentity(id Identity) ProfilePatch {
	p := ProfilePatch{
		Email:            &id.Email,
		HasFinishedIntro: &id.HasFinishedIntro,
		Image:            &id.Image,
		Credit:           &id.Credit,
	}
	if id.MotherTongue != nil {
		lang := *id.MotherTongue
		p.MotherTongue = &lang
	}
	return p
}

// ProfileUpdate is the body of PUT /users/{userId}/. Credit is read-only on
// the backend and is not sent.
type ProfileUpdate struct {
	Email            string `json:"email"`
	HasFinishedIntro bool   `json:"hasFinishedIntro"`
	MotherTongue     *int   `json:"motherTongue,omitempty"`
}
