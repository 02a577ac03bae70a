package authsdk

import (
	"log/slog"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/idx"
)

// DefaultMaxAge bounds how long a Session lives after sign-in.
const DefaultMaxAge = 24 * time.Hour

// Session is the authenticated state of one browser context or CLI profile.
//
// A Session is either absent or fully populated. The methods below are the
// only transitions; each returns a new value and leaves the receiver alone.
type Session struct {
	ID                     idx.ID    `json:"id"`
	AccessToken            string    `json:"accessToken"`
	RefreshToken           string    `json:"refreshToken"`
	AccessTokenExpiration  time.Time `json:"accessTokenExpiration"`
	RefreshTokenExpiration time.Time `json:"refreshTokenExpiration"`
	Identity               Identity  `json:"identity"`
	Error                  string    `json:"error,omitempty"`
	IssuedAt               time.Time `json:"issuedAt"`
}

// SignIn builds a new Session from an exchange result.
//
// Pre: r carries both tokens and an access token expiration. The refresh
// token expiration may be zero: the backend can omit it and an opaque
// refresh token has no exp claim to fall back on. The backend is the
// authority on refresh token lifetime either way.
// Post: the Session is populated and IssuedAt is now.
func SignIn(r *ExchangeResult, now time.Time) (Session, error) {
	if !r.HasTokens() || r.AccessTokenExpiration.IsZero() {
		return Session{}, ErrIncompleteSession
	}
	return Session{
		ID:                     idx.NewAt(now),
		AccessToken:            r.Access,
		RefreshToken:           r.Refresh,
		AccessTokenExpiration:  r.AccessTokenExpiration.UTC(),
		RefreshTokenExpiration: r.RefreshTokenExpiration.UTC(),
		Identity:               r.User,
		IssuedAt:               now.UTC(),
	}, nil
}

// Valid reports whether the ID, both tokens and the access token expiration
// are present. RefreshTokenExpiration is optional, as in SignIn.
func (s Session) Valid() bool {
	return !s.ID.IsZero() &&
		s.AccessToken != "" &&
		s.RefreshToken != "" &&
		!s.AccessTokenExpiration.IsZero()
}

// AccessExpired reports whether the access token must be refreshed before
// use. leeway refreshes slightly early.
func (s Session) AccessExpired(now time.Time, leeway time.Duration) bool {
	return now.Add(leeway).After(s.AccessTokenExpiration)
}

// TooOld reports whether the Session outlived maxAge. A non-positive maxAge
// disables the check.
func (s Session) TooOld(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && now.Sub(s.IssuedAt) > maxAge
}

// NeedsReauthentication reports whether the last refresh failed.
func (s Session) NeedsReauthentication() bool {
	return s.Error == RefreshAccessTokenError
}

// WithRefresh applies a successful refresh.
//
// Only the access token and its expiration change, unless the backend
// rotated the refresh token, in which case that is adopted too. Clears the
// error tag.
func (s Session) WithRefresh(r *RefreshResult) Session {
	s.AccessToken = r.Access
	s.AccessTokenExpiration = r.AccessTokenExpiration.UTC()
	if r.Refresh != "" {
		s.RefreshToken = r.Refresh
		if !r.RefreshTokenExpiration.IsZero() {
			s.RefreshTokenExpiration = r.RefreshTokenExpiration.UTC()
		}
	}
	s.Error = ""
	return s
}

// WithRefreshError tags the Session after a failed refresh. Tokens are kept
// as they were.
func (s Session) WithRefreshError() Session {
	s.Error = RefreshAccessTokenError
	return s
}

// WithProfile merges a partial identity update. Tokens are untouched.
func (s Session) WithProfile(p ProfilePatch) Session {
	if p.Email != nil {
		s.Identity.Email = *p.Email
	}
	if p.HasFinishedIntro != nil {
		s.Identity.HasFinishedIntro = *p.HasFinishedIntro
	}
	if p.Image != nil {
		s.Identity.Image = *p.Image
	}
	if p.MotherTongue != nil {
		lang := *p.MotherTongue
		s.Identity.MotherTongue = &lang
	}
	if p.Credit != nil {
		s.Identity.Credit = *p.Credit
	}
	return s
}

// LogValue keeps tokens out of logs.
func (s Session) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("id", s.ID.String()),
		slog.String("user_id", s.Identity.UserID),
		slog.Time("access_expires", s.AccessTokenExpiration),
	}
	if s.Error != "" {
		attrs = append(attrs, slog.String("error", s.Error))
	}
	return slog.GroupValue(attrs...)
}
