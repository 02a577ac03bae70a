package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
	"github.com/aussiebroadwan/sessionkit/pkg/idx"
)

// Sessions is an authsdk.Store holding at most one Session per profile.
// Saving a Session with a new ID replaces the profile's previous one.
type Sessions struct {
	db      *sql.DB
	profile string
}

var _ authsdk.Store = (*Sessions)(nil)

const selectSession = `
SELECT session_id, access_token, refresh_token, access_expires_at,
       refresh_expires_at, identity, error, issued_at
FROM sessions
WHERE profile = ?`

// Current returns the ID of the profile's Session, or ErrNoSession.
func (r *Sessions) Current(ctx context.Context) (idx.ID, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT session_id FROM sessions WHERE profile = ?`, r.profile,
	).Scan(&id)
	if err != nil {
		return idx.Zero, mapNotFound(err)
	}
	return idx.ID(id), nil
}

func (r *Sessions) Load(ctx context.Context, id idx.ID) (authsdk.Session, error) {
	row := r.db.QueryRowContext(ctx, selectSession+` AND session_id = ?`, r.profile, id.String())

	var (
		s                                    authsdk.Session
		sid, accessExp, refreshExp, identity string
		issuedAt                             string
	)
	err := row.Scan(&sid, &s.AccessToken, &s.RefreshToken, &accessExp, &refreshExp, &identity, &s.Error, &issuedAt)
	if err != nil {
		return authsdk.Session{}, mapNotFound(err)
	}

	s.ID = idx.ID(sid)
	if s.AccessTokenExpiration, err = parseTime(accessExp); err != nil {
		return authsdk.Session{}, err
	}
	if s.RefreshTokenExpiration, err = parseTime(refreshExp); err != nil {
		return authsdk.Session{}, err
	}
	if s.IssuedAt, err = parseTime(issuedAt); err != nil {
		return authsdk.Session{}, err
	}
	if err := json.Unmarshal([]byte(identity), &s.Identity); err != nil {
		return authsdk.Session{}, fmt.Errorf("failed to decode stored identity: %w", err)
	}
	return s, nil
}

func (r *Sessions) Save(ctx context.Context, s authsdk.Session) error {
	if !s.Valid() {
		return authsdk.ErrIncompleteSession
	}

	identity, err := json.Marshal(s.Identity)
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO sessions (
    profile, session_id, access_token, refresh_token, access_expires_at,
    refresh_expires_at, identity, error, issued_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (profile) DO UPDATE SET
    session_id         = excluded.session_id,
    access_token       = excluded.access_token,
    refresh_token      = excluded.refresh_token,
    access_expires_at  = excluded.access_expires_at,
    refresh_expires_at = excluded.refresh_expires_at,
    identity           = excluded.identity,
    error              = excluded.error,
    issued_at          = excluded.issued_at,
    updated_at         = excluded.updated_at`,
		r.profile,
		s.ID.String(),
		s.AccessToken,
		s.RefreshToken,
		formatTime(s.AccessTokenExpiration),
		formatTime(s.RefreshTokenExpiration),
		string(identity),
		s.Error,
		formatTime(s.IssuedAt),
		formatTime(time.Now()),
	)
	return err
}

func (r *Sessions) Delete(ctx context.Context, id idx.ID) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE profile = ? AND session_id = ?`,
		r.profile, id.String(),
	)
	return err
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return authsdk.ErrNoSession
	}
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", s, err)
	}
	return t, nil
}
