package authsdk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/cryptox"
	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
	"golang.org/x/sync/singleflight"
)

// Refresher performs the refresh network call. *SDKClient implements it.
type Refresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*RefreshResult, error)
}

// RefreshOutcome labels a refresh for metrics.
type RefreshOutcome string

const (
	RefreshOutcomeRefreshed RefreshOutcome = "refreshed"
	RefreshOutcomeShared    RefreshOutcome = "shared"
	RefreshOutcomeFailed    RefreshOutcome = "failed"
	RefreshOutcomeNoSession RefreshOutcome = "no_session"
)

// RetryOutcome labels a dispatcher decision after a 401.
type RetryOutcome string

const (
	RetryOutcomeRetried       RetryOutcome = "retried"
	RetryOutcomeRefreshFailed RetryOutcome = "refresh_failed"
	RetryOutcomeExhausted     RetryOutcome = "exhausted"
)

// Observer receives refresh and retry events.
type Observer interface {
	ObserveRefresh(outcome RefreshOutcome)
	ObserveRetry(outcome RetryOutcome)
}

type nopObserver struct{}

func (nopObserver) ObserveRefresh(RefreshOutcome) {}
func (nopObserver) ObserveRetry(RetryOutcome)     {}

// DefaultRecentWindow is how long a finished refresh is handed to late
// callers that still hold the old refresh token.
const DefaultRecentWindow = 10 * time.Second

// RefreshCoordinator refreshes access tokens with at most one network call
// in flight per session and refresh token.
type RefreshCoordinator struct {
	refresher Refresher
	observer  Observer
	now       func() time.Time
	window    time.Duration
	onReauth  func(ctx context.Context, s Session)

	group singleflight.Group

	mu     sync.Mutex
	recent map[string]recentRefresh
}

type recentRefresh struct {
	result *RefreshResult
	at     time.Time
}

// CoordinatorOption configures a RefreshCoordinator.
type CoordinatorOption func(*RefreshCoordinator)

// WithObserver reports outcomes to o.
func WithObserver(o Observer) CoordinatorOption {
	return func(c *RefreshCoordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *RefreshCoordinator) { c.now = now }
}

// WithRecentWindow sets how long finished refreshes are reused. Zero turns
// reuse off.
func WithRecentWindow(d time.Duration) CoordinatorOption {
	return func(c *RefreshCoordinator) { c.window = d }
}

// WithReauthenticateHook is called when a Session has no refresh token and a
// full sign-in is the only way forward.
func WithReauthenticateHook(fn func(ctx context.Context, s Session)) CoordinatorOption {
	return func(c *RefreshCoordinator) { c.onReauth = fn }
}

func NewRefreshCoordinator(r Refresher, opts ...CoordinatorOption) *RefreshCoordinator {
	c := &RefreshCoordinator{
		refresher: r,
		observer:  nopObserver{},
		now:       time.Now,
		window:    DefaultRecentWindow,
		recent:    make(map[string]recentRefresh),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh returns s with a new access token.
//
// Concurrent calls for the same session and refresh token share one call to
// the backend. On failure the returned Session carries the
// RefreshAccessTokenError tag and the error wraps ErrRefreshAccessToken.
// Without a refresh token no call is made and ErrNoSession is returned.
//
// A refresh that finished within the recent window is reused only when its
// access token differs from s.AccessToken; a caller already holding that
// token gets a new one from the backend.
func (c *RefreshCoordinator) Refresh(ctx context.Context, s Session) (Session, error) {
	return c.refresh(ctx, s, true)
}

// ForceRefresh is Refresh without reuse of recently finished refreshes. It
// still joins a refresh already in flight.
func (c *RefreshCoordinator) ForceRefresh(ctx context.Context, s Session) (Session, error) {
	return c.refresh(ctx, s, false)
}

func (c *RefreshCoordinator) refresh(ctx context.Context, s Session, reuse bool) (Session, error) {
	logger := slogx.FromContext(ctx)

	if s.RefreshToken == "" {
		c.observer.ObserveRefresh(RefreshOutcomeNoSession)
		logger.Info("session has no refresh token, re-authentication required")
		if c.onReauth != nil {
			c.onReauth(ctx, s)
		}
		return s, ErrNoSession
	}

	key := s.ID.String() + ":" + cryptox.FingerprintToken(s.RefreshToken)

	if reuse {
		if res, ok := c.lookupRecent(key); ok && res.Access != s.AccessToken {
			c.observer.ObserveRefresh(RefreshOutcomeShared)
			return s.WithRefresh(res), nil
		}
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		// One caller giving up must not fail the others.
		res, err := c.refresher.RefreshAccessToken(context.WithoutCancel(ctx), s.RefreshToken)
		if err != nil {
			return nil, err
		}
		c.remember(key, res)
		return res, nil
	})
	if err != nil {
		c.observer.ObserveRefresh(RefreshOutcomeFailed)
		logger.Warn("access token refresh failed",
			slog.Any("session", s),
			slog.String("error", err.Error()),
		)
		return s.WithRefreshError(), fmt.Errorf("%w: %w", ErrRefreshAccessToken, err)
	}

	if shared {
		c.observer.ObserveRefresh(RefreshOutcomeShared)
	} else {
		c.observer.ObserveRefresh(RefreshOutcomeRefreshed)
		logger.Debug("access token refreshed", slog.Any("session", s))
	}
	return s.WithRefresh(v.(*RefreshResult)), nil
}

func (c *RefreshCoordinator) lookupRecent(key string) (*RefreshResult, bool) {
	if c.window <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.recent[key]
	if !ok || c.now().Sub(r.at) > c.window {
		return nil, false
	}
	return r.result, true
}

func (c *RefreshCoordinator) remember(key string, res *RefreshResult) {
	if c.window <= 0 {
		return
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, r := range c.recent {
		if now.Sub(r.at) > c.window {
			delete(c.recent, k)
		}
	}
	c.recent[key] = recentRefresh{result: res, at: now}
}
