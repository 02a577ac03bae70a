package authsdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/idx"
	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
)

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Client *SDKClient
	Store  Store

	// Coordinator defaults to one built on Client.
	Coordinator *RefreshCoordinator

	// HTTPClient sends dispatched requests. Defaults to Client.HTTPClient.
	HTTPClient *http.Client

	// RefreshLeeway refreshes this long before the access token expires.
	RefreshLeeway time.Duration

	// MaxAge defaults to DefaultMaxAge. Negative disables it.
	MaxAge time.Duration

	Observer Observer
	Now      func() time.Time
}

// Manager runs the session pipeline: sign-in, materialization with
// proactive refresh, profile updates and sign-out. It is the only writer of
// the Store.
type Manager struct {
	client      *SDKClient
	store       Store
	coordinator *RefreshCoordinator
	httpClient  *http.Client
	observer    Observer
	leeway      time.Duration
	maxAge      time.Duration
	now         func() time.Time
}

func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		client:      cfg.Client,
		store:       cfg.Store,
		coordinator: cfg.Coordinator,
		httpClient:  cfg.HTTPClient,
		observer:    cfg.Observer,
		leeway:      cfg.RefreshLeeway,
		maxAge:      cfg.MaxAge,
		now:         cfg.Now,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.observer == nil {
		m.observer = nopObserver{}
	}
	if m.maxAge == 0 {
		m.maxAge = DefaultMaxAge
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	if m.httpClient == nil {
		m.httpClient = cfg.Client.HTTPClient
	}
	if m.coordinator == nil {
		m.coordinator = NewRefreshCoordinator(cfg.Client,
			WithObserver(m.observer),
			WithClock(m.now),
		)
	}
	return m
}

// Client returns the SDK client used for unauthenticated calls.
func (m *Manager) Client() *SDKClient { return m.client }

// SignInWithPassword logs in and stores the new Session. On any error no
// Session is created.
func (m *Manager) SignInWithPassword(ctx context.Context, email, password string) (Session, error) {
	res, err := m.client.Login(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return m.signIn(ctx, res)
}

// Register creates an account. When the backend requires email
// verification first, ErrVerificationSent is returned and no Session exists.
func (m *Manager) Register(ctx context.Context, email, password, passwordConfirm string) (Session, error) {
	res, err := m.client.Register(ctx, email, password, passwordConfirm)
	if err != nil {
		return Session{}, err
	}
	return m.signIn(ctx, res)
}

// SignInWithGoogle runs the OAuth Bridge. A denied exchange is ErrAccessDenied.
func (m *Manager) SignInWithGoogle(ctx context.Context, idToken string) (Session, error) {
	res, ok := m.client.ExchangeGoogleToken(ctx, idToken)
	if !ok {
		return Session{}, ErrAccessDenied
	}
	return m.signIn(ctx, res)
}

func (m *Manager) signIn(ctx context.Context, res *ExchangeResult) (Session, error) {
	s, err := SignIn(res, m.now())
	if err != nil {
		return Session{}, err
	}
	if err := m.store.Save(ctx, s); err != nil {
		return Session{}, fmt.Errorf("failed to save session: %w", err)
	}
	slogx.FromContext(ctx).Info("signed in", slog.Any("session", s))
	return s, nil
}

// Current materializes the Session. An expired access token is refreshed
// before returning. If that refresh fails the Session comes back tagged
// with RefreshAccessTokenError and stale tokens, with a nil error; callers
// must check NeedsReauthentication.
func (m *Manager) Current(ctx context.Context, id idx.ID) (Session, error) {
	s, err := m.load(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !s.AccessExpired(m.now(), m.leeway) {
		return s, nil
	}

	refreshed, err := m.coordinator.Refresh(ctx, s)
	if errors.Is(err, ErrNoSession) {
		return Session{}, err
	}
	if saveErr := m.store.Save(ctx, refreshed); saveErr != nil {
		return Session{}, fmt.Errorf("failed to save session: %w", saveErr)
	}
	return refreshed, nil
}

// Refresh forces a refresh regardless of expiry.
func (m *Manager) Refresh(ctx context.Context, id idx.ID) (Session, error) {
	s, err := m.load(ctx, id)
	if err != nil {
		return Session{}, err
	}
	return m.refresh(ctx, s, true)
}

// refreshAfterUnauthorized refreshes unless the stored access token already
// differs from the one the backend rejected, which means another caller
// refreshed in the meantime.
func (m *Manager) refreshAfterUnauthorized(ctx context.Context, id idx.ID, rejected string) (Session, error) {
	s, err := m.load(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s.AccessToken != rejected {
		return s, nil
	}
	return m.refresh(ctx, s, false)
}

func (m *Manager) refresh(ctx context.Context, s Session, force bool) (Session, error) {
	refresh := m.coordinator.Refresh
	if force {
		refresh = m.coordinator.ForceRefresh
	}
	refreshed, err := refresh(ctx, s)
	if errors.Is(err, ErrNoSession) {
		return Session{}, err
	}
	if saveErr := m.store.Save(ctx, refreshed); saveErr != nil {
		return Session{}, fmt.Errorf("failed to save session: %w", saveErr)
	}
	return refreshed, err
}

// UpdateProfile merges patch into the Session's identity.
func (m *Manager) UpdateProfile(ctx context.Context, id idx.ID, patch ProfilePatch) (Session, error) {
	s, err := m.load(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if patch.IsEmpty() {
		return s, nil
	}
	s = s.WithProfile(patch)
	if err := m.store.Save(ctx, s); err != nil {
		return Session{}, fmt.Errorf("failed to save session: %w", err)
	}
	return s, nil
}

// RefreshProfile fetches the user from the backend and overwrites the
// Session's identity with it.
func (m *Manager) RefreshProfile(ctx context.Context, id idx.ID) (Session, error) {
	s, err := m.Current(ctx, id)
	if err != nil {
		return Session{}, err
	}

	resp, err := m.Dispatcher(id).Do(ctx, Request{
		Method: http.MethodGet,
		Path:   UserPath(s.Identity.UserID),
	})
	if err != nil {
		return Session{}, err
	}

	var user Identity
	if err := resp.DecodeJSON(&user); err != nil {
		return Session{}, err
	}
	return m.UpdateProfile(ctx, id, PatchFromIdentity(user))
}

// SaveProfile writes the profile to the backend and applies what it
// returns.
func (m *Manager) SaveProfile(ctx context.Context, id idx.ID, update ProfileUpdate) (Session, error) {
	s, err := m.Current(ctx, id)
	if err != nil {
		return Session{}, err
	}

	req, err := NewJSONRequest(http.MethodPut, UserPath(s.Identity.UserID), update)
	if err != nil {
		return Session{}, err
	}
	resp, err := m.Dispatcher(id).Do(ctx, req)
	if err != nil {
		return Session{}, err
	}

	var user Identity
	if err := resp.DecodeJSON(&user); err != nil {
		return Session{}, err
	}
	return m.UpdateProfile(ctx, id, PatchFromIdentity(user))
}

// SignOut destroys the Session.
func (m *Manager) SignOut(ctx context.Context, id idx.ID) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	slogx.FromContext(ctx).Info("signed out",
		slog.String("session_id", id.String()),
		slog.Duration("age", id.Age(m.now())),
	)
	return nil
}

// Dispatcher returns a Dispatcher authorized as the Session id.
func (m *Manager) Dispatcher(id idx.ID) *Dispatcher {
	return &Dispatcher{
		baseURL:    m.client.BaseURL,
		httpClient: m.httpClient,
		observer:   m.observer,
		source:     managedSource{m: m, id: id},
	}
}

// load returns the stored Session, dropping it when older than MaxAge.
func (m *Manager) load(ctx context.Context, id idx.ID) (Session, error) {
	if id.IsZero() {
		return Session{}, ErrNoSession
	}
	s, err := m.store.Load(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s.TooOld(m.now(), m.maxAge) {
		if err := m.store.Delete(ctx, id); err != nil {
			return Session{}, fmt.Errorf("failed to delete session: %w", err)
		}
		slogx.FromContext(ctx).Info("session exceeded max age", slog.Any("session", s))
		return Session{}, ErrNoSession
	}
	return s, nil
}

type managedSource struct {
	m  *Manager
	id idx.ID
}

func (s managedSource) current(ctx context.Context) (Session, error) {
	return s.m.Current(ctx, s.id)
}

func (s managedSource) refreshAfterUnauthorized(ctx context.Context, rejected string) (Session, error) {
	return s.m.refreshAfterUnauthorized(ctx, s.id, rejected)
}
