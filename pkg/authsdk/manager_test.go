package authsdk_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
	"github.com/aussiebroadwan/sessionkit/pkg/idx"
	"github.com/stretchr/testify/require"
)

type testClock struct{ nanos atomic.Int64 }

func newTestClock() *testClock {
	c := &testClock{}
	c.nanos.Store(time.Now().UnixNano())
	return c
}

func (c *testClock) Now() time.Time { return time.Unix(0, c.nanos.Load()) }
func (c *testClock) Advance(d time.Duration) { c.nanos.Add(int64(d)) }

func newTestManager(t *testing.T, b *fakeBackend, opts ...func(*authsdk.ManagerConfig)) (*authsdk.Manager, *authsdk.MemoryStore, *countingObserver) {
	t.Helper()

	store := authsdk.NewMemoryStore()
	obs := newCountingObserver()
	cfg := authsdk.ManagerConfig{
		Client:   authsdk.NewSDKClient(b.URL()),
		Store:    store,
		Observer: obs,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return authsdk.NewManager(cfg), store, obs
}

func TestManagerSignIn(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(t)
	m, store, _ := newTestManager(t, b)
	ctx := context.Background()

	t.Run("password", func(t *testing.T) {
		s, err := m.SignInWithPassword(ctx, testEmail, testPassword)
		require.NoError(t, err)

		stored, err := store.Load(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, s, stored)
	})

	t.Run("invalid credentials create no session", func(t *testing.T) {
		s, err := m.SignInWithPassword(ctx, testEmail, "wrong")
		require.Error(t, err)
		require.Equal(t, authsdk.Session{}, s)

		_, err = m.Current(ctx, s.ID)
		require.ErrorIs(t, err, authsdk.ErrNoSession)
	})

	t.Run("registration pending verification", func(t *testing.T) {
		s, err := m.Register(ctx, "verify@b.com", "pw", "pw")
		require.ErrorIs(t, err, authsdk.ErrVerificationSent)
		require.True(t, s.ID.IsZero())
	})

	t.Run("registration", func(t *testing.T) {
		s, err := m.Register(ctx, "new@b.com", "pw", "pw")
		require.NoError(t, err)
		require.True(t, s.Valid())
	})

	t.Run("google", func(t *testing.T) {
		s, err := m.SignInWithGoogle(ctx, googleToken)
		require.NoError(t, err)
		require.True(t, s.Valid())

		_, err = m.SignInWithGoogle(ctx, "forged")
		require.ErrorIs(t, err, authsdk.ErrAccessDenied)
	})
}

func TestManagerCurrentRefreshesExpiredToken(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(t)
	b.set(func(b *fakeBackend) { b.loginAccessTTL = -time.Minute })
	m, _, obs := newTestManager(t, b)
	ctx := context.Background()

	s, err := m.SignInWithPassword(ctx, testEmail, testPassword)
	require.NoError(t, err)

	cur, err := m.Current(ctx, s.ID)
	require.NoError(t, err)
	require.NotEqual(t, s.AccessToken, cur.AccessToken)
	require.Equal(t, int32(1), b.refreshCalls.Load())
	require.Equal(t, 1, obs.refreshCount(authsdk.RefreshOutcomeRefreshed))

	// Fresh now; reading again does not refresh.
	again, err := m.Current(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, cur.AccessToken, again.AccessToken)
	require.Equal(t, int32(1), b.refreshCalls.Load())
}

func TestManagerCurrentTagsFailedRefresh(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(t)
	b.set(func(b *fakeBackend) {
		b.loginAccessTTL = -time.Minute
		b.refreshFails = true
	})
	m, _, _ := newTestManager(t, b)
	ctx := context.Background()

	s, err := m.SignInWithPassword(ctx, testEmail, testPassword)
	require.NoError(t, err)

	cur, err := m.Current(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, cur.NeedsReauthentication())
	require.Equal(t, s.AccessToken, cur.AccessToken)
	require.Equal(t, s.RefreshToken, cur.RefreshToken)
}

func TestManagerRoundTrip(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(t)
	m, _, _ := newTestManager(t, b)
	ctx := context.Background()

	s, err := m.SignInWithPassword(ctx, testEmail, testPassword)
	require.NoError(t, err)

	_, err = m.Refresh(ctx, s.ID)
	require.NoError(t, err)

	got, err := m.Current(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, s.RefreshToken, got.RefreshToken)
	require.Equal(t, s.Identity, got.Identity)
	require.True(t, got.AccessTokenExpiration.After(s.AccessTokenExpiration))
}

func TestManagerRotatedRefreshToken(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(t)
	b.set(func(b *fakeBackend) { b.rotate = true })
	m, _, _ := newTestManager(t, b)
	ctx := context.Background()

	s, err := m.SignInWithPassword(ctx, testEmail, testPassword)
	require.NoError(t, err)

	got, err := m.Refresh(ctx, s.ID)
	require.NoError(t, err)
	require.NotEqual(t, s.RefreshToken, got.RefreshToken)

	// The old refresh token is dead on the backend; the stored one works.
	got, err = m.Refresh(ctx, s.ID)
	require.NoError(t, err)
	require.False(t, got.NeedsReauthentication())
}

func TestManagerMaxAge(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(t)
	clock := newTestClock()
	m, store, _ := newTestManager(t, b, func(cfg *authsdk.ManagerConfig) {
		cfg.Now = clock.Now
		cfg.MaxAge = time.Hour
	})
	ctx := context.Background()

	s, err := m.SignInWithPassword(ctx, testEmail, testPassword)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = m.Current(ctx, s.ID)
	require.ErrorIs(t, err, authsdk.ErrNoSession)

	_, err = store.Load(ctx, s.ID)
	require.ErrorIs(t, err, authsdk.ErrNoSession)
}

func TestManagerProfile(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(t)
	m, _, _ := newTestManager(t, b)
	ctx := context.Background()

	s, err := m.SignInWithPassword(ctx, testEmail, testPassword)
	require.NoError(t, err)

	t.Run("local patch", func(t *testing.T) {
		credit := s.Identity.Credit - 1
		got, err := m.UpdateProfile(ctx, s.ID, authsdk.ProfilePatch{Credit: &credit})
		require.NoError(t, err)
		require.Equal(t, credit, got.Identity.Credit)
		require.Equal(t, s.AccessToken, got.AccessToken)
	})

	t.Run("backend wins on fetch", func(t *testing.T) {
		got, err := m.RefreshProfile(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, 10, got.Identity.Credit)
	})

	t.Run("save", func(t *testing.T) {
		lang := 4
		got, err := m.SaveProfile(ctx, s.ID, authsdk.ProfileUpdate{
			Email:            testEmail,
			HasFinishedIntro: true,
			MotherTongue:     &lang,
		})
		require.NoError(t, err)
		require.True(t, got.Identity.HasFinishedIntro)
		require.Equal(t, 4, got.Identity.MotherTongue.ID)
		require.Equal(t, int32(1), b.profilePutCalls.Load())
	})

	t.Run("empty patch", func(t *testing.T) {
		before, err := m.Current(ctx, s.ID)
		require.NoError(t, err)
		got, err := m.UpdateProfile(ctx, s.ID, authsdk.ProfilePatch{})
		require.NoError(t, err)
		require.Equal(t, before, got)
	})
}

func TestManagerSignOut(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(t)
	m, _, _ := newTestManager(t, b)
	ctx := context.Background()

	s, err := m.SignInWithPassword(ctx, testEmail, testPassword)
	require.NoError(t, err)
	require.NoError(t, m.SignOut(ctx, s.ID))

	_, err = m.Current(ctx, s.ID)
	require.ErrorIs(t, err, authsdk.ErrNoSession)

	_, err = m.Current(ctx, idx.Zero)
	require.ErrorIs(t, err, authsdk.ErrNoSession)
}
