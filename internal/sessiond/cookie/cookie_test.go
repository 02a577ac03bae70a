package cookie_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/sessionkit/internal/sessiond/cookie"
	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
	"github.com/aussiebroadwan/sessionkit/pkg/httpx"
	"github.com/aussiebroadwan/sessionkit/pkg/idx"
	"github.com/stretchr/testify/require"
)

var (
	jwtSecret     = []byte("jwt-secret-for-tests-0123456789")
	sessionSecret = []byte("session-secret-for-tests-abcdef")
)

func newCodec(t *testing.T, secure bool) *cookie.Codec {
	t.Helper()
	c, err := cookie.NewCodec(cookie.Config{Name: "sessionkit", Secure: secure}, jwtSecret, sessionSecret)
	require.NoError(t, err)
	return c
}

func newSession(t *testing.T, issuedAt time.Time) authsdk.Session {
	t.Helper()
	s, err := authsdk.SignIn(&authsdk.ExchangeResult{
		Access:                "access-token",
		Refresh:               "refresh-token",
		AccessTokenExpiration: authsdk.Timestamp{Time: issuedAt.Add(5 * time.Minute)},
		User:                  authsdk.Identity{UserID: "u-1", Email: "a@b.com"},
	}, issuedAt)
	require.NoError(t, err)
	return s
}

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	c := newCodec(t, false)
	s := newSession(t, time.Now().Truncate(time.Second))

	value, err := c.Encode(s)
	require.NoError(t, err)
	require.NotContains(t, value, "access-token")
	require.NotContains(t, value, "refresh-token")

	got, err := c.Decode(value)
	require.NoError(t, err)
	require.Equal(t, s.ID, got.ID)
	require.Equal(t, s.AccessToken, got.AccessToken)
	require.Equal(t, s.RefreshToken, got.RefreshToken)
	require.Equal(t, s.Identity, got.Identity)
	require.True(t, s.AccessTokenExpiration.Equal(got.AccessTokenExpiration))
}

func TestCodecRejects(t *testing.T) {
	t.Parallel()

	c := newCodec(t, false)
	s := newSession(t, time.Now())

	value, err := c.Encode(s)
	require.NoError(t, err)

	t.Run("tampered", func(t *testing.T) {
		b := []byte(value)
		b[len(b)/2] ^= 'x' ^ 'y'
		_, err := c.Decode(string(b))
		require.ErrorIs(t, err, cookie.ErrInvalid)
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := cookie.NewCodec(cookie.Config{Name: "sessionkit"}, jwtSecret, []byte("another-session-secret-000000"))
		require.NoError(t, err)
		_, err = other.Decode(value)
		require.ErrorIs(t, err, cookie.ErrInvalid)
	})

	t.Run("older than max age", func(t *testing.T) {
		old := newSession(t, time.Now().Add(-25*time.Hour))
		v, err := c.Encode(old)
		require.NoError(t, err)
		_, err = c.Decode(v)
		require.ErrorIs(t, err, cookie.ErrInvalid)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := c.Decode("not-a-cookie")
		require.ErrorIs(t, err, cookie.ErrInvalid)
	})
}

func TestCookieAttributes(t *testing.T) {
	t.Parallel()

	s := newSession(t, time.Now())

	t.Run("secure uses host prefix", func(t *testing.T) {
		c := newCodec(t, true)
		rec := httptest.NewRecorder()
		require.NoError(t, c.Write(rec, s))

		ck := rec.Result().Cookies()[0]
		require.Equal(t, "__Host-sessionkit", ck.Name)
		require.True(t, ck.Secure)
		require.True(t, ck.HttpOnly)
		require.Equal(t, "/", ck.Path)
		require.Greater(t, ck.MaxAge, 0)
	})

	t.Run("clear", func(t *testing.T) {
		c := newCodec(t, false)
		rec := httptest.NewRecorder()
		c.Clear(rec)

		ck := rec.Result().Cookies()[0]
		require.Equal(t, "sessionkit", ck.Name)
		require.Less(t, ck.MaxAge, 0)
	})
}

func TestMiddlewareStore(t *testing.T) {
	t.Parallel()

	c := newCodec(t, false)
	store := cookie.Store{}
	s := newSession(t, time.Now())

	t.Run("no cookie means no session and no Set-Cookie", func(t *testing.T) {
		h := cookie.Middleware(c)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.True(t, cookie.SessionID(r.Context()).IsZero())
			_, err := store.Load(r.Context(), s.ID)
			require.ErrorIs(t, err, authsdk.ErrNoSession)
			w.WriteHeader(http.StatusNoContent)
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Empty(t, rec.Result().Cookies())
	})

	t.Run("save writes the cookie before the body", func(t *testing.T) {
		h := cookie.Middleware(c)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, store.Save(r.Context(), s))
			httpx.WriteJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)

		got, err := c.Decode(cookies[0].Value)
		require.NoError(t, err)
		require.Equal(t, s.ID, got.ID)
	})

	t.Run("existing cookie is loaded and can be deleted", func(t *testing.T) {
		value, err := c.Encode(s)
		require.NoError(t, err)

		h := cookie.Middleware(c)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, s.ID, cookie.SessionID(r.Context()))
			require.Equal(t, s.ID.String(), httpx.SessionIDFromContext(r.Context()))

			got, err := store.Load(r.Context(), s.ID)
			require.NoError(t, err)
			require.Equal(t, s.AccessToken, got.AccessToken)

			_, err = store.Load(r.Context(), idx.New())
			require.ErrorIs(t, err, authsdk.ErrNoSession)

			require.NoError(t, store.Delete(r.Context(), s.ID))
		}))

		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.AddCookie(&http.Cookie{Name: c.Name(), Value: value})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		require.Less(t, cookies[0].MaxAge, 0)
	})

	t.Run("bad cookie is cleared", func(t *testing.T) {
		h := cookie.Middleware(c)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.True(t, cookie.SessionID(r.Context()).IsZero())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: c.Name(), Value: strings.Repeat("A", 64)})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		require.Less(t, cookies[0].MaxAge, 0)
	})

	t.Run("outside a request", func(t *testing.T) {
		_, err := store.Load(context.Background(), s.ID)
		require.ErrorIs(t, err, authsdk.ErrNoSession)
		require.ErrorIs(t, store.Save(context.Background(), s), authsdk.ErrNoSession)
	})
}
