package httpx

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(addr string, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(http.MethodPost, "/v1/session/signin", nil)
	} else {
		r = httptest.NewRequest(http.MethodPost, "/v1/session/signin", strings.NewReader(body))
	}
	r.RemoteAddr = addr + ":40000"
	return r
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{name: "peer address", want: "10.0.0.1"},
		{name: "first forwarded hop", header: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.1.1.1"}, want: "203.0.113.7"},
		{name: "real ip", header: map[string]string{"X-Real-IP": " 198.51.100.2 "}, want: "198.51.100.2"},
		{name: "empty forwarded falls through", header: map[string]string{"X-Forwarded-For": " ,10.1.1.1"}, want: "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := requestFrom("10.0.0.1", "")
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			require.Equal(t, tt.want, ClientIP(r))
		})
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "not-an-address"
	require.Equal(t, "not-an-address", ClientIP(r))
}

func TestJSONFieldKey(t *testing.T) {
	t.Parallel()

	key := JSONFieldKey("email")

	r := requestFrom("10.0.0.1", `{"email":" A@B.com ","password":"x"}`)
	require.Equal(t, "a@b.com", key(r))

	// The handler still sees the whole body.
	raw, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.Unmarshal(raw, &body))
	require.Equal(t, "x", body["password"])

	require.Empty(t, key(requestFrom("10.0.0.1", `{"password":"x"}`)))
	require.Empty(t, key(requestFrom("10.0.0.1", `not json`)))
	require.Empty(t, key(requestFrom("10.0.0.1", "")))
}

func TestJoinKeys(t *testing.T) {
	t.Parallel()

	r := requestFrom("10.0.0.1", "")
	require.Equal(t, "10.0.0.1", JoinKeys(SessionKey, ClientIP)(r))

	r = r.WithContext(ContextWithSessionID(r.Context(), "01JABCDEF"))
	require.Equal(t, "01JABCDEF:10.0.0.1", JoinKeys(SessionKey, ClientIP)(r))
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	l := Limit{Requests: 3, Window: time.Minute, Burst: 3}

	t.Run("rejects once the burst is spent", func(t *testing.T) {
		clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
		h := rateLimit(l, ClientIP, clock.Now)(okHandler())

		for i := range 3 {
			require.Equal(t, http.StatusOK, serve(h, requestFrom("10.0.0.1", "")).Code, "request %d", i+1)
		}

		rec := serve(h, requestFrom("10.0.0.1", ""))
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		require.Equal(t, "20", rec.Header().Get("Retry-After"))
		require.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
		require.Equal(t, "1m0s", rec.Header().Get("X-RateLimit-Window"))

		var body ErrorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "rate_limited", body.Code)

		// A rejected request does not consume a token.
		clock.Advance(20 * time.Second)
		require.Equal(t, http.StatusOK, serve(h, requestFrom("10.0.0.1", "")).Code)
		require.Equal(t, http.StatusTooManyRequests, serve(h, requestFrom("10.0.0.1", "")).Code)
	})

	t.Run("keys are independent", func(t *testing.T) {
		clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
		h := rateLimit(l, ClientIP, clock.Now)(okHandler())

		for range 3 {
			serve(h, requestFrom("10.0.0.1", ""))
		}
		require.Equal(t, http.StatusTooManyRequests, serve(h, requestFrom("10.0.0.1", "")).Code)
		require.Equal(t, http.StatusOK, serve(h, requestFrom("10.0.0.2", "")).Code)
	})

	t.Run("empty key is not limited", func(t *testing.T) {
		h := RateLimit(Limit{Requests: 1, Window: time.Hour, Burst: 1}, func(*http.Request) string { return "" })(okHandler())
		for range 5 {
			require.Equal(t, http.StatusOK, serve(h, requestFrom("10.0.0.1", "")).Code)
		}
	})

	t.Run("email and address share a bucket", func(t *testing.T) {
		h := LimitByIPAndField(Limit{Requests: 1, Window: time.Hour, Burst: 1}, "email")(okHandler())

		require.Equal(t, http.StatusOK, serve(h, requestFrom("10.0.0.1", `{"email":"a@b.com"}`)).Code)
		require.Equal(t, http.StatusTooManyRequests, serve(h, requestFrom("10.0.0.1", `{"email":"A@b.com"}`)).Code)
		require.Equal(t, http.StatusOK, serve(h, requestFrom("10.0.0.1", `{"email":"c@d.com"}`)).Code)
		require.Equal(t, http.StatusOK, serve(h, requestFrom("10.0.0.9", `{"email":"a@b.com"}`)).Code)
	})

	t.Run("sessions are limited apart from their address", func(t *testing.T) {
		h := LimitBySession(Limit{Requests: 1, Window: time.Hour, Burst: 1})(okHandler())

		withSession := func(sid string) *http.Request {
			r := requestFrom("10.0.0.1", "")
			return r.WithContext(ContextWithSessionID(r.Context(), sid))
		}
		require.Equal(t, http.StatusOK, serve(h, withSession("a")).Code)
		require.Equal(t, http.StatusTooManyRequests, serve(h, withSession("a")).Code)
		require.Equal(t, http.StatusOK, serve(h, withSession("b")).Code)
	})
}

func TestBucketsSweepIdleKeys(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := newBuckets(Limit{Requests: 60, Window: time.Minute, Burst: 10}, clock.Now)

	require.Zero(t, b.take("old"))
	clock.Advance(30 * time.Second)
	require.Zero(t, b.take("recent"))
	require.Len(t, b.m, 2)

	clock.Advance(45 * time.Second)
	require.Zero(t, b.take("new"))
	require.Len(t, b.m, 2)
	require.NotContains(t, b.m, "old")
}

func TestLimitFromEnv(t *testing.T) {
	def := Limit{Requests: 5, Window: time.Minute, Burst: 5}

	t.Run("defaults", func(t *testing.T) {
		require.Equal(t, def, LimitFromEnv("UNSET_PROFILE", def))
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("RATELIMIT_TESTING_REQUESTS", "100")
		t.Setenv("RATELIMIT_TESTING_WINDOW", "30s")
		t.Setenv("RATELIMIT_TESTING_BURST", "50")

		require.Equal(t, Limit{Requests: 100, Window: 30 * time.Second, Burst: 50}, LimitFromEnv("TESTING", def))
	})

	t.Run("non-positive values keep defaults", func(t *testing.T) {
		t.Setenv("RATELIMIT_TESTING_REQUESTS", "0")
		t.Setenv("RATELIMIT_TESTING_BURST", "-3")
		t.Setenv("RATELIMIT_TESTING_WINDOW", "10s")

		require.Equal(t, Limit{Requests: 5, Window: 10 * time.Second, Burst: 5}, LimitFromEnv("TESTING", def))
	})

	t.Run("garbage discards overrides", func(t *testing.T) {
		t.Setenv("RATELIMIT_TESTING_REQUESTS", "many")
		t.Setenv("RATELIMIT_TESTING_BURST", "50")

		require.Equal(t, def, LimitFromEnv("TESTING", def))
	})
}
