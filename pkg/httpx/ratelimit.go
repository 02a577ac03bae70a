package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
)

// Limit is a token bucket refilled with Requests tokens per Window and
// holding at most Burst.
type Limit struct {
	Requests int           `env:"REQUESTS"`
	Window   time.Duration `env:"WINDOW"`
	Burst    int           `env:"BURST"`
}

// Profiles shared by the sessiond routes. Each can be overridden with
// RATELIMIT_{STRICT,MODERATE,LENIENT,PUBLIC}_{REQUESTS,WINDOW,BURST}.
var (
	// StrictLimit guards credential endpoints: sign-in, registration and
	// password reset.
	StrictLimit = Limit{Requests: 5, Window: time.Minute, Burst: 5}

	// ModerateLimit covers session mutations and refreshes.
	ModerateLimit = Limit{Requests: 20, Window: time.Minute, Burst: 20}

	// LenientLimit covers session reads and the API proxy.
	LenientLimit = Limit{Requests: 100, Window: time.Minute, Burst: 100}

	// PublicLimit covers health probes.
	PublicLimit = Limit{Requests: 1000, Window: time.Minute, Burst: 1000}
)

func init() {
	StrictLimit = LimitFromEnv("STRICT", StrictLimit)
	ModerateLimit = LimitFromEnv("MODERATE", ModerateLimit)
	LenientLimit = LimitFromEnv("LENIENT", LenientLimit)
	PublicLimit = LimitFromEnv("PUBLIC", PublicLimit)
}

// LimitFromEnv applies RATELIMIT_{name}_* overrides to def. Unset or
// non-positive values keep the default; an unparseable one discards all
// overrides for that profile.
func LimitFromEnv(name string, def Limit) Limit {
	l := def
	if err := env.ParseWithOptions(&l, env.Options{Prefix: "RATELIMIT_" + name + "_"}); err != nil {
		slog.Warn("ignoring rate limit override",
			slog.String("profile", name),
			slog.String("error", err.Error()),
		)
		return def
	}
	if l.Requests <= 0 {
		l.Requests = def.Requests
	}
	if l.Window <= 0 {
		l.Window = def.Window
	}
	if l.Burst <= 0 {
		l.Burst = def.Burst
	}
	return l
}

func (l Limit) perSecond() rate.Limit {
	return rate.Limit(float64(l.Requests) / l.Window.Seconds())
}

// refillTime is how long an unused bucket takes to fill up again.
func (l Limit) refillTime() time.Duration {
	return time.Duration(float64(l.Burst) / float64(l.perSecond()) * float64(time.Second))
}

// KeyFunc picks the bucket a request is counted against. An empty key
// exempts the request.
type KeyFunc func(*http.Request) string

// ClientIP is the first X-Forwarded-For hop, then X-Real-IP, then the peer
// address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SessionKey is the session ID put in the context by the cookie middleware.
func SessionKey(r *http.Request) string {
	return SessionIDFromContext(r.Context())
}

// JoinKeys joins the non-empty keys of fns with ":".
func JoinKeys(fns ...KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(fns))
		for _, fn := range fns {
			if k := fn(r); k != "" {
				parts = append(parts, k)
			}
		}
		return strings.Join(parts, ":")
	}
}

const maxKeyBody = 64 << 10

// JSONFieldKey reads a top-level string field of a JSON body, lowercased,
// and puts the body back for the handler.
func JSONFieldKey(field string) KeyFunc {
	return func(r *http.Request) string {
		if r.Body == nil {
			return ""
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxKeyBody))
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(raw))
		if err != nil {
			return ""
		}

		var body map[string]any
		if json.Unmarshal(raw, &body) != nil {
			return ""
		}
		v, _ := body[field].(string)
		return strings.ToLower(strings.TrimSpace(v))
	}
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// buckets holds one limiter per key. A bucket unused for a full refill
// period is indistinguishable from a new one and gets dropped.
type buckets struct {
	limit Limit
	now   func() time.Time

	mu        sync.Mutex
	m         map[string]*bucket
	lastSweep time.Time
}

func newBuckets(l Limit, now func() time.Time) *buckets {
	return &buckets{limit: l, now: now, m: make(map[string]*bucket), lastSweep: now()}
}

// take consumes a token for key. It returns zero when the request may
// proceed, or how long until a token is available.
func (b *buckets) take(key string) time.Duration {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	idle := max(b.limit.refillTime(), time.Minute)
	if now.Sub(b.lastSweep) > idle {
		for k, bk := range b.m {
			if now.Sub(bk.lastSeen) > idle {
				delete(b.m, k)
			}
		}
		b.lastSweep = now
	}

	bk, ok := b.m[key]
	if !ok {
		bk = &bucket{lim: rate.NewLimiter(b.limit.perSecond(), b.limit.Burst)}
		b.m[key] = bk
	}
	bk.lastSeen = now

	res := bk.lim.ReserveN(now, 1)
	if !res.OK() {
		return b.limit.Window
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return wait
	}
	return 0
}

// RateLimit answers 429 with Retry-After once the caller's bucket is empty.
func RateLimit(l Limit, key KeyFunc) Middleware {
	return rateLimit(l, key, time.Now)
}

func rateLimit(l Limit, key KeyFunc, now func() time.Time) Middleware {
	b := newBuckets(l, now)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			wait := b.take(k)
			if wait == 0 {
				next.ServeHTTP(w, r)
				return
			}

			secs := max(int(math.Ceil(wait.Seconds())), 1)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.Requests))
			w.Header().Set("X-RateLimit-Window", l.Window.String())

			slogx.FromContext(r.Context()).Warn("rate limited",
				slog.String("path", r.URL.Path),
				slog.Int("retry_after", secs),
			)
			WriteError(w, http.StatusTooManyRequests, ErrorBody{
				Code:    "rate_limited",
				Message: "Too many requests. Please try again later.",
			})
		})
	}
}

// LimitByIP keys on the client address.
func LimitByIP(l Limit) Middleware {
	return RateLimit(l, ClientIP)
}

// LimitBySession keys on the session, then the client address.
func LimitBySession(l Limit) Middleware {
	return RateLimit(l, JoinKeys(SessionKey, ClientIP))
}

// LimitByIPAndField keys on the client address and a JSON body field, so
// sign-in attempts for one email from one address share a bucket.
func LimitByIPAndField(l Limit, field string) Middleware {
	return RateLimit(l, JoinKeys(ClientIP, JSONFieldKey(field)))
}
