package cookie

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
	"github.com/aussiebroadwan/sessionkit/pkg/httpx"
	"github.com/aussiebroadwan/sessionkit/pkg/idx"
	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
)

// Store is an authsdk.Store over the cookie of the request in ctx. Every
// request gets its own jar from Middleware, so one Store serves the whole
// process. Writes reach the browser when the response header is written.
type Store struct{}

var _ authsdk.Store = Store{}

type jar struct {
	mu      sync.Mutex
	session authsdk.Session
	present bool
	dirty   bool
}

type jarKey struct{}

func jarFrom(ctx context.Context) *jar {
	j, _ := ctx.Value(jarKey{}).(*jar)
	return j
}

func (Store) Load(ctx context.Context, id idx.ID) (authsdk.Session, error) {
	j := jarFrom(ctx)
	if j == nil {
		return authsdk.Session{}, authsdk.ErrNoSession
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.present || j.session.ID != id {
		return authsdk.Session{}, authsdk.ErrNoSession
	}
	return j.session, nil
}

func (Store) Save(ctx context.Context, s authsdk.Session) error {
	if !s.Valid() {
		return authsdk.ErrIncompleteSession
	}
	j := jarFrom(ctx)
	if j == nil {
		return authsdk.ErrNoSession
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	j.session = s
	j.present = true
	j.dirty = true
	return nil
}

func (Store) Delete(ctx context.Context, id idx.ID) error {
	j := jarFrom(ctx)
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.present && j.session.ID == id {
		j.session = authsdk.Session{}
		j.present = false
		j.dirty = true
	}
	return nil
}

// SessionID returns the ID of the Session currently held for this request,
// or idx.Zero.
func SessionID(ctx context.Context) idx.ID {
	j := jarFrom(ctx)
	if j == nil {
		return idx.Zero
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.present {
		return idx.Zero
	}
	return j.session.ID
}

// Middleware loads the session cookie into a per-request jar and writes it
// back, or clears it, before the response header goes out. A cookie that
// fails to decode is treated as absent and cleared.
func Middleware(codec *Codec) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			j := &jar{}

			s, err := codec.Read(r)
			switch {
			case err == nil:
				j.session = s
				j.present = true
			case !errors.Is(err, authsdk.ErrNoSession):
				slogx.FromContext(r.Context()).Debug("discarding session cookie", slog.String("error", err.Error()))
				j.dirty = true
			}

			ctx := context.WithValue(r.Context(), jarKey{}, j)
			if j.present {
				ctx = httpx.ContextWithSessionID(ctx, s.ID.String())
				ctx = slogx.WithSessionID(ctx, s.ID.String())
			}

			fw := &flushWriter{ResponseWriter: w, jar: j, codec: codec, ctx: ctx}
			next.ServeHTTP(fw, r.WithContext(ctx))
			fw.flush()
		})
	}
}

type flushWriter struct {
	http.ResponseWriter
	jar     *jar
	codec   *Codec
	ctx     context.Context
	flushed bool
}

func (w *flushWriter) flush() {
	if w.flushed {
		return
	}
	w.flushed = true

	w.jar.mu.Lock()
	defer w.jar.mu.Unlock()

	if !w.jar.dirty {
		return
	}
	if !w.jar.present {
		w.codec.Clear(w.ResponseWriter)
		return
	}
	if err := w.codec.Write(w.ResponseWriter, w.jar.session); err != nil {
		slogx.FromContext(w.ctx).Error("failed to write session cookie", slog.String("error", err.Error()))
	}
}

func (w *flushWriter) WriteHeader(code int) {
	w.flush()
	w.ResponseWriter.WriteHeader(code)
}

func (w *flushWriter) Write(b []byte) (int, error) {
	w.flush()
	return w.ResponseWriter.Write(b)
}

func (w *flushWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
