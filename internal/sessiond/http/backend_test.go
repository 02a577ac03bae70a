package http_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
)

const (
	testEmail    = "a@b.com"
	testPassword = "secret"
	testUserID   = "6f1c2a7e-4a53-4c55-9d0e-6b1f0c8a2b11"
	googleToken  = "google-id-token"
)

// fakeBackend stands in for the identity backend.
type fakeBackend struct {
	srv *httptest.Server

	mu             sync.Mutex
	valid          map[string]bool
	issued         int
	loginAccessTTL time.Duration
	refreshFails   bool
	identity       authsdk.Identity
	refreshCalls   atomic.Int32
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	b := &fakeBackend{
		valid:          make(map[string]bool),
		loginAccessTTL: 5 * time.Minute,
		identity: authsdk.Identity{
			UserID: testUserID,
			Email:  testEmail,
			Credit: 10,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login/", b.handleLogin)
	mux.HandleFunc("POST /auth/registration/", b.handleRegister)
	mux.HandleFunc("POST /auth/registration/resend-email/", accepted)
	mux.HandleFunc("POST /auth/registration/verify-email/", accepted)
	mux.HandleFunc("POST /auth/password/reset/", b.handlePasswordReset)
	mux.HandleFunc("POST /auth/password/reset/confirm/", b.handlePasswordConfirm)
	mux.HandleFunc("POST /social/login/google/", b.handleGoogle)
	mux.HandleFunc("POST /auth/token/refresh/", b.handleRefresh)
	mux.HandleFunc("GET /users/{id}/", b.authorized(b.handleGetUser))
	mux.HandleFunc("GET /texts/", b.authorized(b.handleTexts))
	mux.HandleFunc("POST /texts/", b.authorized(b.handleTexts))

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) URL() string { return b.srv.URL }

func (b *fakeBackend) set(fn func(b *fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

// revokeAll makes every issued access token stale.
func (b *fakeBackend) revokeAll() {
	b.set(func(b *fakeBackend) { clear(b.valid) })
}

func (b *fakeBackend) issueAccess() string {
	token := fmt.Sprintf("access-%d", b.issued)
	b.issued++
	b.valid[token] = true
	return token
}

func (b *fakeBackend) exchange() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UTC()
	return map[string]any{
		"access":                 b.issueAccess(),
		"refresh":                "refresh-0",
		"accessTokenExpiration":  now.Add(b.loginAccessTTL).Format("2006-01-02T15:04:05.000000"),
		"refreshTokenExpiration": now.Add(24 * time.Hour).Format("2006-01-02T15:04:05.000000"),
		"user":                   b.identity,
	}
}

func decode(r *http.Request) map[string]any {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	return body
}

func (b *fakeBackend) handleLogin(w http.ResponseWriter, r *http.Request) {
	body := decode(r)
	switch {
	case body["email"] == testEmail && body["password"] == testPassword:
		writeJSON(w, http.StatusOK, b.exchange())
	case body["password"] == "unverified":
		writeJSON(w, http.StatusBadRequest, map[string]any{"nonFieldErrors": []string{"E-mail is not verified."}})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"nonFieldErrors": []string{"Unable to log in with provided credentials."}})
	}
}

func (b *fakeBackend) handleRegister(w http.ResponseWriter, r *http.Request) {
	body := decode(r)
	switch {
	case body["password1"] != body["password2"]:
		writeJSON(w, http.StatusBadRequest, map[string]any{"password2": []string{"The two password fields didn't match."}})
	case body["email"] == "verify@b.com":
		writeJSON(w, http.StatusCreated, map[string]any{"detail": "Verification e-mail sent."})
	default:
		writeJSON(w, http.StatusCreated, b.exchange())
	}
}

func accepted(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"detail": "ok"})
}

func (b *fakeBackend) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	if decode(r)["email"] == "throttled@b.com" {
		w.Header().Set("Retry-After", "120")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"detail": "Request was throttled."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Password reset e-mail has been sent."})
}

func (b *fakeBackend) handlePasswordConfirm(w http.ResponseWriter, r *http.Request) {
	if decode(r)["token"] != "good-token" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"token": []string{"Invalid value"}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Password has been reset with the new password."})
}

func (b *fakeBackend) handleGoogle(w http.ResponseWriter, r *http.Request) {
	if decode(r)["idToken"] != googleToken {
		writeJSON(w, http.StatusBadRequest, map[string]any{"nonFieldErrors": []string{"Incorrect value"}})
		return
	}
	writeJSON(w, http.StatusOK, b.exchange())
}

func (b *fakeBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.refreshCalls.Add(1)
	body := decode(r)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.refreshFails || body["refresh"] != "refresh-0" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"detail": "Token is invalid or expired",
			"code":   "token_not_valid",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access":                b.issueAccess(),
		"accessTokenExpiration": time.Now().UTC().Add(10 * time.Minute).Format(time.RFC3339Nano),
	})
}

func (b *fakeBackend) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		b.mu.Lock()
		ok := b.valid[token]
		b.mu.Unlock()

		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid"})
			return
		}
		next(w, r)
	}
}

func (b *fakeBackend) handleTexts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("ETag", `"texts-1"`)
	writeJSON(w, http.StatusOK, map[string]string{
		"method": r.Method,
		"query":  r.URL.RawQuery,
		"token":  strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
	})
}

func (b *fakeBackend) handleGetUser(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, b.identity)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
