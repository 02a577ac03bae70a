package authsdk_test

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

// fakeBackend mimics the identity backend closely enough for the SDK.
type fakeBackend struct {
	srv *httptest.Server

	mu              sync.Mutex
	valid           map[string]bool
	issued          int
	refreshToken    string
	loginAccessTTL  time.Duration
	refreshTTL      time.Duration
	refreshDelay    time.Duration
	refreshFails    bool
	rotate          bool
	identity        authsdk.Identity
	lastBody        map[string]any
	refreshCalls    atomic.Int32
	always401Calls  atomic.Int32
	googleCalls     atomic.Int32
	profilePutCalls atomic.Int32
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	b := &fakeBackend{
		valid:          make(map[string]bool),
		refreshToken:   "refresh-0",
		loginAccessTTL: 5 * time.Minute,
		refreshTTL:     10 * time.Minute,
		identity: authsdk.Identity{
			UserID:           testUserID,
			Email:            testEmail,
			HasFinishedIntro: false,
			Image:            "/media/default.png",
			Credit:           10,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login/", b.handleLogin)
	mux.HandleFunc("POST /auth/registration/", b.handleRegister)
	mux.HandleFunc("POST /auth/registration/resend-email/", b.handleAccepted)
	mux.HandleFunc("POST /auth/registration/verify-email/", b.handleAccepted)
	mux.HandleFunc("POST /auth/password/reset/", b.handlePasswordReset)
	mux.HandleFunc("POST /auth/password/reset/confirm/", b.handlePasswordConfirm)
	mux.HandleFunc("POST /social/login/google/", b.handleGoogle)
	mux.HandleFunc("POST /auth/token/refresh/", b.handleRefresh)
	mux.HandleFunc("GET /users/{id}/", b.authorized(b.handleGetUser))
	mux.HandleFunc("PUT /users/{id}/", b.authorized(b.handlePutUser))
	mux.HandleFunc("GET /texts/", b.authorized(b.handleTexts))
	mux.HandleFunc("GET /always401/", func(w http.ResponseWriter, r *http.Request) {
		b.always401Calls.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid"})
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) URL() string { return b.srv.URL }

// revoke makes the backend reject an access token it issued earlier.
func (b *fakeBackend) revoke(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.valid, token)
}

func (b *fakeBackend) set(fn func(b *fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
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
		"access":  b.issueAccess(),
		"refresh": b.refreshToken,
		// The backend emits naive ISO timestamps.
		"accessTokenExpiration":  now.Add(b.loginAccessTTL).Format("2006-01-02T15:04:05.000000"),
		"refreshTokenExpiration": now.Add(24 * time.Hour).Format("2006-01-02T15:04:05.000000"),
		"user":                   b.identity,
	}
}

func (b *fakeBackend) decode(r *http.Request) map[string]any {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	b.mu.Lock()
	b.lastBody = body
	b.mu.Unlock()
	return body
}

func (b *fakeBackend) body() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastBody
}

func (b *fakeBackend) handleLogin(w http.ResponseWriter, r *http.Request) {
	body := b.decode(r)
	switch {
	case body["email"] == testEmail && body["password"] == testPassword:
		writeJSON(w, http.StatusOK, b.exchange())
	case body["password"] == "unverified":
		writeJSON(w, http.StatusBadRequest, map[string]any{"nonFieldErrors": []string{"E-mail is not verified."}})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"nonFieldErrors": []string{"Invalid credentials."}})
	}
}

func (b *fakeBackend) handleRegister(w http.ResponseWriter, r *http.Request) {
	body := b.decode(r)
	switch {
	case body["password1"] != body["password2"]:
		writeJSON(w, http.StatusBadRequest, map[string]any{"password2": []string{"The two password fields didn't match."}})
	case body["email"] == "taken@b.com":
		writeJSON(w, http.StatusBadRequest, map[string]any{"email": "A user is already registered with this e-mail address."})
	case body["email"] == "verify@b.com":
		writeJSON(w, http.StatusCreated, map[string]any{"detail": "Verification e-mail sent."})
	case body["email"] == "denied@b.com":
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "AccessDenied"})
	default:
		writeJSON(w, http.StatusCreated, b.exchange())
	}
}

func (b *fakeBackend) handleAccepted(w http.ResponseWriter, r *http.Request) {
	b.decode(r)
	writeJSON(w, http.StatusOK, map[string]string{"detail": "ok"})
}

func (b *fakeBackend) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	body := b.decode(r)
	if body["email"] == "throttled@b.com" {
		w.Header().Set("Retry-After", "120")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"detail": "Request was throttled."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Password reset e-mail has been sent."})
}

func (b *fakeBackend) handlePasswordConfirm(w http.ResponseWriter, r *http.Request) {
	body := b.decode(r)
	if body["token"] != "good-token" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"token": []string{"Invalid value"}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Password has been reset with the new password."})
}

func (b *fakeBackend) handleGoogle(w http.ResponseWriter, r *http.Request) {
	b.googleCalls.Add(1)
	body := b.decode(r)
	if body["idToken"] != googleToken || body["accessToken"] != googleToken {
		writeJSON(w, http.StatusBadRequest, map[string]any{"nonFieldErrors": []string{"Incorrect value"}})
		return
	}
	writeJSON(w, http.StatusOK, b.exchange())
}

func (b *fakeBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.refreshCalls.Add(1)
	body := b.decode(r)

	b.mu.Lock()
	delay, fails, rotate := b.refreshDelay, b.refreshFails, b.rotate
	b.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if fails || body["refresh"] != b.refreshToken {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"detail": "Token is invalid or expired",
			"code":   "token_not_valid",
		})
		return
	}

	out := map[string]any{
		"access":                b.issueAccess(),
		"accessTokenExpiration": time.Now().UTC().Add(b.refreshTTL).Format(time.RFC3339Nano),
	}
	if rotate {
		b.refreshToken = fmt.Sprintf("refresh-%d", b.issued)
		out["refresh"] = b.refreshToken
	}
	writeJSON(w, http.StatusOK, out)
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
	writeJSON(w, http.StatusOK, map[string]string{
		"token": strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
	})
}

func (b *fakeBackend) handleGetUser(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, b.identity)
}

func (b *fakeBackend) handlePutUser(w http.ResponseWriter, r *http.Request) {
	b.profilePutCalls.Add(1)

	var upd authsdk.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.identity.Email = upd.Email
	b.identity.HasFinishedIntro = upd.HasFinishedIntro
	if upd.MotherTongue != nil {
		b.identity.MotherTongue = &authsdk.Language{ID: *upd.MotherTongue, Name: "French", Code: "fr"}
	}
	writeJSON(w, http.StatusOK, b.identity)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
