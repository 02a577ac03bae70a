package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/aussiebroadwan/sessionkit/internal/sessiond/cookie"
	"github.com/aussiebroadwan/sessionkit/internal/sessiond/metrics"
	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
	"github.com/aussiebroadwan/sessionkit/pkg/httpx"
)

// SessionHandler serves sign-in, registration and the session resource.
type SessionHandler struct {
	Manager *authsdk.Manager
	Metrics *metrics.Session
	MaxAge  time.Duration
}

// SignInRequest is the body of POST /v1/session/signin.
type SignInRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

// RegisterRequest is the body of POST /v1/session/register.
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password1 string `json:"password1" validate:"required,max=1024"`
	Password2 string `json:"password2" validate:"required,max=1024"`
}

// ProfilePatchRequest is the body of PATCH /v1/session. Absent fields are
// left untouched.
type ProfilePatchRequest struct {
	Email            *string           `json:"email,omitempty" validate:"omitempty,email,max=254"`
	HasFinishedIntro *bool             `json:"hasFinishedIntro,omitempty"`
	Image            *string           `json:"image,omitempty" validate:"omitempty,max=2048"`
	MotherTongue     *authsdk.Language `json:"motherTongue,omitempty"`
	Credit           *int              `json:"credit,omitempty"`
}

// ProfileSaveRequest is the body of PUT /v1/session/profile.
type ProfileSaveRequest struct {
	Email            string `json:"email" validate:"required,email,max=254"`
	HasFinishedIntro bool   `json:"hasFinishedIntro"`
	MotherTongue     *int   `json:"motherTongue,omitempty"`
}

// SessionResponse is what the browser sees of a Session. Tokens never leave
// the cookie.
type SessionResponse struct {
	ID                    string           `json:"id"`
	User                  authsdk.Identity `json:"user"`
	Error                 string           `json:"error,omitempty"`
	AccessTokenExpiration time.Time        `json:"accessTokenExpiration"`
	Expires               time.Time        `json:"expires"`
}

// StatusResponse is a bare acknowledgement.
type StatusResponse struct {
	Status string `json:"status"`
}

func (h *SessionHandler) respond(w http.ResponseWriter, code int, s authsdk.Session) {
	httpx.WriteJSON(w, code, SessionResponse{
		ID:                    s.ID.String(),
		User:                  s.Identity,
		Error:                 s.Error,
		AccessTokenExpiration: s.AccessTokenExpiration,
		Expires:               s.IssuedAt.Add(h.MaxAge),
	})
}

// SignIn godoc
//
//	@Summary		Sign in with email and password
//	@Description	Logs in against the identity backend and stores the session in the cookie.
//	@Description	An unverified address yields code "email_not_verified".
//	@Tags			Session
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SignInRequest	true	"credentials"
//	@Success		200		{object}	SessionResponse
//	@Failure		400		{object}	httpx.ErrorBody	"field errors from the backend"
//	@Failure		429		{object}	httpx.ErrorBody
//	@Router			/v1/session/signin [post].
func (h *SessionHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	s, err := h.Manager.SignInWithPassword(r.Context(), req.Email, req.Password)
	h.Metrics.ObserveSignIn("password", err)
	if err != nil {
		writeSDKError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, s)
}

// Register godoc
//
//	@Summary		Register an account
//	@Description	Creates an account. When the backend requires email verification the response is 202 with status "verification_sent" and no session.
//	@Tags			Session
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RegisterRequest	true	"new account"
//	@Success		200		{object}	SessionResponse
//	@Success		202		{object}	StatusResponse
//	@Failure		400		{object}	httpx.ErrorBody
//	@Router			/v1/session/register [post].
func (h *SessionHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	s, err := h.Manager.Register(r.Context(), req.Email, req.Password1, req.Password2)
	if errors.Is(err, authsdk.ErrVerificationSent) {
		h.Metrics.ObserveSignIn("register", nil)
		httpx.WriteJSON(w, http.StatusAccepted, StatusResponse{Status: "verification_sent"})
		return
	}
	h.Metrics.ObserveSignIn("register", err)
	if err != nil {
		writeSDKError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, s)
}

// Get godoc
//
//	@Summary		Current session
//	@Description	Returns the signed-in identity, refreshing the access token first when it has expired.
//	@Description	"error" is RefreshAccessTokenError when the refresh failed and the user must sign in again.
//	@Tags			Session
//	@Produce		json
//	@Success		200	{object}	SessionResponse
//	@Failure		401	{object}	httpx.ErrorBody
//	@Router			/v1/session [get].
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.Manager.Current(r.Context(), cookie.SessionID(r.Context()))
	if err != nil {
		writeSDKError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, s)
}

// Patch godoc
//
//	@Summary		Patch the session identity
//	@Description	Merges identity fields into the session without calling the backend.
//	@Tags			Session
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ProfilePatchRequest	true	"fields to change"
//	@Success		200		{object}	SessionResponse
//	@Failure		401		{object}	httpx.ErrorBody
//	@Router			/v1/session [patch].
func (h *SessionHandler) Patch(w http.ResponseWriter, r *http.Request) {
	var req ProfilePatchRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	s, err := h.Manager.UpdateProfile(r.Context(), cookie.SessionID(r.Context()), authsdk.ProfilePatch{
		Email:            req.Email,
		HasFinishedIntro: req.HasFinishedIntro,
		Image:            req.Image,
		MotherTongue:     req.MotherTongue,
		Credit:           req.Credit,
	})
	if err != nil {
		writeSDKError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, s)
}

// SaveProfile godoc
//
//	@Summary		Save the profile
//	@Description	Writes the profile to the backend and applies the stored result to the session.
//	@Tags			Session
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ProfileSaveRequest	true	"profile"
//	@Success		200		{object}	SessionResponse
//	@Failure		400		{object}	httpx.ErrorBody
//	@Failure		401		{object}	httpx.ErrorBody
//	@Router			/v1/session/profile [put].
func (h *SessionHandler) SaveProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileSaveRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	s, err := h.Manager.SaveProfile(r.Context(), cookie.SessionID(r.Context()), authsdk.ProfileUpdate{
		Email:            req.Email,
		HasFinishedIntro: req.HasFinishedIntro,
		MotherTongue:     req.MotherTongue,
	})
	if err != nil {
		writeSDKError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, s)
}

// SyncProfile godoc
//
//	@Summary		Reload the profile
//	@Description	Fetches the user from the backend and overwrites the session identity.
//	@Tags			Session
//	@Produce		json
//	@Success		200	{object}	SessionResponse
//	@Failure		401	{object}	httpx.ErrorBody
//	@Router			/v1/session/profile/sync [post].
func (h *SessionHandler) SyncProfile(w http.ResponseWriter, r *http.Request) {
	s, err := h.Manager.RefreshProfile(r.Context(), cookie.SessionID(r.Context()))
	if err != nil {
		writeSDKError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, s)
}

// Refresh godoc
//
//	@Summary		Force a token refresh
//	@Tags			Session
//	@Produce		json
//	@Success		200	{object}	SessionResponse
//	@Failure		401	{object}	httpx.ErrorBody
//	@Router			/v1/session/refresh [post].
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	s, err := h.Manager.Refresh(r.Context(), cookie.SessionID(r.Context()))
	if err != nil {
		writeSDKError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, s)
}

// SignOut godoc
//
//	@Summary		Sign out
//	@Description	Destroys the session and clears the cookie. Signing out without a session is not an error.
//	@Tags			Session
//	@Success		204
//	@Router			/v1/session/signout [post].
func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	id := cookie.SessionID(r.Context())
	if !id.IsZero() {
		if err := h.Manager.SignOut(r.Context(), id); err != nil {
			writeSDKError(w, r, err)
			return
		}
	}
	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}
