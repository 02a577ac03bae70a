package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/aussiebroadwan/sessionkit/internal/sessiond/metrics"
	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
	"github.com/aussiebroadwan/sessionkit/pkg/cryptox"
	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
)

const (
	flowSealerInfo = "sessiond-google-flow"
	flowCookieName = "sessionkit_oauth"
	flowTTL        = 10 * time.Minute

	// accessDenied is the error value the frontend expects after a failed
	// social sign-in.
	accessDenied = "AccessDenied"
)

var errFlowState = errors.New("google flow: state mismatch")

// flowState survives the round trip to Google in a sealed cookie.
type flowState struct {
	State    string    `json:"s"`
	Nonce    string    `json:"n"`
	Verifier string    `json:"v"`
	Expires  time.Time `json:"e"`
}

type flowCookie struct {
	sealer *cryptox.Sealer
	secure bool
}

func (c *flowCookie) name() string {
	if c.secure {
		return "__Host-" + flowCookieName
	}
	return flowCookieName
}

func (c *flowCookie) write(w http.ResponseWriter, st flowState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	value, err := c.sealer.SealString(raw)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    value,
		Path:     "/",
		MaxAge:   int(flowTTL.Seconds()),
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (c *flowCookie) read(r *http.Request, now time.Time) (flowState, error) {
	ck, err := r.Cookie(c.name())
	if err != nil {
		return flowState{}, errFlowState
	}
	raw, err := c.sealer.OpenString(ck.Value)
	if err != nil {
		return flowState{}, errFlowState
	}
	var st flowState
	if err := json.Unmarshal(raw, &st); err != nil {
		return flowState{}, errFlowState
	}
	if now.After(st.Expires) {
		return flowState{}, errFlowState
	}
	return st, nil
}

func (c *flowCookie) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// GoogleHandler runs the Google redirect flow and hands the ID token to the
// identity backend.
type GoogleHandler struct {
	Flow        GoogleFlow
	Manager     *authsdk.Manager
	Metrics     *metrics.Session
	FrontendURL string

	cookie *flowCookie
}

// Start godoc
//
//	@Summary		Start Google sign-in
//	@Description	Redirects the browser to Google's consent screen.
//	@Tags			Google
//	@Success		302
//	@Router			/v1/session/google/start [get].
func (h *GoogleHandler) Start(w http.ResponseWriter, r *http.Request) {
	st := flowState{
		State:    cryptox.MustGenerateToken(cryptox.TokenSize128),
		Nonce:    cryptox.MustGenerateToken(cryptox.TokenSize128),
		Verifier: oauth2.GenerateVerifier(),
		Expires:  time.Now().Add(flowTTL),
	}
	if err := h.cookie.write(w, st); err != nil {
		writeSDKError(w, r, err)
		return
	}
	http.Redirect(w, r, h.Flow.AuthCodeURL(st.State, st.Nonce, st.Verifier), http.StatusFound)
}

// Callback godoc
//
//	@Summary		Google sign-in callback
//	@Description	Exchanges the code, verifies the ID token, signs in with the identity backend and redirects to the frontend.
//	@Description	Any failure redirects with ?error=AccessDenied.
//	@Tags			Google
//	@Param			code	query	string	true	"authorization code"
//	@Param			state	query	string	true	"anti-forgery state"
//	@Success		302
//	@Router			/v1/session/google/callback [get].
func (h *GoogleHandler) Callback(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())
	q := r.URL.Query()

	st, err := h.cookie.read(r, time.Now())
	h.cookie.clear(w)
	if err == nil && !cryptox.EqualTokens(st.State, q.Get("state")) {
		err = errFlowState
	}
	if err == nil && q.Get("error") != "" {
		err = errors.New("google flow: " + q.Get("error"))
	}

	var idToken string
	if err == nil {
		idToken, err = h.Flow.Exchange(r.Context(), q.Get("code"), st.Verifier, st.Nonce)
	}
	if err == nil {
		_, err = h.Manager.SignInWithGoogle(r.Context(), idToken)
	}

	h.Metrics.ObserveSignIn("google", err)
	if err != nil {
		log.Info("google sign-in denied", slog.String("error", err.Error()))
		http.Redirect(w, r, h.redirect(accessDenied), http.StatusFound)
		return
	}
	http.Redirect(w, r, h.redirect(""), http.StatusFound)
}

// redirect returns the frontend URL, with ?error= set when errValue is not
// empty.
func (h *GoogleHandler) redirect(errValue string) string {
	if errValue == "" {
		return h.FrontendURL
	}
	u, err := url.Parse(h.FrontendURL)
	if err != nil {
		return "/?error=" + url.QueryEscape(errValue)
	}
	query := u.Query()
	query.Set("error", errValue)
	u.RawQuery = query.Encode()
	return u.String()
}
