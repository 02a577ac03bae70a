package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	_ "github.com/aussiebroadwan/sessionkit/api/sessiond" // Swagger docs
	"github.com/aussiebroadwan/sessionkit/internal/sessiond/cookie"
	"github.com/aussiebroadwan/sessionkit/internal/sessiond/metrics"
	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
	"github.com/aussiebroadwan/sessionkit/pkg/cryptox"
	"github.com/aussiebroadwan/sessionkit/pkg/httpx"
	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
	httpSwagger "github.com/swaggo/http-swagger"
)

// GoogleFlow is the authorization-code flow that yields a Google ID token.
type GoogleFlow interface {
	AuthCodeURL(state, nonce, codeVerifier string) string
	Exchange(ctx context.Context, code, codeVerifier, nonce string) (string, error)
}

// RouterConfig holds what the handlers need. Google may be nil.
type RouterConfig struct {
	Manager *authsdk.Manager
	Codec   *cookie.Codec
	Google  GoogleFlow

	// SessionSecret seals the short-lived Google flow cookie.
	SessionSecret []byte
	FrontendURL   string
	MaxAge        time.Duration
	Secure        bool

	BuildVersion string
	Logger       *slog.Logger

	HTTPMetrics    *httpx.Metrics
	SessionMetrics *metrics.Session
	Gatherer       prometheus.Gatherer

	// BackendReady reports whether the identity backend is usable.
	BackendReady func(context.Context) error
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	cfg       RouterConfig
	flow      *flowCookie
	startTime time.Time
	logger    *slog.Logger
}

func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Manager == nil || cfg.Codec == nil {
		return nil, errors.New("sessiond: router needs a manager and a cookie codec")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.FrontendURL == "" {
		cfg.FrontendURL = "/"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = authsdk.DefaultMaxAge
	}
	if cfg.HTTPMetrics == nil {
		cfg.HTTPMetrics = httpx.NewMetrics(prometheus.NewRegistry())
	}
	if cfg.SessionMetrics == nil {
		cfg.SessionMetrics = metrics.NewSession(prometheus.NewRegistry())
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.NewRegistry()
	}

	r := &Router{
		Mux:       http.NewServeMux(),
		cfg:       cfg,
		startTime: time.Now(),
		logger:    cfg.Logger,
	}

	if cfg.Google != nil {
		sealer, err := cryptox.NewSealer(cfg.SessionSecret, flowSealerInfo)
		if err != nil {
			return nil, err
		}
		r.flow = &flowCookie{sealer: sealer, secure: cfg.Secure}
	}

	// The request logger must be in place before the cookie is read.
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		otelhttp.NewMiddleware("sessiond"),
		cookie.Middleware(cfg.Codec),
	}

	return r, nil
}

func (r *Router) ApplyRoutes() {
	r.registerSession()
	r.registerGoogle()
	r.registerAccount()
	r.registerProxy()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Sessionkit Session Service API
//	@version		0.1.0
//	@description	Backend-for-frontend that keeps identity backend sessions in an encrypted cookie.
//	@description
//	@description	Sign in with a password or Google, read and patch the session, and call the backend through /api/ with automatic token refresh.
//
//	@contact.name	AussieBroadWAN Team
//	@contact.url	https://github.com/aussiebroadwan/sessionkit
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host			localhost:8080
//	@BasePath		/
//
//	@schemes		http https
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// handle mounts h with per-route metrics and the given extra middleware.
func (r *Router) handle(pattern, route string, h http.HandlerFunc, mws ...httpx.Middleware) {
	chain := append([]httpx.Middleware{r.cfg.HTTPMetrics.Instrument(route)}, mws...)
	r.Mux.Handle(pattern, httpx.Chain(h, chain...))
}

func (r *Router) registerSession() {
	h := &SessionHandler{
		Manager: r.cfg.Manager,
		Metrics: r.cfg.SessionMetrics,
		MaxAge:  r.cfg.MaxAge,
	}

	// Sign-in is limited per IP and per email to slow credential stuffing.
	r.handle("POST /v1/session/signin", "session_signin", h.SignIn,
		httpx.LimitByIPAndField(httpx.StrictLimit, "email"),
	)
	r.handle("POST /v1/session/register", "session_register", h.Register,
		httpx.LimitByIP(httpx.StrictLimit),
	)
	r.handle("GET /v1/session", "session_get", h.Get,
		httpx.LimitByIP(httpx.LenientLimit),
	)
	r.handle("PATCH /v1/session", "session_patch", h.Patch,
		httpx.LimitBySession(httpx.ModerateLimit),
	)
	r.handle("PUT /v1/session/profile", "session_profile_save", h.SaveProfile,
		httpx.LimitBySession(httpx.ModerateLimit),
	)
	r.handle("POST /v1/session/profile/sync", "session_profile_sync", h.SyncProfile,
		httpx.LimitBySession(httpx.ModerateLimit),
	)
	r.handle("POST /v1/session/refresh", "session_refresh", h.Refresh,
		httpx.LimitBySession(httpx.ModerateLimit),
	)
	r.handle("POST /v1/session/signout", "session_signout", h.SignOut,
		httpx.LimitByIP(httpx.LenientLimit),
	)
}

func (r *Router) registerGoogle() {
	if r.cfg.Google == nil {
		return
	}

	h := &GoogleHandler{
		Flow:        r.cfg.Google,
		Manager:     r.cfg.Manager,
		Metrics:     r.cfg.SessionMetrics,
		FrontendURL: r.cfg.FrontendURL,
		cookie:      r.flow,
	}

	r.handle("GET /v1/session/google/start", "google_start", h.Start,
		httpx.LimitByIP(httpx.ModerateLimit),
	)
	r.handle("GET /v1/session/google/callback", "google_callback", h.Callback,
		httpx.LimitByIP(httpx.StrictLimit),
	)
}

func (r *Router) registerAccount() {
	h := &AccountHandler{Client: r.cfg.Manager.Client()}

	r.handle("POST /v1/account/resend-verification", "account_resend_verification", h.ResendVerification,
		httpx.LimitByIPAndField(httpx.StrictLimit, "email"),
	)
	r.handle("POST /v1/account/verify-email", "account_verify_email", h.VerifyEmail,
		httpx.LimitByIP(httpx.StrictLimit),
	)
	r.handle("POST /v1/account/password/reset", "account_password_reset", h.RequestPasswordReset,
		httpx.LimitByIPAndField(httpx.StrictLimit, "email"),
	)
	r.handle("POST /v1/account/password/confirm", "account_password_confirm", h.ConfirmPasswordReset,
		httpx.LimitByIP(httpx.StrictLimit),
	)
}

func (r *Router) registerProxy() {
	h := &ProxyHandler{Manager: r.cfg.Manager}

	r.handle("/api/{path...}", "api_proxy", h.ServeHTTP,
		httpx.LimitBySession(httpx.LenientLimit),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.cfg.BuildVersion),
			httpx.LimitByIP(httpx.PublicLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.cfg.BuildVersion, r.cfg.BackendReady),
			httpx.LimitByIP(httpx.PublicLimit),
		),
	)
	r.Mux.Handle("GET /metrics", promhttp.HandlerFor(r.cfg.Gatherer, promhttp.HandlerOpts{}))
}
