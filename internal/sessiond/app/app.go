package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aussiebroadwan/sessionkit/internal/observability"
	"github.com/aussiebroadwan/sessionkit/internal/sessiond/cookie"
	"github.com/aussiebroadwan/sessionkit/internal/sessiond/google"
	httpapi "github.com/aussiebroadwan/sessionkit/internal/sessiond/http"
	"github.com/aussiebroadwan/sessionkit/internal/sessiond/metrics"
	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
	"github.com/aussiebroadwan/sessionkit/pkg/httpx"
	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"

	serviceName = "sessiond"
	backendName = "identity-backend"
)

// Application is the session service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	registry       *prometheus.Registry
	httpMetrics    *httpx.Metrics
	sessionMetrics *metrics.Session

	breaker *httpx.BreakerTransport
	codec   *cookie.Codec
	manager *authsdk.Manager
	google  *google.Provider // nil when Google sign-in is not configured

	shutdownTracing func(context.Context) error

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with every dependency initialised.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: serviceName,
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	ctx := context.Background()

	shutdown, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName:    serviceName,
		ServiceVersion: BuildVersion,
		Endpoint:       cfg.OTLPEndpoint,
		SampleRatio:    cfg.OTelSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	app.shutdownTracing = shutdown

	app.initMetrics()

	if err := app.initSessions(); err != nil {
		return nil, err
	}

	if cfg.GoogleEnabled() {
		provider, err := google.New(ctx, google.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize google sign-in: %w", err)
		}
		app.google = provider
		app.logger.Info("google sign-in enabled")
	}

	if err := app.initHTTP(); err != nil {
		return nil, err
	}
	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.logger.Info("session service starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"backend", app.cfg.BackendURL,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down session service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if err := app.shutdownTracing(ctx); err != nil {
		app.logger.Error("error flushing traces", "error", err)
		return err
	}

	app.logger.Info("session service stopped")
	return nil
}

// initMetrics creates a private registry so tests can build several
// Applications in one process.
func (app *Application) initMetrics() {
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.httpMetrics = httpx.NewMetrics(app.registry)
	app.sessionMetrics = metrics.NewSession(app.registry)
}

// initSessions wires the backend client, the refresh coordinator and the
// cookie-backed session manager.
func (app *Application) initSessions() error {
	codec, err := cookie.NewCodec(cookie.Config{
		Name:   app.cfg.SessionCookieName,
		Secure: app.cfg.SessionCookieSecure,
		MaxAge: app.cfg.SessionMaxAge,
	}, []byte(app.cfg.JWTSecret), []byte(app.cfg.SessionSecret))
	if err != nil {
		return fmt.Errorf("failed to initialize session cookie: %w", err)
	}
	app.codec = codec

	app.breaker = httpx.NewBreakerTransport(
		http.DefaultTransport,
		httpx.BreakerConfig{
			Name:         backendName,
			MaxRequests:  app.cfg.BreakerHalfOpenProbes,
			Interval:     app.cfg.BreakerInterval,
			Timeout:      app.cfg.BreakerTimeout,
			FailureRatio: app.cfg.BreakerFailureRatio,
			MinRequests:  app.cfg.BreakerMinRequests,
		},
		app.logger,
		app.httpMetrics.ObserveBreaker,
	)

	// otelhttp sits outermost so the span covers logging and breaker time.
	backend := &http.Client{
		Timeout: app.cfg.BackendTimeout,
		Transport: otelhttp.NewTransport(&slogx.Transport{
			Base: app.breaker,
		}),
	}

	client := authsdk.NewSDKClient(app.cfg.BackendURL)
	client.HTTPClient = backend

	coordinator := authsdk.NewRefreshCoordinator(client,
		authsdk.WithObserver(app.sessionMetrics),
		authsdk.WithReauthenticateHook(func(ctx context.Context, s authsdk.Session) {
			slogx.FromContext(ctx).Info("session needs re-authentication", slog.Any("session", s))
		}),
	)

	app.manager = authsdk.NewManager(authsdk.ManagerConfig{
		Client:        client,
		Store:         cookie.Store{},
		Coordinator:   coordinator,
		HTTPClient:    backend,
		RefreshLeeway: app.cfg.RefreshLeeway,
		MaxAge:        app.cfg.SessionMaxAge,
		Observer:      app.sessionMetrics,
	})
	return nil
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() error {
	rc := httpapi.RouterConfig{
		Manager:        app.manager,
		Codec:          app.codec,
		SessionSecret:  []byte(app.cfg.SessionSecret),
		FrontendURL:    app.cfg.FrontendURL,
		MaxAge:         app.cfg.SessionMaxAge,
		Secure:         app.cfg.SessionCookieSecure,
		BuildVersion:   BuildVersion,
		Logger:         app.logger,
		HTTPMetrics:    app.httpMetrics,
		SessionMetrics: app.sessionMetrics,
		Gatherer:       app.registry,
		BackendReady:   app.backendReady,
	}
	if app.google != nil {
		rc.Google = app.google
	}

	router, err := httpapi.NewRouter(rc)
	if err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}
	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return nil
}

// backendReady fails while the identity backend breaker is open.
func (app *Application) backendReady(context.Context) error {
	if app.breaker.State() == gobreaker.StateOpen {
		return httpx.ErrCircuitOpen
	}
	return nil
}
