package app

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	SessionSecret string `env:"SESSION_SECRET,required,notEmpty"` // Encrypts the session cookie
	JWTSecret     string `env:"JWT_SECRET,required,notEmpty"`     // Signs the session envelope

	BackendURL string `env:"IDENTITY_BACKEND_URL,required,notEmpty"` // Base URL of the identity backend API

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"` // Optional: Google sign-in is off when empty
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	SessionMaxAge       time.Duration `env:"SESSION_MAX_AGE" envDefault:"24h"`
	SessionCookieName   string        `env:"SESSION_COOKIE_NAME" envDefault:"sessionkit"`
	SessionCookieSecure bool          `env:"SESSION_COOKIE_SECURE" envDefault:"false"`
	RefreshLeeway       time.Duration `env:"REFRESH_LEEWAY" envDefault:"0s"`
	FrontendURL         string        `env:"FRONTEND_URL" envDefault:"/"` // Where the Google callback lands

	BackendTimeout        time.Duration `env:"BACKEND_TIMEOUT" envDefault:"10s"`
	BreakerTimeout        time.Duration `env:"BACKEND_BREAKER_TIMEOUT" envDefault:"30s"`
	BreakerInterval       time.Duration `env:"BACKEND_BREAKER_INTERVAL" envDefault:"60s"`
	BreakerFailureRatio   float64       `env:"BACKEND_BREAKER_FAILURE_RATIO" envDefault:"0.5"`
	BreakerMinRequests    uint32        `env:"BACKEND_BREAKER_MIN_REQUESTS" envDefault:"5"`
	BreakerHalfOpenProbes uint32        `env:"BACKEND_BREAKER_MAX_REQUESTS" envDefault:"1"`

	OTLPEndpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"` // Tracing is on only when set
	OTelSampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`

	Env                 string        `env:"ENV" envDefault:"dev"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat           string        `env:"LOG_FORMAT" envDefault:"json"`
	Port                int           `env:"PORT" envDefault:"8080"`
	ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != ""
}

// LoadConfig reads the environment, after loading a .env file when one
// exists in the working directory.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.GoogleEnabled() && (c.GoogleClientSecret == "" || c.GoogleRedirectURL == "") {
		return errors.New("GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URL are required with GOOGLE_CLIENT_ID")
	}
	if c.SessionMaxAge <= 0 {
		return errors.New("SESSION_MAX_AGE must be positive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	return nil
}
