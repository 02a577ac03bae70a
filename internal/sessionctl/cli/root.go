// Package cli implements the sessionctl command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aussiebroadwan/sessionkit/internal/sessionctl/store"
	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
	"github.com/aussiebroadwan/sessionkit/pkg/idx"
	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
)

// Version is reported by the version command.
const Version = "v0.1.0"

type options struct {
	backend  string
	dbPath   string
	profile  string
	logLevel string
	timeout  time.Duration
}

// envFlags maps persistent flags to the environment variables that supply
// their defaults.
var envFlags = map[string]string{
	"backend":   "SESSIONCTL_BACKEND",
	"db":        "SESSIONCTL_DB",
	"profile":   "SESSIONCTL_PROFILE",
	"log-level": "SESSIONCTL_LOG_LEVEL",
}

// Execute runs sessionctl with os.Args.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Sign in to the identity backend and call it with a managed session",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			if err := applyEnv(cmd.Flags()); err != nil {
				return err
			}
			slogx.New(slogx.Config{
				Service: "sessionctl",
				Version: Version,
				Env:     "cli",
				Level:   opts.logLevel,
				Format:  "text",
				Output:  cmd.ErrOrStderr(),
			})
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.backend, "backend", "http://localhost:8000/api", "identity backend base URL ($SESSIONCTL_BACKEND)")
	flags.StringVar(&opts.dbPath, "db", defaultDBPath(), "session database file ($SESSIONCTL_DB)")
	flags.StringVarP(&opts.profile, "profile", "p", "default", "session profile ($SESSIONCTL_PROFILE)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level ($SESSIONCTL_LOG_LEVEL)")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall timeout of one command")

	root.AddCommand(
		newLoginCommand(opts),
		newRegisterCommand(opts),
		newGoogleCommand(opts),
		newWhoamiCommand(opts),
		newRefreshCommand(opts),
		newCallCommand(opts),
		newProfileCommand(opts),
		newLogoutCommand(opts),
		newResendVerificationCommand(opts),
		newVerifyEmailCommand(opts),
		newResetPasswordCommand(opts),
		newVersionCommand(),
	)
	return root
}

// applyEnv fills flags the user did not set from the environment.
func applyEnv(flags *pflag.FlagSet) error {
	for name, env := range envFlags {
		f := flags.Lookup(name)
		if f == nil || f.Changed {
			continue
		}
		if v, ok := os.LookupEnv(env); ok && v != "" {
			if err := f.Value.Set(v); err != nil {
				return fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	return nil
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "sessionctl.db"
	}
	return filepath.Join(dir, "sessionkit", "sessionctl.db")
}

// env is what one command invocation works with.
type env struct {
	store    *store.Store
	sessions *store.Sessions
	manager  *authsdk.Manager
	stdout   io.Writer
	stderr   io.Writer
}

func (o *options) open(cmd *cobra.Command) (*env, error) {
	if err := os.MkdirAll(filepath.Dir(o.dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	st, err := store.Open(o.dbPath)
	if err != nil {
		return nil, err
	}

	sessions := st.Sessions(o.profile)
	client := authsdk.NewSDKClient(o.backend)
	client.HTTPClient = &http.Client{
		Timeout:   o.timeout,
		Transport: &slogx.Transport{Base: http.DefaultTransport},
	}

	stderr := cmd.ErrOrStderr()
	coordinator := authsdk.NewRefreshCoordinator(client,
		authsdk.WithReauthenticateHook(func(context.Context, authsdk.Session) {
			fmt.Fprintln(stderr, "session cannot be refreshed; run `sessionctl login` again")
		}),
	)

	return &env{
		store:    st,
		sessions: sessions,
		manager: authsdk.NewManager(authsdk.ManagerConfig{
			Client:      client,
			Store:       sessions,
			Coordinator: coordinator,
		}),
		stdout: cmd.OutOrStdout(),
		stderr: stderr,
	}, nil
}

func (e *env) Close() error { return e.store.Close() }

// current returns the profile's session ID or ErrNoSession.
func (e *env) current(ctx context.Context) (idx.ID, error) {
	id, err := e.sessions.Current(ctx)
	if err != nil {
		return idx.Zero, fmt.Errorf("not signed in: %w", err)
	}
	return id, nil
}

// withEnv runs fn with an opened env and a timeout-bound context carrying
// the default logger.
func (o *options) withEnv(fn func(ctx context.Context, e *env) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
		defer cancel()
		ctx = slogx.WithContext(ctx, slog.Default().With("profile", o.profile))

		e, err := o.open(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		return fn(ctx, e)
	}
}

// sessionView is the printable part of a Session.
type sessionView struct {
	ID                    string           `json:"id"`
	User                  authsdk.Identity `json:"user"`
	Error                 string           `json:"error,omitempty"`
	AccessTokenExpiration time.Time        `json:"accessTokenExpiration"`
	IssuedAt              time.Time        `json:"issuedAt"`
}

func printSession(w io.Writer, s authsdk.Session) error {
	return printJSON(w, sessionView{
		ID:                    s.ID.String(),
		User:                  s.Identity,
		Error:                 s.Error,
		AccessTokenExpiration: s.AccessTokenExpiration,
		IssuedAt:              s.IssuedAt,
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
