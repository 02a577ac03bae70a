package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
)

func newLoginCommand(opts *options) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: opts.withEnv(func(ctx context.Context, e *env) error {
			s, err := e.manager.SignInWithPassword(ctx, email, password)
			if err != nil {
				return describe(err)
			}
			return printSession(e.stdout, s)
		}),
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cobra.CheckErr(cmd.MarkFlagRequired("email"))
	cobra.CheckErr(cmd.MarkFlagRequired("password"))
	return cmd
}

func newRegisterCommand(opts *options) *cobra.Command {
	var email, password, confirm string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: opts.withEnv(func(ctx context.Context, e *env) error {
			s, err := e.manager.Register(ctx, email, password, confirm)
			if errors.Is(err, authsdk.ErrVerificationSent) {
				fmt.Fprintf(e.stdout, "verification email sent to %s\n", email)
				return nil
			}
			if err != nil {
				return describe(err)
			}
			return printSession(e.stdout, s)
		}),
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "new password")
	cmd.Flags().StringVar(&confirm, "confirm", "", "new password again")
	cobra.CheckErr(cmd.MarkFlagRequired("email"))
	cobra.CheckErr(cmd.MarkFlagRequired("password"))
	cobra.CheckErr(cmd.MarkFlagRequired("confirm"))
	return cmd
}

func newGoogleCommand(opts *options) *cobra.Command {
	var idToken string

	cmd := &cobra.Command{
		Use:   "google",
		Short: "Sign in with a Google ID token",
		Args:  cobra.NoArgs,
		RunE: opts.withEnv(func(ctx context.Context, e *env) error {
			s, err := e.manager.SignInWithGoogle(ctx, idToken)
			if err != nil {
				return describe(err)
			}
			return printSession(e.stdout, s)
		}),
	}
	cmd.Flags().StringVar(&idToken, "id-token", "", "Google ID token")
	cobra.CheckErr(cmd.MarkFlagRequired("id-token"))
	return cmd
}

func newWhoamiCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session, refreshing it when expired",
		Args:  cobra.NoArgs,
		RunE: opts.withEnv(func(ctx context.Context, e *env) error {
			id, err := e.current(ctx)
			if err != nil {
				return err
			}
			s, err := e.manager.Current(ctx, id)
			if err != nil {
				return describe(err)
			}
			if s.NeedsReauthentication() {
				fmt.Fprintln(e.stderr, "session refresh failed; run `sessionctl login` again")
			}
			return printSession(e.stdout, s)
		}),
	}
}

func newRefreshCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the access token now",
		Args:  cobra.NoArgs,
		RunE: opts.withEnv(func(ctx context.Context, e *env) error {
			id, err := e.current(ctx)
			if err != nil {
				return err
			}
			s, err := e.manager.Refresh(ctx, id)
			if err != nil {
				return describe(err)
			}
			return printSession(e.stdout, s)
		}),
	}
}

func newCallCommand(opts *options) *cobra.Command {
	var data string
	var headers []string

	cmd := &cobra.Command{
		Use:   "call METHOD PATH",
		Short: "Call the backend as the signed-in user",
		Long: "Sends one request to the identity backend with the session's access token. " +
			"A 401 triggers a single refresh and retry.",
		Example: "  sessionctl call GET /users/me/\n  sessionctl call POST /texts/ --data '{\"title\":\"x\"}'",
		Args:    cobra.ExactArgs(2),
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "extra header as 'Name: value'")

	cmd.RunE = func(c *cobra.Command, args []string) error {
		method, path := strings.ToUpper(args[0]), args[1]
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}

		req := authsdk.Request{Method: method, Path: path, Header: make(http.Header)}
		if data != "" {
			req.Body = []byte(data)
			req.Header.Set("Content-Type", "application/json")
		}
		for _, h := range headers {
			name, value, ok := strings.Cut(h, ":")
			if !ok {
				return fmt.Errorf("invalid header %q", h)
			}
			req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
		}

		return opts.withEnv(func(ctx context.Context, e *env) error {
			id, err := e.current(ctx)
			if err != nil {
				return err
			}

			resp, err := e.manager.Dispatcher(id).Do(ctx, req)
			var httpErr *authsdk.HTTPError
			if errors.As(err, &httpErr) {
				e.stdout.Write(httpErr.Body)
			}
			if err != nil {
				return describe(err)
			}
			_, err = e.stdout.Write(resp.Body)
			return err
		})(c, args)
	}
	return cmd
}

func newProfileCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Read or change the signed-in user's profile",
	}

	var motherTongue int
	var finishedIntro bool

	set := &cobra.Command{
		Use:   "set",
		Short: "Save profile fields on the backend",
		Args:  cobra.NoArgs,
	}
	set.Flags().IntVar(&motherTongue, "mother-tongue", 0, "language id")
	set.Flags().BoolVar(&finishedIntro, "finished-intro", false, "mark the intro as finished")
	set.RunE = func(c *cobra.Command, args []string) error {
		if !c.Flags().Changed("mother-tongue") && !c.Flags().Changed("finished-intro") {
			return errors.New("nothing to set: pass --mother-tongue or --finished-intro")
		}
		return opts.withEnv(func(ctx context.Context, e *env) error {
			id, err := e.current(ctx)
			if err != nil {
				return err
			}
			s, err := e.manager.Current(ctx, id)
			if err != nil {
				return describe(err)
			}

			update := authsdk.ProfileUpdate{
				Email:            s.Identity.Email,
				HasFinishedIntro: s.Identity.HasFinishedIntro,
			}
			if s.Identity.MotherTongue != nil {
				update.MotherTongue = &s.Identity.MotherTongue.ID
			}
			if c.Flags().Changed("mother-tongue") {
				update.MotherTongue = &motherTongue
			}
			if c.Flags().Changed("finished-intro") {
				update.HasFinishedIntro = finishedIntro
			}

			s, err = e.manager.SaveProfile(ctx, id, update)
			if err != nil {
				return describe(err)
			}
			return printSession(e.stdout, s)
		})(c, args)
	}

	sync := &cobra.Command{
		Use:   "sync",
		Short: "Reload the profile from the backend",
		Args:  cobra.NoArgs,
		RunE: opts.withEnv(func(ctx context.Context, e *env) error {
			id, err := e.current(ctx)
			if err != nil {
				return err
			}
			s, err := e.manager.RefreshProfile(ctx, id)
			if err != nil {
				return describe(err)
			}
			return printSession(e.stdout, s)
		}),
	}

	cmd.AddCommand(set, sync)
	return cmd
}

func newLogoutCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the current session",
		Args:  cobra.NoArgs,
		RunE: opts.withEnv(func(ctx context.Context, e *env) error {
			id, err := e.sessions.Current(ctx)
			if errors.Is(err, authsdk.ErrNoSession) {
				return nil
			}
			if err != nil {
				return err
			}
			return e.manager.SignOut(ctx, id)
		}),
	}
}

func newResendVerificationCommand(opts *options) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "resend-verification",
		Short: "Send the verification email again",
		Args:  cobra.NoArgs,
		RunE: opts.withEnv(func(ctx context.Context, e *env) error {
			if err := e.manager.Client().ResendVerification(ctx, email); err != nil {
				return describe(err)
			}
			fmt.Fprintf(e.stdout, "verification email sent to %s\n", email)
			return nil
		}),
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cobra.CheckErr(cmd.MarkFlagRequired("email"))
	return cmd
}

func newVerifyEmailCommand(opts *options) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "verify-email",
		Short: "Confirm an email address with the key from the verification link",
		Args:  cobra.NoArgs,
		RunE: opts.withEnv(func(ctx context.Context, e *env) error {
			if err := e.manager.Client().VerifyEmail(ctx, key); err != nil {
				return describe(err)
			}
			fmt.Fprintln(e.stdout, "email verified")
			return nil
		}),
	}
	cmd.Flags().StringVar(&key, "key", "", "verification key")
	cobra.CheckErr(cmd.MarkFlagRequired("key"))
	return cmd
}

func newResetPasswordCommand(opts *options) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Email a password reset link",
		Args:  cobra.NoArgs,
		RunE: opts.withEnv(func(ctx context.Context, e *env) error {
			if err := e.manager.Client().RequestPasswordReset(ctx, email); err != nil {
				return describe(err)
			}
			fmt.Fprintf(e.stdout, "password reset email sent to %s\n", email)
			return nil
		}),
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cobra.CheckErr(cmd.MarkFlagRequired("email"))

	var uid, token, password, confirm string
	confirmCmd := &cobra.Command{
		Use:   "confirm",
		Short: "Set a new password with the uid and token from the reset link",
		Args:  cobra.NoArgs,
		RunE: opts.withEnv(func(ctx context.Context, e *env) error {
			err := e.manager.Client().ConfirmPasswordReset(ctx, authsdk.PasswordResetConfirm{
				UID:          uid,
				Token:        token,
				NewPassword1: password,
				NewPassword2: confirm,
			})
			if err != nil {
				return describe(err)
			}
			fmt.Fprintln(e.stdout, "password changed")
			return nil
		}),
	}
	confirmCmd.Flags().StringVar(&uid, "uid", "", "uid from the reset link")
	confirmCmd.Flags().StringVar(&token, "token", "", "token from the reset link")
	confirmCmd.Flags().StringVar(&password, "password", "", "new password")
	confirmCmd.Flags().StringVar(&confirm, "confirm", "", "new password again")
	for _, name := range []string{"uid", "token", "password", "confirm"} {
		cobra.CheckErr(confirmCmd.MarkFlagRequired(name))
	}
	cmd.AddCommand(confirmCmd)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sessionctl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
