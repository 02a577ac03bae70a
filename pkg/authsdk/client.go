package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/sessionkit/pkg/jwtx"
	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
)

// Identity backend endpoints, relative to SDKClient.BaseURL.
const (
	PathLogin                = "/auth/login/"
	PathRegister             = "/auth/registration/"
	PathResendVerification   = "/auth/registration/resend-email/"
	PathVerifyEmail          = "/auth/registration/verify-email/"
	PathPasswordReset        = "/auth/password/reset/"
	PathPasswordResetConfirm = "/auth/password/reset/confirm/"
	PathGoogleLogin          = "/social/login/google/"
	PathTokenRefresh         = "/auth/token/refresh/"
)

// UserPath is the profile resource of one user.
func UserPath(userID string) string {
	return "/users/" + userID + "/"
}

// SDKClient talks to the identity backend. It performs the unauthenticated
// calls: credential exchange, social exchange, token refresh and the account
// emails. Authenticated calls go through a Dispatcher.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSDKClient creates a client for the backend at baseURL.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Authenticate exchanges credentials for a token pair. The endpoint is chosen
// by creds.Mode, never by the shape of the payload.
//
// Registration that ends in "check your email" returns ErrVerificationSent.
// Field errors come back as *ValidationError.
func (c *SDKClient) Authenticate(ctx context.Context, creds Credentials) (*ExchangeResult, error) {
	var (
		path string
		in   any
	)
	switch creds.Mode {
	case ModeLogin:
		path = PathLogin
		in = map[string]string{
			"email":    creds.Email,
			"password": creds.Password,
		}
	case ModeRegister:
		path = PathRegister
		in = map[string]string{
			"email":     creds.Email,
			"password1": creds.Password,
			"password2": creds.PasswordConfirm,
		}
	default:
		return nil, fmt.Errorf("authsdk: unknown credential mode %s", creds.Mode)
	}

	resp, body, err := c.doJSON(ctx, http.MethodPost, path, in)
	if err != nil {
		return nil, err
	}

	if creds.Mode == ModeRegister && bytes.Contains(body, []byte("AccessDenied")) {
		return nil, ErrVerificationSent
	}
	if !isSuccess(resp.StatusCode) {
		return nil, parseErrorResponse(resp, body)
	}

	result, err := decodeExchange(body)
	if err != nil {
		return nil, &TransportError{Op: "decode " + path, Err: err}
	}
	if !result.HasTokens() {
		if creds.Mode == ModeRegister {
			return nil, ErrVerificationSent
		}
		return nil, &TransportError{Op: "decode " + path, Err: errors.New("response carries no tokens")}
	}
	return result, nil
}

// Login is Authenticate in ModeLogin.
func (c *SDKClient) Login(ctx context.Context, email, password string) (*ExchangeResult, error) {
	return c.Authenticate(ctx, Credentials{Mode: ModeLogin, Email: email, Password: password})
}

// Register is Authenticate in ModeRegister.
func (c *SDKClient) Register(ctx context.Context, email, password, passwordConfirm string) (*ExchangeResult, error) {
	return c.Authenticate(ctx, Credentials{
		Mode:            ModeRegister,
		Email:           email,
		Password:        password,
		PasswordConfirm: passwordConfirm,
	})
}

// ExchangeGoogleToken forwards a Google ID token to the backend's social
// login. Any failure yields false; the caller denies the sign-in.
func (c *SDKClient) ExchangeGoogleToken(ctx context.Context, idToken string) (*ExchangeResult, bool) {
	logger := slogx.FromContext(ctx)
	if idToken == "" {
		logger.Warn("google exchange skipped: empty id token")
		return nil, false
	}

	resp, body, err := c.doJSON(ctx, http.MethodPost, PathGoogleLogin, map[string]string{
		"accessToken": idToken,
		"idToken":     idToken,
	})
	if err != nil {
		logger.Warn("google exchange failed", slog.String("error", err.Error()))
		return nil, false
	}
	if !isSuccess(resp.StatusCode) {
		logger.Warn("google exchange rejected", slog.Int("status", resp.StatusCode))
		return nil, false
	}

	result, err := decodeExchange(body)
	if err != nil || !result.HasTokens() {
		logger.Warn("google exchange returned no tokens")
		return nil, false
	}
	return result, true
}

// RefreshAccessToken trades a refresh token for a new access token.
func (c *SDKClient) RefreshAccessToken(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	var out RefreshResult
	if err := c.call(ctx, http.MethodPost, PathTokenRefresh, map[string]string{"refresh": refreshToken}, &out); err != nil {
		return nil, err
	}
	if out.Access == "" {
		return nil, &TransportError{Op: "decode " + PathTokenRefresh, Err: errors.New("response carries no access token")}
	}
	if out.AccessTokenExpiration.IsZero() {
		out.AccessTokenExpiration = peekExpiry(out.Access)
	}
	if out.Refresh != "" && out.RefreshTokenExpiration.IsZero() {
		out.RefreshTokenExpiration = peekExpiry(out.Refresh)
	}
	return &out, nil
}

// ResendVerification asks the backend to send the verification email again.
func (c *SDKClient) ResendVerification(ctx context.Context, email string) error {
	return c.call(ctx, http.MethodPost, PathResendVerification, map[string]string{"email": email}, nil)
}

// VerifyEmail confirms an address with the key from the verification email.
func (c *SDKClient) VerifyEmail(ctx context.Context, key string) error {
	return c.call(ctx, http.MethodPost, PathVerifyEmail, map[string]string{"key": key}, nil)
}

// RequestPasswordReset sends a reset email. The backend throttles this
// endpoint; a 429 comes back as *RateLimitError.
func (c *SDKClient) RequestPasswordReset(ctx context.Context, email string) error {
	return c.call(ctx, http.MethodPost, PathPasswordReset, map[string]string{"email": email}, nil)
}

// ConfirmPasswordReset sets a new password using the uid and token from the
// reset email.
func (c *SDKClient) ConfirmPasswordReset(ctx context.Context, req PasswordResetConfirm) error {
	return c.call(ctx, http.MethodPost, PathPasswordResetConfirm, req, nil)
}

func decodeExchange(body []byte) (*ExchangeResult, error) {
	var result ExchangeResult
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, err
		}
	}
	if result.Access != "" && result.AccessTokenExpiration.IsZero() {
		result.AccessTokenExpiration = peekExpiry(result.Access)
	}
	if result.Refresh != "" && result.RefreshTokenExpiration.IsZero() {
		result.RefreshTokenExpiration = peekExpiry(result.Refresh)
	}
	return &result, nil
}

// peekExpiry reads exp from a JWT without verifying it. The backend checks
// the signature; this only fills in a missing expiration.
func peekExpiry(token string) Timestamp {
	exp, err := jwtx.PeekExpiry(token)
	if err != nil {
		return Timestamp{}
	}
	return Timestamp{exp.UTC()}
}
