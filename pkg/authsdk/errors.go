package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

// RefreshAccessTokenError is the tag stored on a Session whose refresh
// failed. A tagged Session must be re-authenticated.
const RefreshAccessTokenError = "RefreshAccessTokenError"

// Field keys used by the identity backend in validation errors.
const (
	FieldEmail        = "email"
	FieldPassword     = "password"
	FieldPassword1    = "password1"
	FieldPassword2    = "password2"
	FieldNonField     = "nonFieldErrors"
	FieldUID          = "uid"
	FieldToken        = "token"
	FieldNewPassword1 = "newPassword1"
	FieldNewPassword2 = "newPassword2"
)

// RateLimitMessage is shown when the backend throttles reset emails.
const RateLimitMessage = "Please wait a few minutes before asking for a new email."

var (
	// ErrVerificationSent means registration was accepted but the account
	// must be verified by email before it can sign in.
	ErrVerificationSent = errors.New("authsdk: verification email sent")

	// ErrAccessDenied is returned when a social sign-in is denied.
	ErrAccessDenied = errors.New("authsdk: access denied")

	// ErrEmailNotVerified matches a *ValidationError whose messages say the
	// address has not been verified yet.
	ErrEmailNotVerified = errors.New("authsdk: email not verified")

	// ErrRefreshAccessToken is wrapped by every refresh failure.
	ErrRefreshAccessToken = errors.New("authsdk: failed to refresh access token")

	// ErrNoSession is returned when there is no usable session.
	ErrNoSession = errors.New("authsdk: no session")

	// ErrIncompleteSession rejects an exchange result missing token fields.
	ErrIncompleteSession = errors.New("authsdk: incomplete session")
)

// ValidationError carries the backend's field-keyed messages verbatim.
type ValidationError struct {
	StatusCode int
	Fields     map[string][]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], " "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrEmailNotVerified) pick out the unverified case.
func (e *ValidationError) Is(target error) bool {
	return target == ErrEmailNotVerified && e.IsUnverifiedEmail()
}

// Messages returns the messages for one field.
func (e *ValidationError) Messages(field string) []string {
	return e.Fields[field]
}

// IsUnverifiedEmail reports whether any message says the email is not verified.
func (e *ValidationError) IsUnverifiedEmail() bool {
	for _, msgs := range e.Fields {
		for _, m := range msgs {
			if strings.Contains(strings.ToLower(m), "not verified") {
				return true
			}
		}
	}
	return false
}

// RateLimitError is returned on HTTP 429. It is never retried automatically.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return RateLimitMessage
}

// TransportError covers network failures and responses that cannot be parsed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("authsdk: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError is an error status returned by the backend for a dispatched
// request. Err is set when a corrective action (a refresh) also failed.
type HTTPError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Err        error
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("authsdk: HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HTTPError) Unwrap() error { return e.Err }

// Unauthorized reports whether the backend rejected the access token.
func (e *HTTPError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// parseErrorResponse turns a non-2xx credential endpoint response into a
// typed error.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    RateLimitMessage,
		}
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		if fields := parseFieldErrors(body); len(fields) > 0 {
			return &ValidationError{StatusCode: resp.StatusCode, Fields: fields}
		}
	}

	return &HTTPError{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}
}

// parseFieldErrors accepts both {"field": "msg"} and {"field": ["msg", ...]}.
// Anything else yields nil.
func parseFieldErrors(body []byte) map[string][]string {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil
	}

	fields := make(map[string][]string, len(raw))
	for key, val := range raw {
		var list []string
		if err := json.Unmarshal(val, &list); err == nil {
			if len(list) > 0 {
				fields[key] = list
			}
			continue
		}
		var single string
		if err := json.Unmarshal(val, &single); err == nil && single != "" {
			fields[key] = []string{single}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
