package cli

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
)

// describe turns SDK errors into messages fit for a terminal.
func describe(err error) error {
	var (
		verr    *authsdk.ValidationError
		rateErr *authsdk.RateLimitError
	)

	switch {
	case errors.Is(err, authsdk.ErrRefreshAccessToken):
		return fmt.Errorf("session expired; run `sessionctl login` again: %w", err)

	case errors.As(err, &verr):
		if verr.IsUnverifiedEmail() {
			return fmt.Errorf("email not verified; run `sessionctl resend-verification`: %w", err)
		}
		keys := make([]string, 0, len(verr.Fields))
		for k := range verr.Fields {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("  %s: %s", k, strings.Join(verr.Fields[k], " ")))
		}
		return &messageError{msg: "rejected by the backend:\n" + strings.Join(lines, "\n"), err: err}

	case errors.As(err, &rateErr):
		if rateErr.RetryAfter > 0 {
			return &messageError{msg: fmt.Sprintf("%s (retry in %s)", rateErr.Error(), rateErr.RetryAfter), err: err}
		}
		return rateErr

	case errors.Is(err, authsdk.ErrNoSession):
		return fmt.Errorf("not signed in: %w", err)
	}
	return err
}

// messageError replaces the text of err but keeps it in the chain.
type messageError struct {
	msg string
	err error
}

func (e *messageError) Error() string { return e.msg }
func (e *messageError) Unwrap() error { return e.err }
