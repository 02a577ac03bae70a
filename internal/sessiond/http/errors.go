package http

import (
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
	"github.com/aussiebroadwan/sessionkit/pkg/httpx"
	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
)

// Error codes returned in httpx.ErrorBody.Code.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeValidationFailed   = "validation_failed"
	CodeEmailNotVerified   = "email_not_verified"
	CodeRateLimited        = "rate_limited"
	CodeAccessDenied       = "access_denied"
	CodeNoSession          = "no_session"
	CodeBackendUnavailable = "backend_unavailable"
	CodeBackendError       = "backend_error"
	CodeInternal           = "internal_error"
)

var validate = newValidator()

// newValidator reports field errors under their JSON names so they line up
// with the backend's own field keys.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeRequest decodes and validates a JSON body, writing a 4xx and
// returning false when it is unusable.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, httpx.ErrUnsupportedMediaType) {
			status = http.StatusUnsupportedMediaType
		}
		httpx.WriteError(w, status, httpx.ErrorBody{
			Code:    CodeInvalidRequest,
			Message: err.Error(),
		})
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			httpx.WriteError(w, http.StatusBadRequest, httpx.ErrorBody{
				Code:    CodeInvalidRequest,
				Message: err.Error(),
			})
			return false
		}

		fields := make(map[string][]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = append(fields[fe.Field()], fieldMessage(fe))
		}
		httpx.WriteError(w, http.StatusBadRequest, httpx.ErrorBody{
			Code:    CodeValidationFailed,
			Message: "Some fields are invalid.",
			Fields:  fields,
		})
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "max":
		return "Ensure this field has no more than " + fe.Param() + " characters."
	default:
		return "Invalid value."
	}
}

// writeSDKError maps an authsdk error onto a JSON response.
func writeSDKError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr      *authsdk.ValidationError
		rateErr   *authsdk.RateLimitError
		httpErr   *authsdk.HTTPError
		transport *authsdk.TransportError
	)

	// A failed refresh wraps the backend's rejection, which may itself be a
	// validation error.
	switch {
	case errors.Is(err, authsdk.ErrRefreshAccessToken):
		httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrorBody{
			Code:    authsdk.RefreshAccessTokenError,
			Message: "The session expired. Please sign in again.",
		})

	case errors.As(err, &verr):
		code := CodeValidationFailed
		if verr.IsUnverifiedEmail() {
			code = CodeEmailNotVerified
		}
		httpx.WriteError(w, http.StatusBadRequest, httpx.ErrorBody{
			Code:    code,
			Message: "The identity backend rejected the request.",
			Fields:  verr.Fields,
		})

	case errors.As(err, &rateErr):
		if rateErr.RetryAfter > 0 {
			secs := max(int(rateErr.RetryAfter.Seconds()), 1)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		httpx.WriteError(w, http.StatusTooManyRequests, httpx.ErrorBody{
			Code:    CodeRateLimited,
			Message: rateErr.Error(),
		})

	case errors.Is(err, authsdk.ErrAccessDenied):
		httpx.WriteError(w, http.StatusForbidden, httpx.ErrorBody{
			Code:    CodeAccessDenied,
			Message: "Access denied.",
		})

	case errors.Is(err, authsdk.ErrNoSession):
		httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrorBody{
			Code:    CodeNoSession,
			Message: "Not signed in.",
		})

	case errors.Is(err, httpx.ErrCircuitOpen):
		w.Header().Set("Retry-After", "30")
		httpx.WriteError(w, http.StatusServiceUnavailable, httpx.ErrorBody{
			Code:    CodeBackendUnavailable,
			Message: "The identity backend is unavailable.",
		})

	case errors.As(err, &transport):
		slogx.FromContext(r.Context()).Error("identity backend call failed", slog.String("error", err.Error()))
		httpx.WriteError(w, http.StatusBadGateway, httpx.ErrorBody{
			Code:    CodeBackendUnavailable,
			Message: "The identity backend could not be reached.",
		})

	case errors.As(err, &httpErr):
		status := httpErr.StatusCode
		if status >= http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		httpx.WriteError(w, status, httpx.ErrorBody{
			Code:    CodeBackendError,
			Message: http.StatusText(httpErr.StatusCode),
		})

	default:
		slogx.FromContext(r.Context()).Error("request failed", slog.String("error", err.Error()))
		httpx.WriteError(w, http.StatusInternalServerError, httpx.ErrorBody{
			Code:    CodeInternal,
			Message: "Internal server error.",
		})
	}
}
