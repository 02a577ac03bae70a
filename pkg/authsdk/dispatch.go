package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
)

// Attempt tells the dispatcher whether a request has already been replayed.
type Attempt int

const (
	FirstAttempt Attempt = iota
	Retried
)

func (a Attempt) String() string {
	switch a {
	case FirstAttempt:
		return "first"
	case Retried:
		return "retried"
	default:
		return fmt.Sprintf("Attempt(%d)", int(a))
	}
}

// Request is everything needed to send a call, and to send it again.
type Request struct {
	Method string
	// Path is relative to the backend base URL and may carry a query.
	Path   string
	Header http.Header
	Body   []byte
}

// NewJSONRequest encodes v as the request body.
func NewJSONRequest(method, path string, v any) (Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Request{}, fmt.Errorf("failed to encode request: %w", err)
	}
	return Request{
		Method: method,
		Path:   path,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   body,
	}, nil
}

// Response is a successful (status < 400) backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON decodes the body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &TransportError{Op: "decode response", Err: err}
	}
	return nil
}

type tokenSource interface {
	current(ctx context.Context) (Session, error)
	refreshAfterUnauthorized(ctx context.Context, rejected string) (Session, error)
}

// Dispatcher sends authenticated requests for one Session. On a 401 it
// refreshes the Session and sends the request once more; it never loops.
// Obtain one from Manager.Dispatcher.
type Dispatcher struct {
	baseURL    string
	httpClient *http.Client
	observer   Observer
	source     tokenSource
}

// Do sends req. Status codes of 400 and above come back as *HTTPError with a
// nil Response. A request carrying its own Authorization header is first
// sent with it; after a 401 it is resent with the Session's token.
func (d *Dispatcher) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Header.Get("Authorization") != "" {
		return d.dispatchExplicit(ctx, req)
	}

	s, err := d.source.current(ctx)
	if err != nil {
		return nil, err
	}
	return d.dispatch(ctx, req, FirstAttempt, s)
}

func (d *Dispatcher) dispatchExplicit(ctx context.Context, req Request) (*Response, error) {
	resp, err := d.send(ctx, req, "")
	httpErr, ok := unauthorized(err)
	if !ok {
		return resp, err
	}

	s, err := d.source.current(ctx)
	if err != nil {
		httpErr.Err = err
		return nil, httpErr
	}
	return d.afterUnauthorized(ctx, req, FirstAttempt, s, httpErr)
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request, attempt Attempt, s Session) (*Response, error) {
	resp, err := d.send(ctx, req, s.AccessToken)
	httpErr, ok := unauthorized(err)
	if !ok {
		return resp, err
	}
	return d.afterUnauthorized(ctx, req, attempt, s, httpErr)
}

// afterUnauthorized handles a 401 received while s was current.
func (d *Dispatcher) afterUnauthorized(ctx context.Context, req Request, attempt Attempt, s Session, httpErr *HTTPError) (*Response, error) {
	logger := slogx.FromContext(ctx).With(
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.String("attempt", attempt.String()),
	)

	switch {
	case attempt == Retried:
		d.observer.ObserveRetry(RetryOutcomeExhausted)
		logger.Info("request still unauthorized after refresh")
		return nil, httpErr

	case s.NeedsReauthentication():
		// The refresh that produced this Session already failed.
		d.observer.ObserveRetry(RetryOutcomeRefreshFailed)
		httpErr.Err = ErrRefreshAccessToken
		return nil, httpErr
	}

	refreshed, err := d.source.refreshAfterUnauthorized(ctx, s.AccessToken)
	if err != nil {
		d.observer.ObserveRetry(RetryOutcomeRefreshFailed)
		logger.Info("refresh after 401 failed", slog.String("error", err.Error()))
		httpErr.Err = err
		return nil, httpErr
	}

	d.observer.ObserveRetry(RetryOutcomeRetried)
	logger.Debug("retrying request with refreshed token")
	return d.dispatch(ctx, req, Retried, refreshed)
}

func unauthorized(err error) (*HTTPError, bool) {
	httpErr, ok := err.(*HTTPError)
	return httpErr, ok && httpErr.Unauthorized()
}

// send performs one HTTP exchange. token is set as a bearer credential
// unless empty.
func (d *Dispatcher) send(ctx context.Context, req Request, token string) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, d.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: req.Method + " " + req.Path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &TransportError{Op: "read " + req.Path, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Body:       respBody,
		}
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       respBody,
	}, nil
}
