package slogx

import (
	"net/http"
	"time"
)

// Transport logs every outgoing request at debug level through the logger
// found in the request context. Only method, host, path, status and timing
// are recorded; headers and bodies carry credentials.
type Transport struct {
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	log := FromContext(req.Context())
	start := time.Now()

	resp, err := base.RoundTrip(req)
	if err != nil {
		log.Debug("backend_request_failed",
			"method", req.Method,
			"host", req.URL.Host,
			"upstream_path", req.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
			"err", err,
		)
		return nil, err
	}

	log.Debug("backend_request",
		"method", req.Method,
		"host", req.URL.Host,
		"upstream_path", req.URL.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}
