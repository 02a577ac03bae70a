package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxResponseBody caps how much of a backend response is buffered.
const maxResponseBody = 4 << 20

func (c *SDKClient) url(path string) string {
	return c.BaseURL + path
}

// doJSON sends in as a JSON body (nil for none) and returns the status and the
// buffered response body. Only transport failures are returned as errors.
func (c *SDKClient) doJSON(ctx context.Context, method, path string, in any) (*http.Response, []byte, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, nil, &TransportError{Op: "read " + path, Err: err}
	}
	return resp, respBody, nil
}

// call is doJSON plus status handling: non-2xx becomes a typed error and a
// 2xx body is decoded into out when out is non-nil.
func (c *SDKClient) call(ctx context.Context, method, path string, in, out any) error {
	resp, body, err := c.doJSON(ctx, method, path, in)
	if err != nil {
		return err
	}
	if !isSuccess(resp.StatusCode) {
		return parseErrorResponse(resp, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &TransportError{Op: "decode " + path, Err: err}
	}
	return nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
