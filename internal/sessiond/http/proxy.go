package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/aussiebroadwan/sessionkit/internal/sessiond/cookie"
	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
	"github.com/aussiebroadwan/sessionkit/pkg/httpx"
)

// maxProxyBody caps request bodies forwarded to the backend.
const maxProxyBody = 4 << 20

// forwardedHeaders are copied from the browser request. Cookies and
// Authorization stay here; the backend only sees the session's token.
var forwardedHeaders = []string{
	"Accept",
	"Accept-Language",
	"Content-Type",
	"If-Match",
	"If-None-Match",
}

// returnedHeaders are copied back from the backend response.
var returnedHeaders = []string{
	"Content-Type",
	"Content-Language",
	"ETag",
	"Last-Modified",
	"Location",
	"Retry-After",
}

// ProxyHandler sends /api/ requests to the identity backend as the
// signed-in user, refreshing and retrying once on 401.
type ProxyHandler struct {
	Manager *authsdk.Manager
}

// ServeHTTP godoc
//
//	@Summary		Authenticated backend proxy
//	@Description	Forwards the request to the identity backend with the session's access token.
//	@Description	A 401 triggers one refresh and one retry. If the refresh fails the session is tagged RefreshAccessTokenError.
//	@Tags			Proxy
//	@Param			path	path	string	true	"backend path"
//	@Success		200
//	@Failure		401	{object}	httpx.ErrorBody
//	@Router			/api/{path} [get].
func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxProxyBody+1))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.ErrorBody{
			Code:    CodeInvalidRequest,
			Message: "failed to read request body",
		})
		return
	}
	if len(body) > maxProxyBody {
		httpx.WriteError(w, http.StatusRequestEntityTooLarge, httpx.ErrorBody{
			Code:    CodeInvalidRequest,
			Message: "request body too large",
		})
		return
	}

	path := "/" + r.PathValue("path")
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	req := authsdk.Request{
		Method: r.Method,
		Path:   path,
		Header: make(http.Header),
	}
	if len(body) > 0 {
		req.Body = body
	}
	for _, k := range forwardedHeaders {
		if v := r.Header.Values(k); len(v) > 0 {
			req.Header[k] = v
		}
	}

	resp, err := h.Manager.Dispatcher(cookie.SessionID(r.Context())).Do(r.Context(), req)

	var httpErr *authsdk.HTTPError
	switch {
	case err == nil:
		writeUpstream(w, resp.StatusCode, resp.Header, resp.Body)
	case errors.Is(err, authsdk.ErrRefreshAccessToken):
		writeSDKError(w, r, err)
	case errors.As(err, &httpErr):
		writeUpstream(w, httpErr.StatusCode, httpErr.Header, httpErr.Body)
	default:
		writeSDKError(w, r, err)
	}
}

func writeUpstream(w http.ResponseWriter, status int, header http.Header, body []byte) {
	for _, k := range returnedHeaders {
		if v := header.Values(k); len(v) > 0 {
			w.Header()[k] = v
		}
	}
	httpx.NoCache(w)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
