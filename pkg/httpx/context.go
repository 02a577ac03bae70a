package httpx

import "context"

type ctxKey string

const (
	CtxKeySessionID ctxKey = "session_id"
)

// ContextWithSessionID records the session serving this request.
func ContextWithSessionID(ctx context.Context, sid string) context.Context {
	return context.WithValue(ctx, CtxKeySessionID, sid)
}

// SessionIDFromContext returns the session ID or "" for anonymous requests.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeySessionID).(string); ok {
		return v
	}
	return ""
}
