package onboarding

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

var requestIDCtxKey = &contextKey{"request_id"}

type contextKey struct {
	name string
}

// WithRequestID tags ctx so platform calls made under it reuse the id.
func WithRequestID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDCtxKey, id)
}

// RequestIDFromContext returns the id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	raw, ok := ctx.Value(requestIDCtxKey).(string)
	return raw, ok && raw != ""
}

func requestID(ctx context.Context) string {
	if id, ok := RequestIDFromContext(ctx); ok {
		return id
	}
	return uuid.NewString()
}
