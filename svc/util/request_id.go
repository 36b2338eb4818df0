package util

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the id stored on ctx, or "" for contexts that never
// passed through the request-id middleware.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func NewRequestID() string {
	return uuid.New().String()
}

// WithRequestID reuses an incoming id when it parses as a UUID and mints a
// fresh one otherwise.
func WithRequestID(ctx context.Context, incoming string) (context.Context, string) {
	id := incoming
	if _, err := uuid.Parse(id); err != nil {
		id = NewRequestID()
	}
	return SetRequestID(ctx, id), id
}
