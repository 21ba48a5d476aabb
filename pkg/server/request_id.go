package server

import (
	"context"

	"github.com/google/uuid"
)

type requestIDKey struct{}

func newRequestID() string {
	return uuid.NewString()
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the correlation id attached to ctx, "" if there is none.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
