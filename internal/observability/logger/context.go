package logger

import "context"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	batchIDKey
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithBatchID tags ctx with the forwarding batch currently being processed.
func WithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, batchIDKey, batchID)
}

func BatchIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(batchIDKey).(string)
	return v
}
