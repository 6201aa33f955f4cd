package observability

import "context"

type ctxKey int

const (
	keyRequestID ctxKey = iota
	keyCorrelationID
)

// WithRequestID stores the id the HTTP layer assigned to the request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext returns the request id, or "" outside a request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(keyRequestID).(string)
	return id
}

// WithCorrelationID stores an id supplied by the caller through X-Correlation-ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyCorrelationID, id)
}

// CorrelationIDFromContext returns the caller's correlation id. Requests
// without one are correlated by their request id.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, _ := ctx.Value(keyCorrelationID).(string); id != "" {
		return id
	}
	return RequestIDFromContext(ctx)
}
