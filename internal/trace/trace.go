package trace

import (
	"context"

	"github.com/google/uuid"
)

type key int

// CorrelationKey is the context key carrying the correlation ID for a single
// ingestion run or search request.
const CorrelationKey key = 0

func NewCorrelationID() string {
	return uuid.New().String()
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationKey, id)
}

func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationKey).(string); ok {
		return id
	}
	return "unknown"
}
