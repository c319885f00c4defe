// ABOUTME: Correlation IDs tying CLI invocations, gateway requests and API calls together
// ABOUTME: Generates, propagates and extracts IDs from HTTP and NATS headers

package observability

import (
	"context"

	"github.com/google/uuid"
)

// CorrelationIDHeader is the header carrying correlation IDs on outbound
// Koodous requests and on gateway messages.
const CorrelationIDHeader = "X-Correlation-ID"

type correlationIDKey struct{}

// CorrelationID identifies one logical operation across processes.
type CorrelationID string

func (c CorrelationID) String() string {
	return string(c)
}

// NewCorrelationID generates a random correlation ID.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.New().String())
}

// WithCorrelationID returns a copy of ctx carrying id.
func WithCorrelationID(ctx context.Context, id CorrelationID) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// FromContext returns the correlation ID in ctx, or "" when none is set.
func FromContext(ctx context.Context) CorrelationID {
	id, _ := ctx.Value(correlationIDKey{}).(CorrelationID)
	return id
}

// HeaderGetter is satisfied by http.Header and nats.Header.
type HeaderGetter interface {
	Get(key string) string
}

// ExtractOrGenerate returns the correlation ID found in h, or a new one.
// A nil h always yields a new ID.
func ExtractOrGenerate(h HeaderGetter) CorrelationID {
	if h != nil {
		if id := h.Get(CorrelationIDHeader); id != "" {
			return CorrelationID(id)
		}
	}
	return NewCorrelationID()
}

// EnsureCorrelationID returns ctx unchanged when it already carries an ID,
// otherwise a copy with a fresh one.
func EnsureCorrelationID(ctx context.Context) (context.Context, CorrelationID) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewCorrelationID()
	return WithCorrelationID(ctx, id), id
}
