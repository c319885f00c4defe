// ABOUTME: Tests for correlation ID propagation
// ABOUTME: Validates generation, context round trips and header extraction

package observability

import (
	"context"
	"net/http"
	"testing"

	"github.com/nats-io/nats.go"
)

func TestNewCorrelationID(t *testing.T) {
	t.Parallel()

	id1 := NewCorrelationID()
	id2 := NewCorrelationID()

	if id1 == "" {
		t.Error("NewCorrelationID() should not return empty string")
	}
	if id1 == id2 {
		t.Error("NewCorrelationID() should generate unique IDs")
	}
}

func TestCorrelationID_WithContext(t *testing.T) {
	t.Parallel()

	id := NewCorrelationID()
	ctx := WithCorrelationID(context.Background(), id)

	if got := FromContext(ctx); got != id {
		t.Errorf("FromContext() = %q, want %q", got, id)
	}
	if got := FromContext(context.Background()); got != "" {
		t.Errorf("FromContext() with no ID = %q, want empty", got)
	}
}

func TestExtractOrGenerate(t *testing.T) {
	t.Parallel()

	httpHeader := http.Header{}
	httpHeader.Set(CorrelationIDHeader, "from-http")

	natsHeader := nats.Header{}
	natsHeader.Set(CorrelationIDHeader, "from-nats")

	tests := []struct {
		name     string
		header   HeaderGetter
		want     CorrelationID
		generate bool
	}{
		{name: "http header", header: httpHeader, want: "from-http"},
		{name: "nats header", header: natsHeader, want: "from-nats"},
		{name: "missing header", header: http.Header{}, generate: true},
		{name: "nil header", header: nil, generate: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := ExtractOrGenerate(tt.header)
			if tt.generate {
				if got == "" {
					t.Error("ExtractOrGenerate() should generate an ID")
				}
				return
			}
			if got != tt.want {
				t.Errorf("ExtractOrGenerate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEnsureCorrelationID(t *testing.T) {
	t.Parallel()

	ctx, id := EnsureCorrelationID(context.Background())
	if id == "" || FromContext(ctx) != id {
		t.Fatalf("EnsureCorrelationID() = %q, context has %q", id, FromContext(ctx))
	}

	ctx2, id2 := EnsureCorrelationID(ctx)
	if id2 != id || FromContext(ctx2) != id {
		t.Errorf("EnsureCorrelationID() replaced existing ID %q with %q", id, id2)
	}
}
