// ABOUTME: OpenTelemetry tracing for Koodous API calls and gateway lookups
// ABOUTME: Exports spans over OTLP gRPC and propagates context through message headers

package observability

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName names the tracer used by StartSpan.
const TracerName = "hikmaai-koodous"

// AttrSHA256 tags spans with the sample they concern.
const AttrSHA256 = attribute.Key("koodous.sha256")

// TracingConfig holds configuration for OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Version     string

	// OTLP gRPC endpoint, e.g. "localhost:4317".
	Endpoint string
	Insecure bool

	// SamplingRatio of root spans to keep; child spans follow their parent.
	SamplingRatio float64
}

// TracerProvider owns the SDK provider and its exporter.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	exporter bool
}

// NewTracerProvider installs a tracer provider and the W3C propagators.
//
// Propagators are installed even when tracing is disabled so that gateway
// requests keep forwarding the trace context of their callers.
func NewTracerProvider(ctx context.Context, cfg TracingConfig) (*TracerProvider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		return &TracerProvider{provider: sdktrace.NewTracerProvider()}, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("creating trace resource: %w", err)
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SamplingRatio)),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{provider: provider, exporter: true}, nil
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter for %s: %w", cfg.Endpoint, err)
	}
	return exporter, nil
}

// samplerFor maps a ratio to a sampler that honors the parent decision.
func samplerFor(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case ratio >= 1.0:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// Tracer returns the tracer the client and gateway spans are created on.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.provider.Tracer(TracerName)
}

// Exporting reports whether spans leave the process.
func (tp *TracerProvider) Exporting() bool {
	return tp.exporter
}

// Shutdown flushes pending spans and stops the exporter.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// SpanIDs returns the trace and span IDs active in ctx, empty when none.
func SpanIDs(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

// StartSpan starts a span on the global tracer provider.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name, opts...)
}

// EndSpan marks span failed when err is set, then ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// InjectHeaders writes the trace context of ctx into h.
// nats.Header converts to http.Header, so gateway messages use it too.
func InjectHeaders(ctx context.Context, h http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}

// ExtractHeaders returns ctx extended with the trace context found in h.
func ExtractHeaders(ctx context.Context, h http.Header) context.Context {
	if h == nil {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(h))
}
