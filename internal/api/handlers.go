// ABOUTME: HTTP handlers served next to the NATS gateway
// ABOUTME: Provides sample lookup, health checks and API call metrics

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hikmaai-io/hikmaai-koodous/internal/gateway"
	"github.com/hikmaai-io/hikmaai-koodous/internal/index"
	"github.com/hikmaai-io/hikmaai-koodous/internal/observability"
	"github.com/hikmaai-io/hikmaai-koodous/internal/resilience"
)

// Lookuper answers sample lookups. *gateway.Handler satisfies it.
type Lookuper interface {
	Process(ctx context.Context, req gateway.LookupRequest) gateway.LookupResponse
}

// IndexStatter reports index statistics. *index.Index satisfies it.
type IndexStatter interface {
	Stats(ctx context.Context) (*index.Stats, error)
}

// ConnChecker reports broker connectivity. *gateway.Client satisfies it.
type ConnChecker interface {
	IsConnected() bool
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	lookup  Lookuper
	index   IndexStatter
	conn    ConnChecker
	breaker *resilience.CircuitBreaker
	metrics *observability.APIMetrics
}

// HandlerConfig holds configuration for API handlers. Only Lookup is required.
type HandlerConfig struct {
	Lookup  Lookuper
	Index   IndexStatter
	Conn    ConnChecker
	Breaker *resilience.CircuitBreaker
	Metrics *observability.APIMetrics
}

// NewHandler creates a new API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		lookup:  cfg.Lookup,
		index:   cfg.Index,
		conn:    cfg.Conn,
		breaker: cfg.Breaker,
		metrics: cfg.Metrics,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/apks/{sha256}", h.HandleLookup)
	mux.HandleFunc("GET /api/v1/health", h.HandleHealth)
	mux.HandleFunc("GET /api/v1/metrics", h.HandleMetrics)
}

// HandleLookup answers a sample lookup.
// GET /api/v1/apks/{sha256}?include=analysis,votes,index
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	req := gateway.LookupRequest{
		SHA256:    r.PathValue("sha256"),
		RequestID: r.Header.Get("X-Request-ID"),
	}
	for _, v := range r.URL.Query()["include"] {
		for part := range strings.SplitSeq(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				req.Include = append(req.Include, part)
			}
		}
	}

	resp := h.lookup.Process(r.Context(), req)
	writeJSON(w, lookupStatusCode(resp), resp)
}

// lookupStatusCode maps a lookup outcome to an HTTP status.
func lookupStatusCode(resp gateway.LookupResponse) int {
	switch resp.Status {
	case gateway.StatusInvalid:
		return http.StatusBadRequest
	case gateway.StatusError:
		if resp.Retryable {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

// HandleHealth handles health check requests.
// GET /api/v1/health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := make(map[string]any)

	if h.conn != nil {
		if h.conn.IsConnected() {
			checks["nats"] = "ok"
		} else {
			status = "degraded"
			checks["nats"] = "disconnected"
		}
	}

	if h.breaker != nil {
		state := h.breaker.State()
		checks["koodous_api"] = "circuit " + state.String()
		if state == resilience.StateOpen {
			status = "degraded"
		}
	}

	if h.index != nil {
		stats, err := h.index.Stats(r.Context())
		if err != nil {
			status = "degraded"
			checks["index"] = fmt.Sprintf("error: %v", err)
		} else {
			checks["index"] = fmt.Sprintf("ok (samples: %d)", stats.Store.Samples)
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

// HandleMetrics reports Koodous API call metrics.
// GET /api/v1/metrics
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeError(w, http.StatusNotFound, "metrics are not enabled")
		return
	}

	body := map[string]any{
		"calls":      h.metrics.Snapshot(),
		"latency":    h.metrics.LatencyPercentiles(),
		"operations": h.metrics.Operations(),
	}
	if h.breaker != nil {
		body["circuit_breaker"] = h.breaker.Statistics()
	}
	writeJSON(w, http.StatusOK, body)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusRecorder captures the status written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware attaches trace context and a correlation ID to each
// request and logs it. Health checks are not logged.
func LoggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.ExtractHeaders(r.Context(), r.Header)
		id := observability.ExtractOrGenerate(r.Header)
		ctx = observability.WithCorrelationID(ctx, id)
		w.Header().Set(observability.CorrelationIDHeader, id.String())

		ctx, span := observability.StartSpan(ctx, "http "+r.Method)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		routed := r.WithContext(ctx)
		next.ServeHTTP(rec, routed)
		duration := time.Since(start)

		// ServeMux records the matched pattern on the request it routed.
		span.SetAttributes(
			attribute.String("http.route", routed.Pattern),
			attribute.Int("http.status_code", rec.status),
		)
		var spanErr error
		if rec.status >= http.StatusInternalServerError {
			spanErr = errors.New(http.StatusText(rec.status))
		}
		observability.EndSpan(span, spanErr)

		if !strings.HasSuffix(r.URL.Path, "/health") {
			logger.InfoContext(ctx, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", duration),
			)
		}
	})
}
