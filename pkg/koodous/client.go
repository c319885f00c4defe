// ABOUTME: HTTP client for the Koodous APK analysis REST API
// ABOUTME: Handles construction options, authentication, request execution and JSON decoding

package koodous

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hikmaai-io/hikmaai-koodous/internal/observability"
)

// Default client configuration values.
const (
	DefaultBaseURL   = "https://api.koodous.com"
	DefaultPageSize  = 25
	DefaultUserAgent = "hikmaai-koodous/1.0"

	tracerName = "github.com/hikmaai-io/hikmaai-koodous/pkg/koodous"
)

// Recorder receives one observation per HTTP round trip.
// observability.APIMetrics satisfies it.
type Recorder interface {
	RecordCall(operation string, statusCode int, duration time.Duration, err error)
}

// Client is a synchronous client for the Koodous API.
// It holds no mutable state and is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	recorder   Recorder
	userAgent  string
	pageSize   int
}

// Option configures the Client during construction.
type Option func(*clientConfig) error

type clientConfig struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	recorder   Recorder
	userAgent  string
	timeout    time.Duration
	pageSize   int
}

// New creates a Client authenticated with the given API token.
func New(token string, opts ...Option) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("koodous: token is required")
	}

	cfg := &clientConfig{
		baseURL:   DefaultBaseURL,
		userAgent: DefaultUserAgent,
		pageSize:  DefaultPageSize,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	base, err := url.Parse(strings.TrimSuffix(cfg.baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("koodous: invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("koodous: base URL must be http or https, got %q", cfg.baseURL)
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	tracer := cfg.tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Client{
		baseURL:    base,
		token:      token,
		httpClient: httpClient,
		logger:     logger,
		tracer:     tracer,
		recorder:   cfg.recorder,
		userAgent:  cfg.userAgent,
		pageSize:   cfg.pageSize,
	}, nil
}

// WithBaseURL overrides the service base URL.
func WithBaseURL(u string) Option {
	return func(cfg *clientConfig) error {
		if strings.TrimSpace(u) == "" {
			return errors.New("koodous: base URL must not be empty")
		}
		cfg.baseURL = u
		return nil
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithTimeout sets a timeout on the HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		if d < 0 {
			return fmt.Errorf("koodous: negative timeout %s", d)
		}
		cfg.timeout = d
		return nil
	}
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) error {
		cfg.logger = l
		return nil
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(cfg *clientConfig) error {
		cfg.tracer = t
		return nil
	}
}

// WithRecorder attaches a per-call metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(cfg *clientConfig) error {
		cfg.recorder = r
		return nil
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cfg *clientConfig) error {
		cfg.userAgent = ua
		return nil
	}
}

// WithPageSize sets the page length requested from listing endpoints.
func WithPageSize(n int) Option {
	return func(cfg *clientConfig) error {
		if n <= 0 {
			return fmt.Errorf("koodous: page size must be positive, got %d", n)
		}
		cfg.pageSize = n
		return nil
	}
}

// BaseURL returns the configured service base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// PageSize returns the page length requested from listing endpoints.
func (c *Client) PageSize() int {
	return c.pageSize
}

// request describes a single API round trip.
type request struct {
	operation string
	method    string

	// ref is a path relative to the base URL or an absolute URL.
	ref   string
	query url.Values

	// external marks signed out-of-band URLs that must not see the token.
	external bool

	jsonBody    any
	body        io.Reader
	contentType string

	// contentLength is sent when body is a stream of known size.
	contentLength int64

	// sha256 is attached to the span when set.
	sha256 string
}

// do executes the request and returns the raw response whatever its status.
// The caller owns resp.Body.
func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	target, err := c.resolve(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.operation, err)
	}

	body := r.body
	contentType := r.contentType
	if r.jsonBody != nil {
		data, err := json.Marshal(r.jsonBody)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", r.operation, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	ctx, span := c.tracer.Start(ctx, "koodous."+spanName(r.operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.method", r.method)),
	)
	defer span.End()
	if r.sha256 != "" {
		span.SetAttributes(attribute.String("koodous.sha256", r.sha256))
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", r.operation, err)
	}

	if r.contentLength > 0 {
		req.ContentLength = r.contentLength
	}
	if !r.external {
		req.Header.Set("Authorization", "Token "+c.token)
		req.Header.Set("Accept", "application/json")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("User-Agent", c.userAgent)

	correlationID := observability.FromContext(ctx)
	if correlationID == "" {
		correlationID = observability.NewCorrelationID()
	}
	req.Header.Set(observability.CorrelationIDHeader, correlationID.String())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if c.recorder != nil {
		c.recorder.RecordCall(r.operation, status, elapsed, err)
	}

	c.logger.DebugContext(ctx, "koodous request",
		slog.String("operation", r.operation),
		slog.String("method", r.method),
		slog.String("url", observability.RedactURL(target)),
		slog.Int("status", status),
		slog.Duration("duration", elapsed),
		slog.String("correlation_id", correlationID.String()),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return nil, &TransportError{Operation: r.operation, Err: err}
	}

	span.SetAttributes(attribute.Int("http.status_code", status))
	if !isSuccess(status) {
		span.SetStatus(codes.Error, resp.Status)
	}

	return resp, nil
}

// doJSON executes the request and decodes a successful JSON body into dst.
// Non-2xx responses are returned as *APIError.
func (c *Client) doJSON(ctx context.Context, r request, dst any) error {
	resp, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return errorFromResponse(r.operation, resp)
	}

	if dst == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%s: decode response: %w", r.operation, err)
	}
	return nil
}

// resolve turns the request reference into an absolute URL.
// Absolute references that are not external must point at the base scheme
// and host so the token never leaves the service or travels in cleartext.
func (c *Client) resolve(r request) (string, error) {
	u, err := url.Parse(r.ref)
	if err != nil {
		return "", fmt.Errorf("invalid reference %q: %w", r.ref, err)
	}

	if u.IsAbs() {
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
		}
		if !r.external {
			if !strings.EqualFold(u.Host, c.baseURL.Host) {
				return "", fmt.Errorf("refusing to send credentials to foreign host %q", u.Host)
			}
			if u.Scheme != c.baseURL.Scheme {
				return "", fmt.Errorf("refusing to send credentials over %s to %s service", u.Scheme, c.baseURL.Scheme)
			}
		}
	} else {
		ref, err := url.Parse(strings.TrimPrefix(r.ref, "/"))
		if err != nil {
			return "", fmt.Errorf("invalid path %q: %w", r.ref, err)
		}
		base := *c.baseURL
		base.Path = strings.TrimSuffix(base.Path, "/") + "/"
		u = base.ResolveReference(ref)
	}

	if len(r.query) > 0 {
		q := u.Query()
		for k, vs := range r.query {
			for _, v := range vs {
				q.Set(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// listQuery returns the query parameters shared by listing endpoints.
func (c *Client) listQuery() url.Values {
	q := url.Values{}
	q.Set("page_size", strconv.Itoa(c.pageSize))
	return q
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// spanName turns "get analysis" into "get_analysis".
func spanName(operation string) string {
	return strings.ReplaceAll(operation, " ", "_")
}

// digestPath builds an /apks/{sha256}/... path segment.
func digestPath(sha256 string, parts ...string) string {
	segments := append([]string{"apks", url.PathEscape(strings.ToLower(strings.TrimSpace(sha256)))}, parts...)
	return strings.Join(segments, "/")
}
