// ABOUTME: NATS request/reply front for sample lookups
// ABOUTME: Queue-group subscription, trace and correlation propagation, and a requester helper

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hikmaai-io/hikmaai-koodous/internal/observability"
)

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	URL string

	// Subject to subscribe to for lookup requests.
	Subject string

	// Queue group name for load balancing across gateways.
	QueueGroup string

	// Connection name for identification.
	Name string

	MaxReconnects int
	ReconnectWait time.Duration

	// Upper bound for answering one request.
	Timeout time.Duration
}

// DefaultNATSConfig returns a configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Subject:       "koodous.lookup",
		QueueGroup:    "koodous-gateway",
		Name:          "hikmaai-koodous",
		MaxReconnects: -1, // Unlimited.
		ReconnectWait: 2 * time.Second,
		Timeout:       30 * time.Second,
	}
}

// Client serves lookups received over NATS.
type Client struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	handler *Handler
	config  NATSConfig
	logger  *slog.Logger
}

// NewClient creates a gateway client. Call Connect then Subscribe.
func NewClient(cfg NATSConfig, handler *Handler, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{handler: handler, config: cfg, logger: logger}
}

// Connect establishes the NATS connection.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := Dial(c.config, c.logger)
	if err != nil {
		return err
	}

	c.conn = conn
	c.logger.InfoContext(ctx, "connected to NATS",
		slog.String("url", conn.ConnectedUrl()),
		slog.String("server_id", conn.ConnectedServerId()),
	)
	return nil
}

// Dial connects to NATS with reconnect handling that logs to logger.
func Dial(cfg NATSConfig, logger *slog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS error", slog.Any("error", err), slog.String("subject", subject))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// Subscribe starts answering lookup requests. Handlers run with a context
// derived from ctx, so cancelling ctx aborts in-flight lookups.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil {
		return errors.New("not connected to NATS")
	}

	sub, err := c.conn.QueueSubscribe(c.config.Subject, c.config.QueueGroup, func(msg *nats.Msg) {
		c.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.sub = sub
	c.logger.InfoContext(ctx, "subscribed to NATS",
		slog.String("subject", c.config.Subject),
		slog.String("queue", c.config.QueueGroup),
	)
	return nil
}

// handleMessage processes one incoming lookup.
func (c *Client) handleMessage(ctx context.Context, msg *nats.Msg) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	ctx = observability.ExtractHeaders(ctx, http.Header(msg.Header))
	ctx = observability.WithCorrelationID(ctx, observability.ExtractOrGenerate(msg.Header))

	ctx, span := observability.StartSpan(ctx, "nats.handle_lookup")

	req, err := DecodeRequest(msg.Data)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to parse lookup request",
			slog.Any("error", err),
			slog.Int("size", len(msg.Data)),
		)
		c.respond(ctx, msg, invalidResponse(err))
		observability.EndSpan(span, err)
		return
	}

	resp := c.handler.Process(ctx, req)
	c.respond(ctx, msg, resp)

	span.SetAttributes(observability.AttrSHA256.String(resp.SHA256))
	if resp.Status == StatusError {
		err = errors.New(resp.Error)
	}
	observability.EndSpan(span, err)

	c.logger.InfoContext(ctx, "processed lookup request",
		slog.String("request_id", resp.RequestID),
		slog.String("sha256", truncateHash(resp.SHA256)),
		slog.String("status", resp.Status),
		slog.Float64("duration_ms", resp.DurationMs),
	)
}

// respond sends resp when the message expects a reply.
func (c *Client) respond(ctx context.Context, msg *nats.Msg, resp LookupResponse) {
	if msg.Reply == "" {
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to marshal response",
			slog.Any("error", err),
			slog.String("request_id", resp.RequestID),
		)
		return
	}

	reply := nats.NewMsg(msg.Reply)
	reply.Data = data
	reply.Header.Set(observability.CorrelationIDHeader, observability.FromContext(ctx).String())
	if err := msg.RespondMsg(reply); err != nil {
		c.logger.ErrorContext(ctx, "failed to send reply",
			slog.Any("error", err),
			slog.String("request_id", resp.RequestID),
		)
	}
}

// Close unsubscribes and closes the NATS connection.
func (c *Client) Close() error {
	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil {
			c.logger.Warn("failed to unsubscribe", slog.Any("error", err))
		}
	}
	if c.conn != nil {
		c.conn.Close()
	}
	return nil
}

// IsConnected returns true if connected to NATS.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Requester is the subset of *nats.Conn used by RequestLookup.
type Requester interface {
	RequestMsgWithContext(ctx context.Context, msg *nats.Msg) (*nats.Msg, error)
}

// RequestLookup sends req to subject and waits for the gateway's answer.
// ctx bounds the wait and its trace and correlation ID travel in headers.
func RequestLookup(ctx context.Context, conn Requester, subject string, req LookupRequest) (*LookupResponse, error) {
	msg, err := NewRequestMsg(ctx, subject, req)
	if err != nil {
		return nil, err
	}

	reply, err := conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("lookup request: %w", err)
	}
	return DecodeResponse(reply.Data)
}

// NewRequestMsg builds the NATS message for req.
func NewRequestMsg(ctx context.Context, subject string, req LookupRequest) (*nats.Msg, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal lookup request: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	observability.InjectHeaders(ctx, http.Header(msg.Header))
	if id := observability.FromContext(ctx); id != "" {
		msg.Header.Set(observability.CorrelationIDHeader, id.String())
	}
	return msg, nil
}

// DecodeRequest parses a lookup request payload.
func DecodeRequest(data []byte) (LookupRequest, error) {
	var req LookupRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return LookupRequest{}, fmt.Errorf("invalid request format: %w", err)
	}
	return req, nil
}

// DecodeResponse parses a lookup reply payload.
func DecodeResponse(data []byte) (*LookupResponse, error) {
	var resp LookupResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("invalid response format: %w", err)
	}
	return &resp, nil
}

// invalidResponse answers a payload that could not be decoded.
func invalidResponse(err error) LookupResponse {
	return LookupResponse{
		Status:      StatusInvalid,
		Error:       err.Error(),
		RespondedAt: time.Now().UTC(),
	}
}

// truncateHash returns a truncated hash for logging.
func truncateHash(hash string) string {
	if len(hash) > 16 {
		return hash[:8] + "..." + hash[len(hash)-8:]
	}
	return hash
}
