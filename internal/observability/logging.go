// ABOUTME: Structured logging with slog for the client, CLI and gateway
// ABOUTME: Injects trace and correlation IDs from context and redacts secrets

package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LoggingConfig holds configuration for structured logging.
type LoggingConfig struct {
	// Level is a slog level name (debug, info, warn, error) with an
	// optional offset such as "info+2". "warning" is accepted as warn.
	Level string

	// Format is json (default) or text.
	Format string

	ServiceName string
	Version     string

	AddSource bool
}

// NewLogger creates a structured logger writing to w (stderr when nil).
// Records logged with a context carry trace_id, span_id and
// correlation_id when those are present. Unparseable levels log at info.
func NewLogger(cfg LoggingConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	level, err := ParseLogLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: RedactAttr,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	var attrs []slog.Attr
	if cfg.ServiceName != "" {
		attrs = append(attrs, slog.String("service", cfg.ServiceName))
	}
	if cfg.Version != "" {
		attrs = append(attrs, slog.String("version", cfg.Version))
	}
	return slog.New(&contextHandler{next: handler.WithAttrs(attrs)})
}

// ParseLogLevel parses a level name. An empty string is info.
func ParseLogLevel(level string) (slog.Level, error) {
	level = strings.TrimSpace(level)
	if level == "" {
		return slog.LevelInfo, nil
	}
	if strings.EqualFold(level, "warning") {
		level = "warn"
	}

	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", level)
	}
	return l, nil
}

// ValidLogFormat reports whether format is one NewLogger understands.
func ValidLogFormat(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json", "text":
		return true
	}
	return false
}

// contextHandler decorates records with IDs found in the record context.
type contextHandler struct {
	next slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if traceID, spanID := SpanIDs(ctx); traceID != "" {
		r.AddAttrs(slog.String("trace_id", traceID), slog.String("span_id", spanID))
	}
	if id := FromContext(ctx); id != "" {
		r.AddAttrs(slog.String("correlation_id", id.String()))
	}
	return h.next.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name)}
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
