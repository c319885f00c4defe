// ABOUTME: Audit logging for state-changing Koodous operations
// ABOUTME: Records uploads, votes, comment changes and analysis requests

package observability

import (
	"context"
	"log/slog"
	"time"
)

// Audit event type constants.
const (
	EventTypeSample   = "SAMPLE"
	EventTypeComment  = "COMMENT"
	EventTypeVote     = "VOTE"
	EventTypeAnalysis = "ANALYSIS"
)

// Audit action constants.
const (
	ActionCreate = "CREATE"
	ActionDelete = "DELETE"
)

// Audit result constants.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// AuditLogger records every call that changes state on the service.
type AuditLogger struct {
	logger *slog.Logger
	actor  string
}

// NewAuditLogger creates an audit logger attributing events to actor.
func NewAuditLogger(logger *slog.Logger, actor string) *AuditLogger {
	return &AuditLogger{
		logger: logger,
		actor:  actor,
	}
}

func (a *AuditLogger) log(ctx context.Context, level slog.Level, eventType, action, resource, result string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("event_type", eventType),
		slog.String("action", action),
		slog.String("actor", a.actor),
		slog.String("resource", resource),
		slog.String("result", result),
		slog.String("correlation_id", FromContext(ctx).String()),
		slog.Time("timestamp", time.Now().UTC()),
	}
	attrs = append(attrs, extra...)
	a.logger.LogAttrs(ctx, level, "audit_event", attrs...)
}

// resultOf maps an operation error to an audit result.
func resultOf(err error) (string, slog.Level) {
	if err != nil {
		return ResultFailure, slog.LevelWarn
	}
	return ResultSuccess, slog.LevelInfo
}

// LogUpload records a sample upload attempt.
func (a *AuditLogger) LogUpload(ctx context.Context, sha256 string, size int64, err error) {
	result, level := resultOf(err)
	a.log(ctx, level, EventTypeSample, ActionCreate, sha256, result, slog.Int64("file_size", size))
}

// LogVote records a vote cast on a sample.
func (a *AuditLogger) LogVote(ctx context.Context, sha256, kind string, err error) {
	result, level := resultOf(err)
	a.log(ctx, level, EventTypeVote, ActionCreate, sha256, result, slog.String("kind", kind))
}

// LogComment records a comment posted on a sample.
func (a *AuditLogger) LogComment(ctx context.Context, sha256 string, err error) {
	result, level := resultOf(err)
	a.log(ctx, level, EventTypeComment, ActionCreate, sha256, result)
}

// LogCommentDeletion records a comment deletion. deleted is false when the
// comment did not exist.
func (a *AuditLogger) LogCommentDeletion(ctx context.Context, commentID string, deleted bool, err error) {
	result, level := resultOf(err)
	if err == nil && !deleted {
		result = ResultSkipped
	}
	a.log(ctx, level, EventTypeComment, ActionDelete, commentID, result)
}

// LogAnalysisRequest records a request to analyze a sample.
func (a *AuditLogger) LogAnalysisRequest(ctx context.Context, sha256 string, accepted bool, err error) {
	result, level := resultOf(err)
	if err == nil && !accepted {
		result = ResultSkipped
	}
	a.log(ctx, level, EventTypeAnalysis, ActionCreate, sha256, result)
}
