// ABOUTME: Structured error context for reporting failed upstream calls
// ABOUTME: Classifies errors by HTTP status into retryable categories with slog integration

package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Error category constants.
const (
	CategoryTransient = "transient"  // Retryable: transport failures, 429, 5xx.
	CategoryPermanent = "permanent"  // Not retryable, not caused by the caller.
	CategoryUserError = "user_error" // Rejected input or credentials: 4xx.
	CategoryCanceled  = "canceled"
)

// ErrorContext describes a failed operation for logs and replies.
type ErrorContext struct {
	Code       string `json:"code"`
	Category   string `json:"category"`
	Operation  string `json:"operation"`
	StatusCode int    `json:"status_code,omitempty"`

	Err error `json:"-"`
}

// StatusFunc extracts the HTTP status carried by err. It returns 0 when err
// never reached the server and -1 when err carries no HTTP information.
type StatusFunc func(err error) int

// Classify builds an ErrorContext for err, which must not be nil.
func Classify(operation string, err error, statusOf StatusFunc) *ErrorContext {
	ec := &ErrorContext{Operation: operation, Err: err}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		ec.Code = "CANCELED"
		ec.Category = CategoryCanceled
		return ec
	}

	status := -1
	if statusOf != nil {
		status = statusOf(err)
	}
	ec.StatusCode = max(status, 0)

	switch {
	case status == 0:
		ec.Code = "TRANSPORT"
		ec.Category = CategoryTransient
	case status == 429 || status >= 500:
		ec.Code = fmt.Sprintf("HTTP_%d", status)
		ec.Category = CategoryTransient
	case status >= 400:
		ec.Code = fmt.Sprintf("HTTP_%d", status)
		ec.Category = CategoryUserError
	default:
		ec.Code = "INTERNAL"
		ec.Category = CategoryPermanent
	}
	return ec
}

// IsRetryable returns true if the error is retryable.
func (e *ErrorContext) IsRetryable() bool {
	return e.Category == CategoryTransient
}

func (e *ErrorContext) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Code, e.Category, e.Operation, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Category, e.Operation)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ErrorContext) Unwrap() error {
	return e.Err
}

// LogValue implements slog.LogValuer for structured logging.
func (e *ErrorContext) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("code", e.Code),
		slog.String("category", e.Category),
		slog.String("operation", e.Operation),
		slog.Bool("is_retryable", e.IsRetryable()),
	}
	if e.StatusCode != 0 {
		attrs = append(attrs, slog.Int("status_code", e.StatusCode))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}
	return slog.GroupValue(attrs...)
}
