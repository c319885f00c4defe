// ABOUTME: Error types returned by the Koodous client
// ABOUTME: APIError for HTTP failures plus sentinels for conflict, missing analysis and failed downloads

package koodous

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Sentinel errors. Their messages are part of the public contract.
var (
	// ErrAlreadyExists is returned by Upload when the service already holds the sample.
	ErrAlreadyExists = errors.New("APK already exists")

	// ErrNoAnalysis is returned by GetAnalysis for a known sample that was never analyzed.
	ErrNoAnalysis = errors.New("This sample has not analysis available, you can request it.")

	// ErrDownloadFailed wraps every DownloadToFile and GetDownloadURL failure.
	ErrDownloadFailed = errors.New("Something was wrong during download")

	// ErrInvalidDigest is returned by ParseSHA256 for malformed digests.
	ErrInvalidDigest = errors.New("invalid sha256 digest")

	// ErrInvalidVoteKind is returned by VoteAPK for kinds other than positive/negative.
	ErrInvalidVoteKind = errors.New("invalid vote kind")
)

// maxErrorBody bounds how much of an error response is kept as the message.
const maxErrorBody = 4 << 10

// APIError represents a non-success response from the Koodous API.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Operation, e.StatusCode, e.Message)
}

// Transient reports whether retrying the same call later may succeed.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func newAPIError(operation string, statusCode int, message string) *APIError {
	return &APIError{
		Operation:  operation,
		StatusCode: statusCode,
		Message:    message,
	}
}

// errorBody covers the error envelopes the service is known to send.
type errorBody struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// errorFromResponse drains resp.Body and builds an *APIError carrying the
// service message when one is present.
func errorFromResponse(operation string, resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil {
		for _, msg := range []string{eb.Detail, eb.Message, eb.Error} {
			if msg != "" {
				return newAPIError(operation, resp.StatusCode, msg)
			}
		}
	}

	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = resp.Status
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return newAPIError(operation, resp.StatusCode, msg)
}

// IsNotFound reports whether err is an API error with HTTP 404 status.
func IsNotFound(err error) bool { return HasStatusCode(err, http.StatusNotFound) }

// IsUnauthorized reports whether err is an API error with HTTP 401 status.
func IsUnauthorized(err error) bool { return HasStatusCode(err, http.StatusUnauthorized) }

// IsConflict reports whether err is an API error with HTTP 409 status.
func IsConflict(err error) bool { return HasStatusCode(err, http.StatusConflict) }

// HasStatusCode reports whether err is an API error whose HTTP status code matches.
func HasStatusCode(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// TransportError is returned when the request never produced a response.
type TransportError struct {
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: do request: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying: 429/5xx API errors and
// transport failures qualify unless the caller's context ended.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var tErr *TransportError
	return errors.As(err, &tErr)
}
