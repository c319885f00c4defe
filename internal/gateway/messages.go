// ABOUTME: Message types for NATS lookup request/reply communication
// ABOUTME: Defines LookupRequest and LookupResponse structures

package gateway

import (
	"time"

	"github.com/hikmaai-io/hikmaai-koodous/pkg/koodous"
)

// Parts a lookup can include.
const (
	IncludeAnalysis = "analysis"
	IncludeVotes    = "votes"
	IncludeIndex    = "index"
)

// Lookup statuses.
const (
	StatusFound       = "found"
	StatusNotAnalyzed = "not_analyzed"
	StatusUnknown     = "unknown"
	StatusInvalid     = "invalid"
	StatusError       = "error"
)

// LookupRequest asks the gateway about one sample.
type LookupRequest struct {
	SHA256 string `json:"sha256"`

	// Optional request ID for correlation; generated when empty.
	RequestID string `json:"request_id,omitempty"`

	// Parts to include. Empty means analysis only.
	Include []string `json:"include,omitempty"`
}

// IndexInfo is what the local index knows about a sample.
type IndexInfo struct {
	Rulesets  []int64   `json:"rulesets,omitempty"`
	IndexedAt time.Time `json:"indexed_at"`
}

// LookupResponse is the reply to a LookupRequest.
type LookupResponse struct {
	RequestID string `json:"request_id"`
	SHA256    string `json:"sha256"`

	// One of found, not_analyzed, unknown, invalid, error.
	Status string `json:"status"`

	Analysis koodous.Analysis  `json:"analysis,omitempty"`
	Votes    *koodous.VoteList `json:"votes,omitempty"`

	// Indexed is nil when the index was not consulted or has no entry.
	Indexed *IndexInfo `json:"indexed,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`

	DurationMs  float64   `json:"duration_ms"`
	RespondedAt time.Time `json:"responded_at"`
}
