// ABOUTME: Transport-independent lookup handler behind the NATS gateway
// ABOUTME: Combines Koodous analysis, votes and the local index into one reply

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hikmaai-io/hikmaai-koodous/internal/index"
	"github.com/hikmaai-io/hikmaai-koodous/internal/observability"
	"github.com/hikmaai-io/hikmaai-koodous/internal/resilience"
	"github.com/hikmaai-io/hikmaai-koodous/pkg/koodous"
)

// SampleAPI is the subset of *koodous.Client the handler calls.
type SampleAPI interface {
	GetAnalysis(ctx context.Context, digest string) (koodous.Analysis, error)
	Votes(ctx context.Context, digest string) (*koodous.VoteList, error)
}

// IndexReader is the subset of *index.Index the handler calls.
type IndexReader interface {
	Get(ctx context.Context, digest string) (*index.Entry, error)
}

// Handler answers lookup requests.
type Handler struct {
	api    SampleAPI
	index  IndexReader
	logger *slog.Logger
	now    func() time.Time
}

// NewHandler creates a handler. idx may be nil, in which case "index"
// includes are answered with no information.
func NewHandler(api SampleAPI, idx IndexReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{api: api, index: idx, logger: logger, now: time.Now}
}

// Process answers one request. It never returns an error: failures are
// reported through the response status.
func (h *Handler) Process(ctx context.Context, req LookupRequest) (resp LookupResponse) {
	start := h.now()

	resp = LookupResponse{RequestID: req.RequestID}
	if resp.RequestID == "" {
		resp.RequestID = uuid.NewString()
	}
	defer func() {
		end := h.now()
		resp.DurationMs = float64(end.Sub(start).Microseconds()) / 1000
		resp.RespondedAt = end.UTC()
	}()

	sha, err := koodous.ParseSHA256(req.SHA256)
	if err != nil {
		resp.SHA256 = req.SHA256
		resp.Status = StatusInvalid
		resp.Error = err.Error()
		return resp
	}
	resp.SHA256 = sha

	include, err := normalizeIncludes(req.Include)
	if err != nil {
		resp.Status = StatusInvalid
		resp.Error = err.Error()
		return resp
	}

	if slices.Contains(include, IncludeIndex) && h.index != nil {
		entry, err := h.index.Get(ctx, sha)
		if err != nil {
			h.fail(ctx, &resp, "index lookup", err)
			return resp
		}
		if entry != nil {
			resp.Indexed = &IndexInfo{Rulesets: entry.Rulesets, IndexedAt: entry.IndexedAt}
		}
	}

	found := resp.Indexed != nil
	resp.Status = StatusUnknown

	if slices.Contains(include, IncludeAnalysis) {
		analysis, err := h.api.GetAnalysis(ctx, sha)
		switch {
		case errors.Is(err, koodous.ErrNoAnalysis):
			resp.Status = StatusNotAnalyzed
		case err != nil:
			h.fail(ctx, &resp, "get analysis", err)
			return resp
		case analysis != nil:
			resp.Analysis = analysis
			found = true
		}
	}

	if slices.Contains(include, IncludeVotes) {
		votes, err := h.api.Votes(ctx, sha)
		switch {
		case koodous.IsNotFound(err):
		case err != nil:
			h.fail(ctx, &resp, "get votes", err)
			return resp
		default:
			resp.Votes = votes
			found = found || votes.Count > 0
		}
	}

	if found && resp.Status != StatusNotAnalyzed {
		resp.Status = StatusFound
	}
	return resp
}

// fail records err on resp as an error status.
func (h *Handler) fail(ctx context.Context, resp *LookupResponse, operation string, err error) {
	ec := observability.Classify(operation, err, statusOf)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		ec.Code = "CIRCUIT_OPEN"
		ec.Category = observability.CategoryTransient
	}
	resp.Status = StatusError
	resp.Error = err.Error()
	resp.ErrorCode = ec.Code
	resp.Retryable = ec.IsRetryable()

	h.logger.WarnContext(ctx, "lookup failed",
		slog.String("request_id", resp.RequestID),
		slog.String("sha256", resp.SHA256),
		slog.Any("error", ec),
	)
}

// statusOf exposes the HTTP status of client errors to Classify.
func statusOf(err error) int {
	var apiErr *koodous.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	var tErr *koodous.TransportError
	if errors.As(err, &tErr) {
		return 0
	}
	return -1
}

// normalizeIncludes validates and de-duplicates include names.
func normalizeIncludes(include []string) ([]string, error) {
	if len(include) == 0 {
		return []string{IncludeAnalysis}, nil
	}

	out := make([]string, 0, len(include))
	for _, part := range include {
		switch part {
		case IncludeAnalysis, IncludeVotes, IncludeIndex:
			if !slices.Contains(out, part) {
				out = append(out, part)
			}
		default:
			return nil, fmt.Errorf("unknown include %q", part)
		}
	}
	return out, nil
}
