// ABOUTME: Ruleset synchronization from the Koodous API into the local index
// ABOUTME: Walks match pages forward and restarts with backoff on transient failures

package index

import (
	"context"
	"errors"
	"iter"
	"log/slog"

	"github.com/hikmaai-io/hikmaai-koodous/internal/retry"
	"github.com/hikmaai-io/hikmaai-koodous/pkg/koodous"
)

// MatchSource lists samples matching a public ruleset. *koodous.Client
// satisfies it.
type MatchSource interface {
	IterMatchesPublicRuleset(ctx context.Context, id int64) iter.Seq2[[]koodous.APK, error]
}

// SyncOptions configures Sync.
type SyncOptions struct {
	// MaxPages bounds pages per pass; 0 means all.
	MaxPages int

	// Backoff paces restarts after transient failures. Nil uses retry defaults.
	Backoff *retry.Backoff

	Logger *slog.Logger
}

// SyncResult reports the outcome of a sync.
type SyncResult struct {
	RulesetID int64 `json:"ruleset_id"`
	Pages     int   `json:"pages"`
	Samples   int   `json:"samples"`
	Added     int   `json:"added"`
	Restarts  int   `json:"restarts"`
}

// Sync copies the matches of rulesetID into idx.
//
// The match listing cannot seek, so a transient failure restarts it from
// the first page after a backoff delay. Pages already indexed cost a fetch
// but no writes. Added counts samples new to the ruleset across all passes.
func Sync(ctx context.Context, src MatchSource, idx *Index, rulesetID int64, opts SyncOptions) (*SyncResult, error) {
	if rulesetID <= 0 {
		return nil, errors.New("sync: ruleset id must be positive")
	}

	b := opts.Backoff
	if b == nil {
		b = retry.NewBackoff(retry.DefaultConfig())
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	result := &SyncResult{RulesetID: rulesetID}
	passes := 0

	err := retry.Do(ctx, b, koodous.IsTransient, func(ctx context.Context) error {
		passes++
		if passes > 1 {
			logger.InfoContext(ctx, "restarting ruleset sync", "ruleset_id", rulesetID, "attempt", passes)
		}

		pages, samples := 0, 0
		for items, err := range src.IterMatchesPublicRuleset(ctx, rulesetID) {
			if err != nil {
				logger.WarnContext(ctx, "ruleset page failed",
					"ruleset_id", rulesetID, "page", pages+1, "error", err)
				return err
			}

			added, err := idx.Put(ctx, rulesetID, items)
			if err != nil {
				return err
			}
			pages++
			samples += len(items)
			result.Added += added

			if opts.MaxPages > 0 && pages >= opts.MaxPages {
				break
			}
		}

		result.Pages = pages
		result.Samples = samples
		return nil
	})
	result.Restarts = max(passes-1, 0)
	if err != nil {
		return result, err
	}

	logger.InfoContext(ctx, "ruleset synced",
		"ruleset_id", rulesetID,
		"pages", result.Pages,
		"samples", result.Samples,
		"added", result.Added,
		"restarts", result.Restarts,
	)
	return result, nil
}
