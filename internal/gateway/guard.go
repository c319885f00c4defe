// ABOUTME: Circuit-breaker wrapper around the Koodous calls made by lookups
// ABOUTME: Sheds load while the upstream keeps failing with transient errors

package gateway

import (
	"context"

	"github.com/hikmaai-io/hikmaai-koodous/internal/resilience"
	"github.com/hikmaai-io/hikmaai-koodous/pkg/koodous"
)

// NewBreaker returns a circuit breaker that only counts transient Koodous
// failures (transport errors, 429 and 5xx) against the upstream.
func NewBreaker(cfg resilience.Config) *resilience.CircuitBreaker {
	cfg.IsFailure = koodous.IsTransient
	if cfg.Name == "" {
		cfg.Name = "koodous-api"
	}
	return resilience.NewCircuitBreaker(cfg)
}

type guardedAPI struct {
	api SampleAPI
	cb  *resilience.CircuitBreaker
}

// WithBreaker routes every call of api through cb. Rejected calls fail with
// resilience.ErrCircuitOpen.
func WithBreaker(api SampleAPI, cb *resilience.CircuitBreaker) SampleAPI {
	return &guardedAPI{api: api, cb: cb}
}

func (g *guardedAPI) GetAnalysis(ctx context.Context, digest string) (koodous.Analysis, error) {
	var analysis koodous.Analysis
	err := g.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		analysis, err = g.api.GetAnalysis(ctx, digest)
		return err
	})
	return analysis, err
}

func (g *guardedAPI) Votes(ctx context.Context, digest string) (*koodous.VoteList, error) {
	var votes *koodous.VoteList
	err := g.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		votes, err = g.api.Votes(ctx, digest)
		return err
	})
	return votes, err
}
