package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/trackrelay/trackrelay/metadata"
	"github.com/trackrelay/trackrelay/telemetry"
)

// Chain tries providers strictly in priority order until one yields a locator.
// Providers are never raced concurrently: racing would burn quota and bandwidth
// on redundant downloads, and short per-provider timeouts bound total latency
// instead of intra-provider retries.
type Chain struct {
	providers []Provider
	timeout   time.Duration
}

// NewChain builds a chain over the given providers in priority order.
// The configuration is immutable after construction, which keeps per-test
// substitution with mock providers trivial.
func NewChain(providers []Provider, perProviderTimeout time.Duration) *Chain {
	if perProviderTimeout <= 0 {
		perProviderTimeout = 10 * time.Second
	}
	return &Chain{providers: providers, timeout: perProviderTimeout}
}

// Providers returns the configured provider IDs in order.
func (c *Chain) Providers() []string {
	ids := make([]string, len(c.providers))
	for i, p := range c.providers {
		ids[i] = p.ID()
	}
	return ids
}

// Resolve walks the chain, skipping providers named in skip (already tried in
// this request), and returns the first successful locator together with the
// attempt log. ErrChainExhausted is returned only when every remaining
// provider came back NotFound, Rejected, or faulted.
func (c *Chain) Resolve(ctx context.Context, label metadata.TrackLabel, rawURL string, skip map[string]bool) (*Locator, string, []Attempt, error) {
	var attempts []Attempt
	for _, p := range c.providers {
		if skip[p.ID()] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, "", attempts, err
		}

		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		loc, err := p.Resolve(pctx, label, rawURL)
		cancel()

		outcome := classify(err)
		attempts = append(attempts, Attempt{ProviderID: p.ID(), Locator: loc, Outcome: outcome, Err: err})
		telemetry.CountProviderAttempt(p.ID(), string(outcome))

		switch outcome {
		case OutcomeSuccess:
			slog.Debug("provider resolved locator", slog.String("provider", p.ID()))
			return loc, p.ID(), attempts, nil
		case OutcomeNotFound, OutcomeRejected:
			slog.Debug("provider has no stream", slog.String("provider", p.ID()), slog.String("outcome", string(outcome)))
		default:
			// Transient fault: waiting on one broken provider must never
			// block the others, so just move on.
			slog.Warn("provider transient failure, advancing chain", slog.String("provider", p.ID()), slog.Any("err", err))
		}
	}
	return nil, "", attempts, ErrChainExhausted
}
