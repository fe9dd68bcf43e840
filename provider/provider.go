// Package provider resolves a track reference into a concrete audio-stream locator
// through an ordered chain of third-party adapters. No single provider is reliable
// enough to be a single point of failure, so every adapter fault advances the chain.
package provider

import (
	"context"
	"errors"

	"github.com/trackrelay/trackrelay/metadata"
)

// Sentinel outcomes an adapter can signal. Any other error is treated as a
// transient fault, which also advances the chain.
var (
	// ErrNotFound means the provider definitively has no audio for this reference.
	ErrNotFound = errors.New("provider: no audio found")
	// ErrRejected means the provider refused the reference (policy, region, auth).
	ErrRejected = errors.New("provider: reference rejected")
	// ErrChainExhausted means every configured provider returned NotFound or a fault.
	ErrChainExhausted = errors.New("provider: all providers exhausted")
)

// Locator is a concrete, fetchable reference to an audio byte stream,
// as opposed to a page URL requiring further resolution.
type Locator struct {
	URL      string
	MimeType string
	// Label carries provider-sourced metadata when the adapter learned better
	// values than the resolver did (e.g. platform video title). Optional.
	Label *metadata.TrackLabel
}

// Outcome classifies a single provider attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeTransient Outcome = "transient_error"
	OutcomeRejected  Outcome = "rejected"
)

// Attempt records one provider try. The per-request attempt sequence is
// append-only; a provider that returned NotFound or Rejected is never retried
// within the same request.
type Attempt struct {
	ProviderID string
	Locator    *Locator
	Outcome    Outcome
	Err        error
}

// Provider is one audio-source adapter. Implementations must honor ctx
// cancellation and keep their own parsing fragility contained: an error from
// one adapter may never affect another.
type Provider interface {
	ID() string
	Resolve(ctx context.Context, label metadata.TrackLabel, rawURL string) (*Locator, error)
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrRejected):
		return OutcomeRejected
	default:
		return OutcomeTransient
	}
}
