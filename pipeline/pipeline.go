// Package pipeline sequences metadata resolution, provider fallback, bounded
// fetching, and sink delivery per incoming request. It owns the per-request
// lifecycle: an explicit state machine, advisory progress notices, the
// fallback policy between stages, and cleanup guaranteed on every exit path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/trackrelay/trackrelay/fetch"
	"github.com/trackrelay/trackrelay/metadata"
	"github.com/trackrelay/trackrelay/provider"
	"github.com/trackrelay/trackrelay/relay"
	"github.com/trackrelay/trackrelay/telemetry"
)

// Request is one inbound URL event. Immutable; discarded once the pipeline
// terminates.
type Request struct {
	ID        string
	RawURL    string
	CreatedAt time.Time
}

// State is the explicit per-request machine state. Representing it as a
// tagged value (rather than sequential fall-through) keeps illegal
// transitions, like delivering twice, unrepresentable.
type State string

const (
	StateReceived         State = "received"
	StateMetadataResolved State = "metadata_resolved"
	StateProviderResolved State = "provider_resolved"
	StateFetched          State = "fetched"
	StateDelivered        State = "delivered"
	StateFailed           State = "failed"
)

// Failure stages surfaced to the requester. Only the category is exposed;
// provider identities and raw transport errors stay internal.
const (
	StageResolution = "resolution"
	StageFetch      = "fetch"
	StageDelivery   = "delivery"
)

// Result is the terminal record of one request. Never re-used.
type Result struct {
	Delivered     bool
	State         State
	FailureStage  string
	FailureReason string
}

// Orchestrator wires the pipeline stages together. All fields are read-only
// after construction; concurrent requests share nothing else.
type Orchestrator struct {
	resolver *metadata.Resolver
	chain    *provider.Chain
	fetcher  *fetch.Fetcher
	sink     relay.Sink
	notifier Notifier
	journal  *Journal

	maxAttempts int
	inflight    chan struct{}
}

// OrchestratorConfig carries the orchestrator's collaborators and policy.
type OrchestratorConfig struct {
	Resolver            *metadata.Resolver
	Chain               *provider.Chain
	Fetcher             *fetch.Fetcher
	Sink                relay.Sink
	Notifier            Notifier
	Journal             *Journal
	MaxFallbackAttempts int
	MaxInflightRequests int
}

// NewOrchestrator builds an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	maxAttempts := cfg.MaxFallbackAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	maxInflight := cfg.MaxInflightRequests
	if maxInflight <= 0 {
		maxInflight = 8
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Orchestrator{
		resolver:    cfg.Resolver,
		chain:       cfg.Chain,
		fetcher:     cfg.Fetcher,
		sink:        cfg.Sink,
		notifier:    notifier,
		journal:     cfg.Journal,
		maxAttempts: maxAttempts,
		inflight:    make(chan struct{}, maxInflight),
	}
}

// ErrBusy is returned by Submit when the in-flight request cap is reached.
// Rejecting admission beats admitting unbounded concurrent downloads.
var ErrBusy = errors.New("pipeline: too many in-flight requests")

// Submit runs the request as one independent task. It returns ErrBusy without
// starting work when the admission cap is reached.
func (o *Orchestrator) Submit(ctx context.Context, req Request) error {
	select {
	case o.inflight <- struct{}{}:
	default:
		return ErrBusy
	}
	go func() {
		defer func() { <-o.inflight }()
		o.Process(ctx, req)
	}()
	return nil
}

// InflightRequests returns the number of requests currently being processed.
func (o *Orchestrator) InflightRequests() int { return len(o.inflight) }

// Process drives one request through the state machine and returns its
// terminal result. Stages run strictly sequentially; the only suspension
// points are the network calls inside each stage, and every one is bounded by
// a per-call timeout. Cleanup of the payload spool is guaranteed on success,
// failure, and cancellation.
func (o *Orchestrator) Process(ctx context.Context, req Request) Result {
	telemetry.Init()
	telemetry.RequestsReceived.Inc()
	start := time.Now()

	ctx = telemetry.WithCorrelation(ctx, req.ID)
	ctx, span := telemetry.StartSpan(ctx, "pipeline", "process",
		attribute.String("request_id", req.ID))
	defer span.End()

	logger := telemetry.LoggerWithCorr(ctx).With(
		slog.String("component", "pipeline"),
		slog.String("request_id", req.ID),
	)
	logger.Info("request received", slog.String("url", req.RawURL))
	o.journal.Create(ctx, req)

	// Received → MetadataResolved: always succeeds, metadata is cosmetic.
	label := o.resolver.Resolve(ctx, req.RawURL)
	o.setState(ctx, req, StateMetadataResolved)
	o.journal.SetLabel(ctx, req.ID, label)
	o.notify(ctx, req, EventMetadataResolved, fmt.Sprintf("Found: %s - %s", label.Performer, label.Title))
	logger.Info("metadata resolved", slog.String("title", label.Title), slog.String("performer", label.Performer))

	result := o.resolveAndRelay(ctx, req, label, logger)

	total := time.Since(start)
	telemetry.TotalDuration.Observe(total.Seconds())
	o.journal.UpdateMovingAvg(ctx, "avg_total_ms", float64(total.Milliseconds()))
	if result.Delivered {
		telemetry.SetSpanSuccess(span)
		logger.Info("request delivered", slog.Duration("total_duration", total))
	} else {
		telemetry.RecordError(span, fmt.Errorf("%s: %s", result.FailureStage, result.FailureReason))
		logger.Warn("request failed",
			slog.String("stage", result.FailureStage),
			slog.String("reason", result.FailureReason),
			slog.Duration("total_duration", total))
	}
	return result
}

// resolveAndRelay runs the provider/fetch fallback loop and the final
// delivery. A failed fetch from one provider's locator does not indict the
// others, so the chain is re-entered, skipping providers already tried,
// up to the attempt cap.
func (o *Orchestrator) resolveAndRelay(ctx context.Context, req Request, label metadata.TrackLabel, logger *slog.Logger) Result {
	skip := make(map[string]bool)
	announcedDownload := false

	for attempt := 0; attempt < o.maxAttempts; attempt++ {
		loc, providerID, attempts, err := o.chain.Resolve(ctx, label, req.RawURL, skip)
		o.journal.AddAttempts(ctx, req.ID, len(attempts))
		// A provider that answered NotFound or Rejected during this walk is
		// never asked again within the request, even across re-entries.
		for _, a := range attempts {
			if a.Outcome == provider.OutcomeNotFound || a.Outcome == provider.OutcomeRejected {
				skip[a.ProviderID] = true
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return o.fail(ctx, req, StageResolution, "request canceled")
			}
			if attempt == 0 {
				// Nothing ever resolved: a plain not-found.
				telemetry.ResolutionsFailed.Inc()
				return o.fail(ctx, req, StageResolution, "no source could provide this track")
			}
			// Locators were found but every fetch from them failed.
			return o.fail(ctx, req, StageFetch, "every available source failed while downloading")
		}
		o.setState(ctx, req, StateProviderResolved)
		o.journal.SetProvider(ctx, req.ID, providerID)

		// A provider that looked at the actual platform object may know the
		// real label where the resolver only had a placeholder.
		if loc.Label != nil && label.Title == metadata.PlaceholderTitle {
			label = *loc.Label
			o.journal.SetLabel(ctx, req.ID, label)
		}

		if !announcedDownload {
			o.notify(ctx, req, EventDownloadStarted, "Downloading audio...")
			announcedDownload = true
		}

		telemetry.FetchesStarted.Inc()
		fetchStart := time.Now()
		payload, err := o.fetcher.Fetch(ctx, loc, providerID)
		if err != nil {
			telemetry.FetchesFailed.Inc()
			countFetchFailure(err)
			if ctx.Err() != nil {
				return o.fail(ctx, req, StageFetch, "request canceled")
			}
			// Never retry the provider whose locator just failed.
			skip[providerID] = true
			logger.Warn("fetch failed, falling back to next provider",
				slog.String("provider", providerID),
				slog.Any("err", err),
				slog.Int("attempt", attempt+1))
			continue
		}
		fetchDur := time.Since(fetchStart)
		telemetry.FetchesSucceeded.Inc()
		telemetry.FetchDuration.Observe(fetchDur.Seconds())
		o.journal.UpdateMovingAvg(ctx, "avg_fetch_ms", float64(fetchDur.Milliseconds()))
		o.journal.SetPayload(ctx, req.ID, payload.Size)
		logger.Info("fetch complete",
			slog.String("provider", providerID),
			slog.Int64("size_bytes", payload.Size),
			slog.Duration("fetch_duration", fetchDur))

		// Fetched → Delivered: exactly one delivery per successful fetch.
		// Delivery failures are terminal, not retried (deliberate policy).
		deliverStart := time.Now()
		res := relay.Deliver(ctx, o.sink, payload, label)
		deliverDur := time.Since(deliverStart)
		telemetry.DeliverDuration.Observe(deliverDur.Seconds())
		o.journal.UpdateMovingAvg(ctx, "avg_deliver_ms", float64(deliverDur.Milliseconds()))
		if !res.Delivered {
			telemetry.DeliveriesFailed.Inc()
			return o.fail(ctx, req, StageDelivery, res.FailureReason)
		}
		telemetry.DeliveriesSucceeded.Inc()
		o.setState(ctx, req, StateDelivered)
		o.notify(ctx, req, EventDelivered, fmt.Sprintf("Delivered: %s - %s", label.Performer, label.Title))
		return Result{Delivered: true, State: StateDelivered}
	}

	return o.fail(ctx, req, StageFetch, "every available source failed while downloading")
}

// fail records the terminal failure and emits exactly one user-visible notice
// naming only the failing stage category.
func (o *Orchestrator) fail(ctx context.Context, req Request, stage, reason string) Result {
	o.journal.Fail(ctx, req.ID, stage, reason)
	o.notify(ctx, req, EventFailed, userFacingFailure(stage))
	return Result{Delivered: false, State: StateFailed, FailureStage: stage, FailureReason: reason}
}

func (o *Orchestrator) setState(ctx context.Context, req Request, s State) {
	o.journal.SetState(ctx, req.ID, s)
}

// notify emits an advisory progress notice. Notice failures are logged and
// never abort the pipeline.
func (o *Orchestrator) notify(ctx context.Context, req Request, event Event, message string) {
	if err := o.notifier.Notify(ctx, req, event, message); err != nil {
		slog.Debug("progress notice failed", slog.String("request_id", req.ID), slog.String("event", string(event)), slog.Any("err", err))
	}
}

// userFacingFailure maps a failure stage to the single human-readable notice,
// leaking neither provider identities nor raw transport errors.
func userFacingFailure(stage string) string {
	switch stage {
	case StageResolution:
		return "Sorry, couldn't find an audio source for that link."
	case StageFetch:
		return "Sorry, the download failed from every available source."
	case StageDelivery:
		return "Downloaded the audio but couldn't deliver it."
	default:
		return "Sorry, something went wrong with that link."
	}
}

func countFetchFailure(err error) {
	var oe *fetch.OversizeError
	var se *fetch.SuboptimalSizeError
	switch {
	case errors.As(err, &oe):
		telemetry.FetchesOversize.Inc()
	case errors.As(err, &se):
		telemetry.FetchesUndersize.Inc()
	}
}
