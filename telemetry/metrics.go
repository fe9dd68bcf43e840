// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	RequestsReceived    prometheus.Counter
	ResolutionsFailed   prometheus.Counter
	FetchesStarted      prometheus.Counter
	FetchesFailed       prometheus.Counter
	FetchesSucceeded    prometheus.Counter
	FetchesOversize     prometheus.Counter
	FetchesUndersize    prometheus.Counter
	DeliveriesSucceeded prometheus.Counter
	DeliveriesFailed    prometheus.Counter

	// Per-provider outcome counters
	ProviderAttempts *prometheus.CounterVec

	// Histograms (seconds)
	FetchDuration   prometheus.Observer
	DeliverDuration prometheus.Observer
	TotalDuration   prometheus.Observer

	// Gauges
	InFlightFetches prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RequestsReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_requests_received_total", Help: "Number of relay requests accepted"})
		ResolutionsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_resolutions_failed_total", Help: "Number of requests where every provider was exhausted"})
		FetchesStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_fetches_started_total", Help: "Number of bounded fetches started"})
		FetchesFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_fetches_failed_total", Help: "Number of bounded fetches failed"})
		FetchesSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_fetches_succeeded_total", Help: "Number of bounded fetches succeeded"})
		FetchesOversize = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_fetches_oversize_total", Help: "Number of fetches aborted for exceeding the size ceiling"})
		FetchesUndersize = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_fetches_undersize_total", Help: "Number of fetches rejected for completing below the size floor"})
		DeliveriesSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_deliveries_succeeded_total", Help: "Number of payloads accepted by the sink"})
		DeliveriesFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_deliveries_failed_total", Help: "Number of payloads rejected by the sink"})
		ProviderAttempts = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_provider_attempts_total", Help: "Provider resolution attempts by provider and outcome"}, []string{"provider", "outcome"})
		FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relay_fetch_duration_seconds", Help: "Bounded fetch duration seconds", Buckets: prometheus.DefBuckets})
		DeliverDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relay_deliver_duration_seconds", Help: "Sink delivery duration seconds", Buckets: prometheus.DefBuckets})
		TotalDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relay_request_total_duration_seconds", Help: "End-to-end request duration seconds", Buckets: prometheus.DefBuckets})
		InFlightFetches = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_inflight_fetches", Help: "Current number of in-flight bounded fetches"})
	})
}

// CountProviderAttempt records one provider attempt outcome.
func CountProviderAttempt(provider, outcome string) {
	if ProviderAttempts != nil {
		ProviderAttempts.WithLabelValues(provider, outcome).Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
