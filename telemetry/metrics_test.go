package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init() // second call must not re-register (promauto panics on duplicates)
	if RequestsReceived == nil || FetchDuration == nil || InFlightFetches == nil {
		t.Fatal("metrics not initialized")
	}
}

func TestCountProviderAttempt(t *testing.T) {
	Init()
	// Must not panic with an initialized vec or distinct label sets.
	CountProviderAttempt("direct", "success")
	CountProviderAttempt("scrape", "not_found")
}

func TestTimeFunc(t *testing.T) {
	Init()
	d := TimeFunc(FetchDuration, func() { time.Sleep(10 * time.Millisecond) })
	if d < 10*time.Millisecond {
		t.Errorf("duration %v too short", d)
	}
	// nil observer is allowed
	if d := TimeFunc(nil, func() {}); d < 0 {
		t.Errorf("negative duration %v", d)
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("expected empty correlation, got %q", got)
	}
	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("correlation = %q, want abc-123", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Fatal("nil logger")
	}
}
