// Package fetch streams a locator's byte payload to a scoped temp file under a
// hard size ceiling and a minimum-size floor, rejecting mid-stream violations
// and guaranteeing the temp resource is released on every failure path.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/trackrelay/trackrelay/provider"
	"github.com/trackrelay/trackrelay/telemetry"
)

// OversizeError is a policy rejection: the stream crossed the ceiling
// mid-transfer and was aborted, never truncated and delivered.
type OversizeError struct {
	Limit int64
	Seen  int64
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("fetch: stream exceeded %d byte ceiling (saw %d)", e.Limit, e.Seen)
}

// SuboptimalSizeError flags a completed payload below the floor: evidence the
// provider returned an error page or silence rather than audio.
type SuboptimalSizeError struct {
	Floor int64
	Size  int64
}

func (e *SuboptimalSizeError) Error() string {
	return fmt.Sprintf("fetch: payload %d bytes below %d byte floor", e.Size, e.Floor)
}

// TransportError wraps connection resets, non-success statuses, and timeouts.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "fetch: transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// AudioPayload is the downloaded stream, spooled to disk, owned exclusively by
// the orchestrating request and deleted unconditionally after delivery.
type AudioPayload struct {
	Path             string
	Size             int64
	MimeType         string
	SourceProviderID string

	spool *Spool
}

// Open returns a reader over the spooled bytes. Callers must Close it.
func (p *AudioPayload) Open() (io.ReadCloser, error) {
	return openPayloadFile(p.Path)
}

// Release deletes the backing spool. Idempotent.
func (p *AudioPayload) Release() {
	if p.spool != nil {
		p.spool.Remove()
		return
	}
	if p.Path != "" {
		_ = os.Remove(p.Path)
	}
}

// Fetcher streams locators into bounded spools. A channel semaphore caps the
// number of concurrent in-flight fetches across all requests.
type Fetcher struct {
	client   *http.Client
	dataDir  string
	minBytes int64
	maxBytes int64
	slots    chan struct{}
}

// Options configures a Fetcher.
type Options struct {
	Client        *http.Client
	DataDir       string
	MinBytes      int64
	MaxBytes      int64
	MaxConcurrent int
	Timeout       time.Duration
}

// NewFetcher builds a bounded fetcher.
func NewFetcher(opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	dir := opts.DataDir
	if dir == "" {
		dir = "data"
	}
	return &Fetcher{
		client:   client,
		dataDir:  dir,
		minBytes: opts.MinBytes,
		maxBytes: opts.MaxBytes,
		slots:    make(chan struct{}, maxConcurrent),
	}
}

// acquireSlot blocks until a fetch slot is available or ctx is done.
func (f *Fetcher) acquireSlot(ctx context.Context) error {
	select {
	case f.slots <- struct{}{}:
		telemetry.Init()
		telemetry.InFlightFetches.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fetcher) releaseSlot() {
	select {
	case <-f.slots:
		telemetry.InFlightFetches.Dec()
	default:
		slog.Warn("fetch slot release without corresponding acquire")
	}
}

// ActiveFetches returns the current number of in-flight fetches.
func (f *Fetcher) ActiveFetches() int { return len(f.slots) }

// MaxConcurrent returns the configured fetch slot cap.
func (f *Fetcher) MaxConcurrent() int { return cap(f.slots) }

// Fetch downloads the locator into a scoped spool. On any error the spool is
// removed before returning; on success the caller owns the payload and must
// call Release exactly once when done with it.
func (f *Fetcher) Fetch(ctx context.Context, loc *provider.Locator, providerID string) (*AudioPayload, error) {
	if err := f.acquireSlot(ctx); err != nil {
		return nil, err
	}
	defer f.releaseSlot()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.URL, nil)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	// Reject declared-oversize bodies before spending any disk or bandwidth.
	if cl := resp.ContentLength; cl > 0 && cl > f.maxBytes {
		return nil, &OversizeError{Limit: f.maxBytes, Seen: cl}
	}

	spool, err := NewSpool(f.dataDir)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	// Cleanup is unconditional until ownership transfers to the payload.
	done := false
	defer func() {
		if !done {
			spool.Remove()
		}
	}()

	written, err := copyBounded(spool, resp.Body, f.maxBytes)
	if err != nil {
		if oe := new(OversizeError); errors.As(err, &oe) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, &TransportError{Err: ctx.Err()}
		}
		return nil, &TransportError{Err: err}
	}
	if written < f.minBytes {
		return nil, &SuboptimalSizeError{Floor: f.minBytes, Size: written}
	}

	path, err := spool.Finalize()
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	mimeType := loc.MimeType
	if mimeType == "" {
		mimeType = resp.Header.Get("Content-Type")
	}
	done = true
	return &AudioPayload{
		Path:             path,
		Size:             written,
		MimeType:         mimeType,
		SourceProviderID: providerID,
		spool:            spool,
	}, nil
}

// copyBounded streams src into dst, aborting the instant the running total
// exceeds limit. The payload is never accumulated in memory.
func copyBounded(dst io.Writer, src io.Reader, limit int64) (int64, error) {
	var written int64
	buf := make([]byte, 32*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if written+int64(n) > limit {
				return written, &OversizeError{Limit: limit, Seen: written + int64(n)}
			}
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
