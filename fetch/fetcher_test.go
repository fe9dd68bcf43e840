package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/trackrelay/trackrelay/provider"
)

func countSpools(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("read dir: %v", err)
	}
	n := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".part" {
			n++
		}
	}
	return n
}

func newTestFetcher(t *testing.T, srv *httptest.Server, minBytes, maxBytes int64) (*Fetcher, string) {
	t.Helper()
	dir := t.TempDir()
	f := NewFetcher(Options{
		Client:        srv.Client(),
		DataDir:       dir,
		MinBytes:      minBytes,
		MaxBytes:      maxBytes,
		MaxConcurrent: 2,
	})
	return f, dir
}

func TestFetchSuccessWithinBounds(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 5000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f, dir := newTestFetcher(t, srv, 1000, 10000)
	p, err := f.Fetch(context.Background(), &provider.Locator{URL: srv.URL}, "direct")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	defer p.Release()

	if p.Size != int64(len(payload)) {
		t.Errorf("size = %d, want %d", p.Size, len(payload))
	}
	if p.SourceProviderID != "direct" {
		t.Errorf("provider = %q", p.SourceProviderID)
	}
	rc, err := p.Open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, payload) {
		t.Error("payload bytes mismatch")
	}

	p.Release()
	if n := countSpools(t, dir); n != 0 {
		t.Errorf("%d spool files left after release", n)
	}
}

func TestFetchOversizeAbortsMidStream(t *testing.T) {
	// Stream reaches maxBytes+1: the fetch must abort with OversizeError,
	// not truncate and deliver.
	const limit = 1_000_000
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		chunk := bytes.Repeat([]byte("x"), 64*1024)
		var sent int64
		for sent <= limit {
			n, err := w.Write(chunk)
			sent += int64(n)
			if err != nil {
				return
			}
			if fl, ok := w.(http.Flusher); ok {
				fl.Flush()
			}
		}
	}))
	defer srv.Close()

	f, dir := newTestFetcher(t, srv, 10, limit)
	_, err := f.Fetch(context.Background(), &provider.Locator{URL: srv.URL}, "direct")
	var oe *OversizeError
	if !errors.As(err, &oe) {
		t.Fatalf("err = %v, want OversizeError", err)
	}
	if oe.Limit != limit {
		t.Errorf("limit = %d, want %d", oe.Limit, limit)
	}
	if n := countSpools(t, dir); n != 0 {
		t.Errorf("%d spool files left after oversize abort", n)
	}
}

func TestFetchDeclaredOversizeRejectedUpfront(t *testing.T) {
	var bodyRequested bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bodyRequested = true
		w.Header().Set("Content-Length", "2000000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(bytes.Repeat([]byte("x"), 2000000))
	}))
	defer srv.Close()

	f, dir := newTestFetcher(t, srv, 10, 1_000_000)
	_, err := f.Fetch(context.Background(), &provider.Locator{URL: srv.URL}, "direct")
	var oe *OversizeError
	if !errors.As(err, &oe) {
		t.Fatalf("err = %v, want OversizeError", err)
	}
	_ = bodyRequested // the request is made; the body must not be spooled
	if n := countSpools(t, dir); n != 0 {
		t.Errorf("%d spool files left", n)
	}
}

func TestFetchUndersizeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 500))
	}))
	defer srv.Close()

	f, dir := newTestFetcher(t, srv, 10_000, 1_000_000)
	_, err := f.Fetch(context.Background(), &provider.Locator{URL: srv.URL}, "direct")
	var se *SuboptimalSizeError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want SuboptimalSizeError", err)
	}
	if se.Size != 500 || se.Floor != 10_000 {
		t.Errorf("error = %+v", se)
	}
	if n := countSpools(t, dir); n != 0 {
		t.Errorf("%d spool files left after undersize reject", n)
	}
}

func TestFetchTransportErrorOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f, dir := newTestFetcher(t, srv, 10, 1000)
	_, err := f.Fetch(context.Background(), &provider.Locator{URL: srv.URL}, "direct")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	if n := countSpools(t, dir); n != 0 {
		t.Errorf("%d spool files left after transport error", n)
	}
}

func TestFetchCancellationCleansUp(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 1024))
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	f, dir := newTestFetcher(t, srv, 10, 1_000_000)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, &provider.Locator{URL: srv.URL}, "direct")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransportError on cancellation", err)
	}
	if n := countSpools(t, dir); n != 0 {
		t.Errorf("%d spool files left after cancellation", n)
	}
}

func TestFetchSlotCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	f := NewFetcher(Options{Client: srv.Client(), DataDir: t.TempDir(), MinBytes: 1, MaxBytes: 100, MaxConcurrent: 2})
	if f.MaxConcurrent() != 2 {
		t.Fatalf("cap = %d, want 2", f.MaxConcurrent())
	}

	// Fill both slots manually, then a fetch must block until ctx expires.
	if err := f.acquireSlot(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.acquireSlot(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.ActiveFetches() != 2 {
		t.Fatalf("active = %d, want 2", f.ActiveFetches())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := f.Fetch(ctx, &provider.Locator{URL: srv.URL}, "direct"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded while slots full", err)
	}

	f.releaseSlot()
	if f.ActiveFetches() != 1 {
		t.Fatalf("active = %d after release, want 1", f.ActiveFetches())
	}
	f.releaseSlot()
}
