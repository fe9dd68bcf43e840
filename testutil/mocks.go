// Package testutil provides shared test fixtures: a migrated Postgres handle
// gated on TEST_PG_DSN, and HTTP mocks for audio hosts and the delivery sink.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// MockAudioHost serves `size` bytes of fake audio at every path. It answers
// ranged probe requests with 206 so direct-URL resolution succeeds against it.
func MockAudioHost(t *testing.T, size int) *httptest.Server {
	t.Helper()
	body := strings.Repeat("x", size)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		if r.Header.Get("Range") == "bytes=0-0" {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-0/%d", size))
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write([]byte(body[:1]))
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// MockSink is a Telegram-shaped sendAudio endpoint that accepts every upload
// and counts them.
type MockSink struct {
	Server *httptest.Server
	sends  atomic.Int64
}

// NewMockSink starts a mock sink server. Use Server.URL as the sink base URL.
func NewMockSink(t *testing.T) *MockSink {
	t.Helper()
	m := &MockSink{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendAudio") {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(64 << 20); err != nil {
			http.Error(w, "bad multipart", http.StatusBadRequest)
			return
		}
		m.sends.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})
	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Server.Close)
	return m
}

// Sends returns the number of uploads accepted so far.
func (m *MockSink) Sends() int64 { return m.sends.Load() }
