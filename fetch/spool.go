package fetch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

func openPayloadFile(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Spool is a scoped temporary resource backing one in-flight payload. Its
// lifetime is tied to a single request: Remove is safe to call on every exit
// path, any number of times, and is never conditional on which error occurred.
type Spool struct {
	mu        sync.Mutex
	f         *os.File
	path      string
	written   int64
	finalized bool
	removed   bool
}

// NewSpool creates a spool file in dir. The ".part" suffix lets the stale-spool
// sweeper recognize orphans left behind by crashes.
func NewSpool(dir string) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir spool dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("relay_%s.part", uuid.NewString()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create spool: %w", err)
	}
	return &Spool{f: f, path: path}, nil
}

// Write appends bytes to the spool.
func (s *Spool) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed || s.f == nil {
		return 0, fmt.Errorf("spool: write after close")
	}
	n, err := s.f.Write(p)
	s.written += int64(n)
	return n, err
}

// Size returns the bytes written so far.
func (s *Spool) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Finalize flushes and closes the spool and returns its path for reading.
func (s *Spool) Finalize() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return "", fmt.Errorf("spool: finalize after remove")
	}
	if s.finalized {
		return s.path, nil
	}
	if err := s.f.Sync(); err != nil {
		_ = s.f.Close()
		return "", fmt.Errorf("sync spool: %w", err)
	}
	if err := s.f.Close(); err != nil {
		return "", fmt.Errorf("close spool: %w", err)
	}
	s.finalized = true
	return s.path, nil
}

// Path returns the backing file path.
func (s *Spool) Path() string { return s.path }

// Remove closes and deletes the backing file. Idempotent; always safe in defer.
func (s *Spool) Remove() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return
	}
	if !s.finalized && s.f != nil {
		_ = s.f.Close()
	}
	_ = os.Remove(s.path)
	s.removed = true
}
