package fetch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StartSpoolSweeper runs a background job that periodically removes stale
// ".part" spool files from dataDir. Live spools are always younger than maxAge;
// anything older is an orphan from a crash and is safe to delete.
func StartSpoolSweeper(ctx context.Context, dataDir string, maxAge, interval time.Duration) {
	if maxAge <= 0 || interval <= 0 {
		slog.Info("spool sweeper disabled")
		return
	}
	slog.Info("spool sweeper starting", slog.String("dir", dataDir), slog.Duration("max_age", maxAge), slog.Duration("interval", interval))

	SweepStaleSpools(dataDir, maxAge)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("spool sweeper stopped")
			return
		case <-ticker.C:
			SweepStaleSpools(dataDir, maxAge)
		}
	}
}

// SweepStaleSpools removes spool files older than maxAge from dataDir.
func SweepStaleSpools(dataDir string, maxAge time.Duration) {
	now := time.Now()
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("failed to read data dir for spool sweep", slog.String("dir", dataDir), slog.Any("err", err))
		}
		return
	}

	var removed, failed int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".part") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(fi.ModTime()) > maxAge {
			path := filepath.Join(dataDir, name)
			if err := os.Remove(path); err == nil {
				removed++
				slog.Debug("removed stale spool file", slog.String("path", path), slog.Duration("age", now.Sub(fi.ModTime())))
			} else {
				failed++
				slog.Warn("failed to remove stale spool file", slog.String("path", path), slog.Any("err", err))
			}
		}
	}

	if removed > 0 || failed > 0 {
		slog.Info("spool sweep completed", slog.Int("removed", removed), slog.Int("failed", failed))
	}
}
