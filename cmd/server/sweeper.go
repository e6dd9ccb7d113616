package main

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"vodworks/internal/config"
	"vodworks/internal/objectstore"
	"vodworks/internal/observability/metrics"
)

// sweeper runs the periodic maintenance nobody else owns: aborting stale
// multipart sessions and clearing abandoned staged uploads from the local
// temp directory.
type sweeper struct {
	cron *cron.Cron
}

func startSweeper(ctx context.Context, store *objectstore.Client, cfg config.Config, recorder *metrics.Recorder, logger *slog.Logger) *sweeper {
	interval := cfg.Uploads.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	maxAge := cfg.Uploads.SweepMaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}

	c := cron.New()
	_, err := c.AddFunc("@every "+interval.String(), func() {
		runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		aborted, err := store.ReapStaleMultipartUploads(runCtx, maxAge)
		if err != nil {
			logger.Warn("stale multipart sweep failed", "error", err)
		} else if aborted > 0 {
			logger.Info("aborted stale multipart uploads", "count", aborted)
		}

		removed := sweepTempDir(cfg.Transcode.TempDir, maxAge, logger)
		if removed > 0 {
			recorder.AddDeletedObjects(removed)
			logger.Info("removed stale staged uploads", "count", removed)
		}
	})
	if err != nil {
		logger.Error("sweep schedule invalid", "interval", interval.String(), "error", err)
		return &sweeper{cron: c}
	}
	c.Start()
	return &sweeper{cron: c}
}

func (s *sweeper) Stop() {
	if s == nil || s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// sweepTempDir removes regular files under dir whose modification time is
// older than maxAge. Subdirectory structure stays in place.
func sweepTempDir(dir string, maxAge time.Duration, logger *slog.Logger) int {
	if dir == "" {
		return 0
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if rmErr := os.Remove(path); rmErr != nil {
			logger.Warn("stale upload removal failed", "path", path, "error", rmErr)
			return nil
		}
		removed++
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		logger.Warn("temp dir sweep incomplete", "dir", dir, "error", err)
	}
	return removed
}
