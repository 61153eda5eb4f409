package core

// scheduler.go runs background maintenance for abandoned uploads.
//
// Clients that stop sending chunks leave part files behind. The sweeper
// removes part files untouched for longer than staleAfter and fails their
// UPLOADING jobs so they do not linger in listings. A failed sweep is logged
// and retried on the next tick.

import (
	"context"
	"log/slog"
	"time"
)

// SweepConfig holds settings for the stale upload sweeper.
type SweepConfig struct {
	StaleAfter    time.Duration // Age after which a part file is abandoned (default: 24h)
	CheckInterval time.Duration // How often to sweep (default: 1h)
}

// Sweeper defaults.
const (
	DefaultStaleAfter    = 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

// StartStaleUploadSweeper sweeps immediately, then every CheckInterval, until
// ctx is cancelled. It blocks; run it in a goroutine.
func (s *Service) StartStaleUploadSweeper(ctx context.Context, cfg SweepConfig) {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultSweepInterval
	}
	slog.Info("stale upload sweeper started",
		"stale_after", cfg.StaleAfter,
		"interval", cfg.CheckInterval,
	)

	s.SweepStaleUploads(ctx, cfg.StaleAfter)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stale upload sweeper stopped")
			return
		case <-ticker.C:
			s.SweepStaleUploads(ctx, cfg.StaleAfter)
		}
	}
}

// SweepStaleUploads performs one sweep and returns the removed upload ids.
func (s *Service) SweepStaleUploads(ctx context.Context, staleAfter time.Duration) []string {
	start := s.now()
	removed, err := s.chunks.RemoveStale(start.Add(-staleAfter))
	if err != nil {
		slog.Error("stale upload sweep failed", "error", err)
		return nil
	}

	for _, uploadID := range removed {
		id, ok := s.forgetUpload(uploadID)
		if !ok {
			continue
		}
		job, err := s.store.GetJob(ctx, id)
		if err != nil {
			slog.Warn("stale upload job lookup failed", "upload_id", uploadID, "error", err)
			continue
		}
		if err := job.Transition(StatusFailed, s.now(), "upload abandoned before the final chunk"); err != nil {
			continue
		}
		if err := s.store.UpdateJob(ctx, job); err != nil {
			slog.Warn("failed to mark abandoned upload", "job_id", id, "error", err)
		}
	}

	if len(removed) > 0 {
		slog.Info("stale uploads removed",
			"count", len(removed),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return removed
}
