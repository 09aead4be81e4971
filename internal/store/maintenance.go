package store

import (
	"context"
	"log/slog"
	"time"
)

// StartIndexMaintenance runs EnsureIndexes on a fixed interval until the
// context is cancelled. The routine refreshes planner statistics and
// re-clusters storage so spatial queries stay fast as collections grow.
// Blocks; run it in a goroutine.
func (s *Store) StartIndexMaintenance(ctx context.Context, interval time.Duration) {
	slog.Info("index maintenance scheduler started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("index maintenance scheduler stopped")
			return
		case <-ticker.C:
			start := time.Now()
			if err := s.EnsureIndexes(ctx); err != nil {
				slog.Error("index maintenance failed", "error", err)
				continue
			}
			slog.Info("index maintenance completed", "duration_ms", time.Since(start).Milliseconds())
		}
	}
}
