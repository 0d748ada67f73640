package importer

// scheduler.go polls the incoming directories of all imports.
//
// The scheduler is long-running and context-aware for graceful shutdown.
// Failures of individual runs are logged and never stop the loop; a job
// that is still busy from a manual trigger is skipped until the next tick.

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultScanInterval is used when the scheduler is created with a zero interval.
const DefaultScanInterval = time.Minute

// Scheduler runs RunJob for every import with an incoming directory.
type Scheduler struct {
	runner   *Runner
	interval time.Duration
}

// NewScheduler creates a scheduler that scans every interval.
func NewScheduler(runner *Runner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	return &Scheduler{runner: runner, interval: interval}
}

// Start scans immediately, then every interval until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("import scheduler started", "interval", s.interval, "imports", len(s.runner.Jobs()))

	s.ScanOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("import scheduler stopped")
			return
		case <-ticker.C:
			s.ScanOnce(ctx)
		}
	}
}

// ScanOnce performs one pass over all imports and returns the number of
// files processed.
func (s *Scheduler) ScanOnce(ctx context.Context) int {
	start := time.Now()
	processed := 0

	for _, job := range s.runner.Jobs() {
		if ctx.Err() != nil {
			break
		}
		if job.IncomingDirectory == "" {
			continue
		}

		results, err := s.runner.RunJob(ctx, job.Name)
		processed += len(results)

		switch {
		case errors.Is(err, ErrJobBusy):
			slog.Debug("import busy, skipping scan", "import", job.Name)
		case errors.Is(err, context.Canceled):
			return processed
		case err != nil:
			slog.Error("import scan failed", "import", job.Name, "error", err)
		}
	}

	if processed > 0 {
		slog.Info("import scan completed",
			"files", processed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return processed
}
