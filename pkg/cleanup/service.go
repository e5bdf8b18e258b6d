// Package cleanup provides a background retention service that reclaims
// on-disk storage for runs that have finished and aged past a configured
// window.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/kestrelflow/engine/pkg/models"
)

// RunLister lists runs by status, satisfied by engine.RunStore.
type RunLister interface {
	ListByStatus(ctx context.Context, statuses ...models.RunStatus) ([]*models.Run, error)
}

// RunPruner deletes everything a store holds for a single run id. Runs,
// intakes, and checkpoints each implement this independently; the blob
// store deliberately does not, since blobs are content-addressed and may be
// shared across runs -- pruning them per-run without reference counting
// could delete a blob another run still needs.
type RunPruner interface {
	PruneRun(ctx context.Context, runID string) error
}

// Config controls how aggressively Service reclaims storage.
type Config struct {
	RunRetentionDays int
	CleanupInterval  time.Duration
}

// Service periodically prunes terminal runs (completed, failed, aborted)
// older than config.RunRetentionDays from every registered RunPruner.
// All operations are idempotent and safe to run from multiple processes
// against the same data directory.
type Service struct {
	config  Config
	lister  RunLister
	pruners []RunPruner

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service that prunes runID-scoped storage from
// every pruner in pruners (typically the run store, intake store, and
// checkpoint backend) once a run has been terminal for config.RunRetentionDays.
func NewService(cfg Config, lister RunLister, pruners ...RunPruner) *Service {
	return &Service{config: cfg, lister: lister, pruners: pruners}
}

// Start launches the background cleanup loop. Calling Start twice without an
// intervening Stop is a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started",
		"run_retention_days", s.config.RunRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// RunOnce performs a single pruning pass, exported so kestrelctl can trigger
// an on-demand cleanup without waiting for the ticker.
func (s *Service) RunOnce(ctx context.Context) int {
	return s.runOnce(ctx)
}

func (s *Service) runOnce(ctx context.Context) int {
	runs, err := s.lister.ListByStatus(ctx,
		models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusAborted)
	if err != nil {
		slog.Error("cleanup: list terminal runs failed", "error", err)
		return 0
	}

	cutoff := time.Now().AddDate(0, 0, -s.config.RunRetentionDays)
	pruned := 0
	for _, run := range runs {
		if run.UpdatedAt.After(cutoff) {
			continue
		}
		if s.pruneRun(ctx, run.RunID) {
			pruned++
		}
	}
	if pruned > 0 {
		slog.Info("cleanup: pruned terminal runs", "count", pruned)
	}
	return pruned
}

func (s *Service) pruneRun(ctx context.Context, runID string) bool {
	ok := true
	for _, p := range s.pruners {
		if err := p.PruneRun(ctx, runID); err != nil {
			slog.Error("cleanup: prune run failed", "run_id", runID, "error", err)
			ok = false
		}
	}
	return ok
}
