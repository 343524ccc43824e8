// Package jobs contains the background jobs Ranking Hub schedules:
// snapshot retention and cache warming.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/gamifyhub/ranking-hub/pkg/logger"
)

// SnapshotPruner removes ranking snapshots older than a retention
// window. The newest snapshot per leaderboard always survives so
// position trends never lose their baseline.
type SnapshotPruner interface {
	PruneSnapshots(ctx context.Context, olderThan time.Duration) (int, error)
}

// PruneSnapshotsJob deletes expired ranking snapshots.
type PruneSnapshotsJob struct {
	pruner    SnapshotPruner
	retention time.Duration
	logger    *logger.Logger
}

// NewPruneSnapshotsJob creates the snapshot retention job.
func NewPruneSnapshotsJob(pruner SnapshotPruner, retention time.Duration, log *logger.Logger) *PruneSnapshotsJob {
	if log == nil {
		log = logger.Default()
	}
	return &PruneSnapshotsJob{
		pruner:    pruner,
		retention: retention,
		logger:    log.With(logger.Component("prune_snapshots_job")),
	}
}

// Name returns the unique name of the job.
func (j *PruneSnapshotsJob) Name() string { return "prune_snapshots" }

// Run deletes snapshots older than the retention window.
func (j *PruneSnapshotsJob) Run(ctx context.Context) error {
	removed, err := j.pruner.PruneSnapshots(ctx, j.retention)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}

	if removed > 0 {
		j.logger.Info("pruned old snapshots",
			logger.Int("removed", removed),
			logger.Duration("retention", j.retention))
	}
	return nil
}
