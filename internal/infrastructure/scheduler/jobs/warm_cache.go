package jobs

import (
	"context"
	"fmt"

	"github.com/gamifyhub/ranking-hub/internal/domain/ranking"
	"github.com/gamifyhub/ranking-hub/pkg/logger"
)

// RankingWarmer is the slice of the dashboard orchestrator the cache
// warming job needs.
type RankingWarmer interface {
	GetLeaderboards(ctx context.Context, forceRefresh bool) ([]ranking.Leaderboard, error)
	GetProcessedRankingData(ctx context.Context, leaderboardID string, forceRefresh bool) (*ranking.ProcessedRankingData, error)
}

// WarmCacheJob refreshes the leaderboard list and the processed ranking
// of every active leaderboard before their cache entries expire, so
// dashboard requests land on a warm cache instead of paying the
// upstream round trip.
type WarmCacheJob struct {
	warmer RankingWarmer
	logger *logger.Logger
}

// NewWarmCacheJob creates the cache warming job.
func NewWarmCacheJob(warmer RankingWarmer, log *logger.Logger) *WarmCacheJob {
	if log == nil {
		log = logger.Default()
	}
	return &WarmCacheJob{
		warmer: warmer,
		logger: log.With(logger.Component("warm_cache_job")),
	}
}

// Name returns the unique name of the job.
func (j *WarmCacheJob) Name() string { return "warm_cache" }

// Run refreshes the caches for all active leaderboards. Inactive
// leaderboards are skipped: nobody's dashboard shows them.
func (j *WarmCacheJob) Run(ctx context.Context) error {
	boards, err := j.warmer.GetLeaderboards(ctx, true)
	if err != nil {
		return fmt.Errorf("refresh leaderboards: %w", err)
	}

	warmed := 0
	for _, board := range boards {
		if !board.Active {
			continue
		}
		if _, err := j.warmer.GetProcessedRankingData(ctx, board.ID, true); err != nil {
			// Keep warming the rest; a single dead leaderboard must not
			// starve the others.
			j.logger.Warn("failed to warm leaderboard",
				logger.String("leaderboard_id", board.ID),
				logger.Err(err))
			continue
		}
		warmed++
	}

	j.logger.Debug("cache warmed",
		logger.Int("leaderboards", len(boards)),
		logger.Int("warmed", warmed))
	return nil
}
