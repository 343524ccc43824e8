// Package dashboard contains the ranking integration orchestrator: the
// application service that composes upstream leaderboard data, the
// processing pass, the ranking cache, and snapshot history into the
// views the dashboard renders.
//
// Every read follows the same shape: consult the cache unless the
// caller forces a refresh, fetch from the upstream with retries on a
// miss, process, write back to the cache. Cache and snapshot failures
// never fail a read; the upstream failing after all retries does, with
// the upstream's own error surfaced unmodified.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/gamifyhub/ranking-hub/internal/domain/ranking"
	"github.com/gamifyhub/ranking-hub/internal/metrics"
	"github.com/gamifyhub/ranking-hub/pkg/logger"
	"github.com/gamifyhub/ranking-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLLABORATOR INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardClient reads leaderboard data from the gamification
// backend. Implemented by the Funifier client.
type LeaderboardClient interface {
	GetLeaderboards(ctx context.Context) ([]ranking.Leaderboard, error)
	GetLeaderboardData(ctx context.Context, leaderboardID string, query ranking.LeaderboardQuery) ([]ranking.Leader, error)
	GetPersonalRanking(ctx context.Context, leaderboardID, playerID string) ([]ranking.Leader, error)
	GetGlobalRanking(ctx context.Context, leaderboardID string) ([]ranking.Leader, error)
}

// PlayerStatusClient reads the player-status enrichment. Kept separate
// from LeaderboardClient because the enrichment is best-effort and a
// deployment may disable it entirely.
type PlayerStatusClient interface {
	GetPlayerStatus(ctx context.Context, playerID string) (*ranking.PlayerStatus, error)
}

// SnapshotStore persists and recalls ranking snapshots for trend
// computation. Implemented by the Postgres snapshot repository.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, leaderboardID string, players []ranking.Player, takenAt time.Time) (string, error)
	LatestSnapshot(ctx context.Context, leaderboardID string) (map[string]ranking.HistoricalRecord, error)
}

// RankingCache is the semantic cache consumed by the orchestrator.
// Implemented by the tiered ranking cache.
type RankingCache interface {
	CacheLeaderboards(ctx context.Context, boards []ranking.Leaderboard) bool
	GetCachedLeaderboards(ctx context.Context) ([]ranking.Leaderboard, bool)
	CacheLeaderboardData(ctx context.Context, leaderboardID string, query any, leaders []ranking.Leader) bool
	GetCachedLeaderboardData(ctx context.Context, leaderboardID string, query any) ([]ranking.Leader, bool)
	CacheProcessedData(ctx context.Context, leaderboardID string, data *ranking.ProcessedRankingData) bool
	GetCachedProcessedData(ctx context.Context, leaderboardID string) (*ranking.ProcessedRankingData, bool)
	CachePersonalRanking(ctx context.Context, leaderboardID, playerID string, personal *ranking.PersonalRanking) bool
	GetCachedPersonalRanking(ctx context.Context, leaderboardID, playerID string) (*ranking.PersonalRanking, bool)
	CacheGlobalRanking(ctx context.Context, leaderboardID string, global *ranking.GlobalRanking) bool
	GetCachedGlobalRanking(ctx context.Context, leaderboardID string) (*ranking.GlobalRanking, bool)
	InvalidateLeaderboard(ctx context.Context, leaderboardID string) int
	InvalidatePlayerRanking(ctx context.Context, leaderboardID, playerID string) int
	Clear(ctx context.Context) int
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config tunes the orchestrator.
type Config struct {
	// MaxRetries is the total number of upstream attempts per read,
	// including the first one.
	MaxRetries int

	// RetryBaseDelay is the delay before the first retry; subsequent
	// retries double it.
	RetryBaseDelay time.Duration

	// TopPlayersCount is the number of top performers on the personal view.
	TopPlayersCount int

	// ContextSize is the number of players shown on each side of the
	// requesting player in the contextual window.
	ContextSize int

	// RaceSize is the number of lanes in the race visualization.
	RaceSize int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		RetryBaseDelay:  500 * time.Millisecond,
		TopPlayersCount: 3,
		ContextSize:     2,
		RaceSize:        ranking.DefaultRaceSize,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// Service is the ranking integration orchestrator.
type Service struct {
	client    LeaderboardClient
	status    PlayerStatusClient
	snapshots SnapshotStore
	cache     RankingCache
	metrics   *metrics.Service
	log       *logger.Logger
	cfg       Config
	now       func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithCache enables the semantic ranking cache.
func WithCache(c RankingCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithSnapshots enables snapshot persistence and trend history.
func WithSnapshots(store SnapshotStore) Option {
	return func(s *Service) { s.snapshots = store }
}

// WithPlayerStatus enables best-effort level enrichment.
func WithPlayerStatus(c PlayerStatusClient) Option {
	return func(s *Service) { s.status = c }
}

// WithMetrics sets the metrics service.
func WithMetrics(m *metrics.Service) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithConfig overrides the default configuration.
func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the orchestrator. Only the upstream client is
// mandatory; cache, snapshots and player status are optional and their
// absence disables the corresponding behavior.
func NewService(client LeaderboardClient, opts ...Option) *Service {
	s := &Service{
		client: client,
		cfg:    DefaultConfig(),
		log:    logger.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("dashboard_orchestrator"))
	if s.metrics == nil {
		// A throwaway registry so the nil case stays safe to call.
		s.metrics = metrics.NewService(prometheus.NewRegistry())
	}
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// UPSTREAM FETCH
// ══════════════════════════════════════════════════════════════════════════════

// retryOpts builds the retry policy for one upstream operation. Every
// rejection is retried the same way; classification happens nowhere in
// this path, and after the last attempt the upstream's original error
// comes back unmodified.
func (s *Service) retryOpts(operation string) []retry.Option {
	return []retry.Option{
		retry.WithMaxAttempts(s.cfg.MaxRetries),
		retry.WithInitialDelay(s.cfg.RetryBaseDelay),
		retry.WithMultiplier(2.0),
		retry.WithJitter(0),
		retry.WithRetryIf(func(error) bool { return true }),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			s.metrics.UpstreamRetries.WithLabelValues(operation).Inc()
			s.log.Warn("retrying upstream fetch",
				logger.Operation(operation),
				logger.Int("attempt", attempt),
				logger.Duration("next_delay", delay),
				logger.Err(err))
		}),
	}
}

// fetch runs one upstream read through the retry policy and records the
// outcome.
func fetch[T any](ctx context.Context, s *Service, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := retry.DoWithData(ctx, fn, s.retryOpts(operation)...)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	s.metrics.UpstreamRequests.WithLabelValues(operation, outcome).Inc()
	return result, err
}

func (s *Service) observe(operation string, start time.Time) {
	s.metrics.RequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (s *Service) cacheHit(category string) {
	s.metrics.CacheHits.WithLabelValues(category).Inc()
}

func (s *Service) cacheMiss(category string) {
	s.metrics.CacheMisses.WithLabelValues(category).Inc()
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD READS
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboards returns all leaderboard definitions, cache-first.
func (s *Service) GetLeaderboards(ctx context.Context, forceRefresh bool) ([]ranking.Leaderboard, error) {
	defer s.observe("get_leaderboards", s.now())

	if s.cache != nil && !forceRefresh {
		if boards, ok := s.cache.GetCachedLeaderboards(ctx); ok {
			s.cacheHit("leaderboards")
			return boards, nil
		}
		s.cacheMiss("leaderboards")
	}

	boards, err := fetch(ctx, s, "get_leaderboards", s.client.GetLeaderboards)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.CacheLeaderboards(ctx, boards)
	}
	return boards, nil
}

// GetLeaderboardData returns the raw participant rows of one
// leaderboard for one query, cache-first.
func (s *Service) GetLeaderboardData(ctx context.Context, leaderboardID string, query ranking.LeaderboardQuery, forceRefresh bool) ([]ranking.Leader, error) {
	defer s.observe("get_leaderboard_data", s.now())

	if s.cache != nil && !forceRefresh {
		if leaders, ok := s.cache.GetCachedLeaderboardData(ctx, leaderboardID, query); ok {
			s.cacheHit("leaderboard")
			return leaders, nil
		}
		s.cacheMiss("leaderboard")
	}

	leaders, err := fetch(ctx, s, "get_leaderboard_data", func(ctx context.Context) ([]ranking.Leader, error) {
		return s.client.GetLeaderboardData(ctx, leaderboardID, query)
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.CacheLeaderboardData(ctx, leaderboardID, query, leaders)
	}
	return leaders, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROCESSED READS
// ══════════════════════════════════════════════════════════════════════════════

// GetProcessedRankingData returns the visualization-ready aggregate for
// one leaderboard: raw rows run through the full processing pass with
// the latest snapshot as trend history. A fresh snapshot is persisted
// after each pass; snapshot failures are logged and never fail the read.
func (s *Service) GetProcessedRankingData(ctx context.Context, leaderboardID string, forceRefresh bool) (*ranking.ProcessedRankingData, error) {
	defer s.observe("get_processed_data", s.now())

	if s.cache != nil && !forceRefresh {
		if data, ok := s.cache.GetCachedProcessedData(ctx, leaderboardID); ok {
			s.cacheHit("processed")
			return data, nil
		}
		s.cacheMiss("processed")
	}

	leaders, err := s.GetLeaderboardData(ctx, leaderboardID, ranking.LeaderboardQuery{}, forceRefresh)
	if err != nil {
		return nil, err
	}

	data := ranking.ProcessLeaderboardData(leaders, s.loadHistory(ctx, leaderboardID), s.now())
	s.persistSnapshot(ctx, leaderboardID, data.Players)

	if s.cache != nil {
		s.cache.CacheProcessedData(ctx, leaderboardID, data)
	}
	return data, nil
}

// loadHistory reads the latest snapshot, best-effort. A failed read
// degrades every player to the "new" trend instead of failing the pass.
func (s *Service) loadHistory(ctx context.Context, leaderboardID string) map[string]ranking.HistoricalRecord {
	if s.snapshots == nil {
		return nil
	}
	history, err := s.snapshots.LatestSnapshot(ctx, leaderboardID)
	if err != nil {
		s.log.Warn("snapshot history unavailable, trends degrade to new",
			logger.LeaderboardID(leaderboardID),
			logger.Err(err))
		return nil
	}
	return history
}

// persistSnapshot writes the processed pass as a new snapshot,
// best-effort.
func (s *Service) persistSnapshot(ctx context.Context, leaderboardID string, players []ranking.Player) {
	if s.snapshots == nil || len(players) == 0 {
		return
	}
	id, err := s.snapshots.SaveSnapshot(ctx, leaderboardID, players, s.now())
	if err != nil {
		s.log.Warn("snapshot save failed",
			logger.LeaderboardID(leaderboardID),
			logger.Err(err))
		return
	}
	s.metrics.SnapshotsSaved.Inc()
	s.log.Debug("snapshot saved",
		logger.LeaderboardID(leaderboardID),
		logger.SnapshotID(id))
}

// ══════════════════════════════════════════════════════════════════════════════
// PERSONAL AND GLOBAL VIEWS
// ══════════════════════════════════════════════════════════════════════════════

// GetPersonalRanking returns the player-centric view: the player's own
// processed record, the top performers, the contextual window around
// the player, and best-effort level enrichment.
//
// The view is normally assembled from the full processed pass. When the
// player is absent from the full data (the upstream caps aggregate
// rows), the neighbors endpoint locates them instead.
func (s *Service) GetPersonalRanking(ctx context.Context, leaderboardID, playerID string, forceRefresh bool) (*ranking.PersonalRanking, error) {
	defer s.observe("get_personal_ranking", s.now())

	if s.cache != nil && !forceRefresh {
		if personal, ok := s.cache.GetCachedPersonalRanking(ctx, leaderboardID, playerID); ok {
			s.cacheHit("personal")
			return personal, nil
		}
		s.cacheMiss("personal")
	}

	data, err := s.GetProcessedRankingData(ctx, leaderboardID, forceRefresh)
	if err != nil {
		return nil, err
	}

	personal := &ranking.PersonalRanking{
		LeaderboardID:     leaderboardID,
		TopPlayers:        topPlayers(data.Players, s.cfg.TopPlayersCount),
		TotalParticipants: data.TotalParticipants,
		LastUpdated:       s.now(),
	}

	window, err := ranking.GetContextualRanking(data.Players, playerID, s.cfg.ContextSize)
	switch {
	case err == nil:
		personal.ContextPlayers = window
		for _, p := range window {
			if p.PlayerID == playerID {
				personal.Player = p
				break
			}
		}
	case errors.Is(err, ranking.ErrPlayerNotFound):
		if err := s.fillFromNeighbors(ctx, personal, leaderboardID, playerID); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	personal.Level = s.loadLevel(ctx, playerID)

	if s.cache != nil {
		s.cache.CachePersonalRanking(ctx, leaderboardID, playerID, personal)
	}
	return personal, nil
}

// fillFromNeighbors populates the player card and contextual window
// from the upstream neighbors endpoint. Used when the full aggregate
// does not include the player.
func (s *Service) fillFromNeighbors(ctx context.Context, personal *ranking.PersonalRanking, leaderboardID, playerID string) error {
	neighbors, err := fetch(ctx, s, "get_personal_ranking", func(ctx context.Context) ([]ranking.Leader, error) {
		return s.client.GetPersonalRanking(ctx, leaderboardID, playerID)
	})
	if err != nil {
		return err
	}

	now := s.now()
	window := make([]ranking.Player, len(neighbors))
	found := false
	for i, l := range neighbors {
		window[i] = ranking.Player{
			PlayerID:       l.PlayerID,
			PlayerName:     l.PlayerName,
			Points:         l.Points,
			Position:       l.Position,
			PositionChange: ranking.ChangeNew,
			Avatar:         l.Avatar,
			Team:           l.Team,
			LastUpdated:    now,
		}
		if l.PlayerID == playerID {
			personal.Player = window[i]
			found = true
		}
	}
	if !found {
		return ranking.ErrPlayerNotFound
	}

	personal.ContextPlayers = window
	return nil
}

// loadLevel fetches the level enrichment, best-effort. Any failure
// yields nil and the view ships without a level block.
func (s *Service) loadLevel(ctx context.Context, playerID string) *ranking.LevelProgress {
	if s.status == nil {
		return nil
	}
	status, err := s.status.GetPlayerStatus(ctx, playerID)
	if err != nil {
		s.log.Debug("player status enrichment failed",
			logger.PlayerID(playerID),
			logger.Err(err))
		return nil
	}
	return &ranking.LevelProgress{
		Level:             status.Level,
		PercentCompleted:  status.PercentCompleted,
		PointsToNextLevel: status.PointsToNextLevel,
	}
}

// GetGlobalRanking returns the full public ranking of one leaderboard,
// processed and cache-first.
func (s *Service) GetGlobalRanking(ctx context.Context, leaderboardID string, forceRefresh bool) (*ranking.GlobalRanking, error) {
	defer s.observe("get_global_ranking", s.now())

	if s.cache != nil && !forceRefresh {
		if global, ok := s.cache.GetCachedGlobalRanking(ctx, leaderboardID); ok {
			s.cacheHit("global")
			return global, nil
		}
		s.cacheMiss("global")
	}

	leaders, err := fetch(ctx, s, "get_global_ranking", func(ctx context.Context) ([]ranking.Leader, error) {
		return s.client.GetGlobalRanking(ctx, leaderboardID)
	})
	if err != nil {
		return nil, err
	}

	data := ranking.ProcessLeaderboardData(leaders, s.loadHistory(ctx, leaderboardID), s.now())
	global := &ranking.GlobalRanking{
		LeaderboardID:     leaderboardID,
		Players:           data.Players,
		TotalParticipants: data.TotalParticipants,
		LastUpdated:       data.LastUpdated,
	}

	if s.cache != nil {
		s.cache.CacheGlobalRanking(ctx, leaderboardID, global)
	}
	return global, nil
}

// topPlayers returns the first n processed players.
func topPlayers(players []ranking.Player, n int) []ranking.Player {
	if n > len(players) {
		n = len(players)
	}
	top := make([]ranking.Player, n)
	copy(top, players[:n])
	return top
}

// ══════════════════════════════════════════════════════════════════════════════
// DASHBOARD COMPOSITION
// ══════════════════════════════════════════════════════════════════════════════

// DashboardRequest selects what the dashboard composition builds.
type DashboardRequest struct {
	// LeaderboardID pins the active leaderboard. Empty resolves it from
	// the leaderboard list.
	LeaderboardID string

	// PlayerID enables the personal section. Empty skips it.
	PlayerID string

	// ForceRefresh bypasses every cache layer.
	ForceRefresh bool
}

// DashboardData is the complete dashboard payload.
type DashboardData struct {
	Leaderboards      []ranking.Leaderboard         `json:"leaderboards"`
	ActiveLeaderboard *ranking.Leaderboard          `json:"active_leaderboard,omitempty"`
	Personal          *ranking.PersonalRanking      `json:"personal,omitempty"`
	Global            *ranking.GlobalRanking        `json:"global,omitempty"`
	Processed         *ranking.ProcessedRankingData `json:"processed,omitempty"`
	Race              []ranking.RaceParticipant     `json:"race,omitempty"`
	IsLoading         bool                          `json:"is_loading"`
	Error             string                        `json:"error,omitempty"`
	LastUpdated       time.Time                     `json:"last_updated"`
}

// GetDashboardData builds the complete dashboard in one call: the
// leaderboard list, the active leaderboard's processed and global
// views, the race visualization, and (when a player is given) the
// personal view. The sections are fetched concurrently and the
// composition is all-or-nothing: any section failing discards its
// siblings and returns a payload carrying only the error.
func (s *Service) GetDashboardData(ctx context.Context, req DashboardRequest) (*DashboardData, error) {
	defer s.observe("get_dashboard", s.now())

	boards, err := s.GetLeaderboards(ctx, req.ForceRefresh)
	if err != nil {
		return s.dashboardFailure(err), err
	}

	active, err := resolveActiveLeaderboard(boards, req.LeaderboardID)
	if err != nil {
		return s.dashboardFailure(err), err
	}

	result := &DashboardData{
		Leaderboards:      boards,
		ActiveLeaderboard: active,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		processed, err := s.GetProcessedRankingData(gctx, active.ID, req.ForceRefresh)
		if err != nil {
			return fmt.Errorf("processed section: %w", err)
		}
		result.Processed = processed
		return nil
	})

	g.Go(func() error {
		global, err := s.GetGlobalRanking(gctx, active.ID, req.ForceRefresh)
		if err != nil {
			return fmt.Errorf("global section: %w", err)
		}
		result.Global = global
		return nil
	})

	if req.PlayerID != "" {
		g.Go(func() error {
			personal, err := s.GetPersonalRanking(gctx, active.ID, req.PlayerID, req.ForceRefresh)
			if err != nil {
				return fmt.Errorf("personal section: %w", err)
			}
			result.Personal = personal
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.metrics.DashboardCompositions.WithLabelValues("failure").Inc()
		s.log.Error("dashboard composition failed",
			logger.LeaderboardID(active.ID),
			logger.Err(err))
		return s.dashboardFailure(err), err
	}

	result.Race = ranking.TransformToRaceVisualization(
		playersToLeaders(result.Processed.Players), req.PlayerID, s.cfg.RaceSize)
	result.LastUpdated = s.now()

	s.metrics.DashboardCompositions.WithLabelValues("success").Inc()
	return result, nil
}

// dashboardFailure is the all-or-nothing failure payload: no partial
// sections, loading cleared, the error carried for the client.
func (s *Service) dashboardFailure(err error) *DashboardData {
	return &DashboardData{
		IsLoading:   false,
		Error:       err.Error(),
		LastUpdated: s.now(),
	}
}

// resolveActiveLeaderboard picks the leaderboard the dashboard centers
// on: an explicit id wins, then the first one flagged active, then the
// first in the list. An empty list is a hard error.
func resolveActiveLeaderboard(boards []ranking.Leaderboard, explicitID string) (*ranking.Leaderboard, error) {
	if len(boards) == 0 {
		return nil, ranking.ErrNoLeaderboards
	}

	if explicitID != "" {
		for i := range boards {
			if boards[i].ID == explicitID {
				return &boards[i], nil
			}
		}
		// An id outside the list is trusted; the upstream list endpoint
		// may filter out inactive competitions.
		return &ranking.Leaderboard{ID: explicitID}, nil
	}

	for i := range boards {
		if boards[i].Active {
			return &boards[i], nil
		}
	}
	return &boards[0], nil
}

// playersToLeaders strips processed players back to leader records for
// the race transform.
func playersToLeaders(players []ranking.Player) []ranking.Leader {
	leaders := make([]ranking.Leader, len(players))
	for i, p := range players {
		leaders[i] = ranking.Leader{
			ID:         p.PlayerID,
			PlayerID:   p.PlayerID,
			PlayerName: p.PlayerName,
			Points:     p.Points,
			Position:   p.Position,
			Avatar:     p.Avatar,
			Team:       p.Team,
		}
	}
	return leaders
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE ADMINISTRATION
// ══════════════════════════════════════════════════════════════════════════════

// InvalidateLeaderboard drops every cached artifact of one leaderboard.
// Returns the number of entries removed; zero when caching is disabled.
func (s *Service) InvalidateLeaderboard(ctx context.Context, leaderboardID string) int {
	if s.cache == nil {
		return 0
	}
	removed := s.cache.InvalidateLeaderboard(ctx, leaderboardID)
	s.log.Info("leaderboard cache invalidated",
		logger.LeaderboardID(leaderboardID),
		logger.Int("removed", removed))
	return removed
}

// InvalidatePlayerRanking drops one player's cached views in one
// leaderboard.
func (s *Service) InvalidatePlayerRanking(ctx context.Context, leaderboardID, playerID string) int {
	if s.cache == nil {
		return 0
	}
	return s.cache.InvalidatePlayerRanking(ctx, leaderboardID, playerID)
}

// ClearCache drops every cached ranking artifact.
func (s *Service) ClearCache(ctx context.Context) int {
	if s.cache == nil {
		return 0
	}
	removed := s.cache.Clear(ctx)
	s.log.Info("ranking cache cleared", logger.Int("removed", removed))
	return removed
}
