package dashboard

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamifyhub/ranking-hub/internal/domain/ranking"
	"github.com/gamifyhub/ranking-hub/internal/infrastructure/persistence/cache"
	"github.com/gamifyhub/ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// TEST DOUBLES
// ══════════════════════════════════════════════════════════════════════════════

type mockClient struct {
	mu        sync.Mutex
	boards    []ranking.Leaderboard
	leaders   map[string][]ranking.Leader
	neighbors map[string][]ranking.Leader
	failOn    map[string]error
	calls     map[string]int
}

func newMockClient() *mockClient {
	return &mockClient{
		boards: []ranking.Leaderboard{
			{ID: "lb1", Title: "Spring Sprint", Active: true},
			{ID: "lb2", Title: "All Time"},
		},
		leaders: map[string][]ranking.Leader{
			"lb1": {
				{ID: "r1", PlayerID: "p1", PlayerName: "Ana", Points: 1000},
				{ID: "r2", PlayerID: "p2", PlayerName: "Bruno", Points: 800},
				{ID: "r3", PlayerID: "p3", PlayerName: "Carla", Points: 600},
				{ID: "r4", PlayerID: "p4", PlayerName: "Diego", Points: 400},
			},
		},
		neighbors: map[string][]ranking.Leader{},
		failOn:    map[string]error{},
		calls:     map[string]int{},
	}
}

func (m *mockClient) record(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
	return m.failOn[method]
}

func (m *mockClient) count(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *mockClient) GetLeaderboards(ctx context.Context) ([]ranking.Leaderboard, error) {
	if err := m.record("GetLeaderboards"); err != nil {
		return nil, err
	}
	return m.boards, nil
}

func (m *mockClient) GetLeaderboardData(ctx context.Context, leaderboardID string, query ranking.LeaderboardQuery) ([]ranking.Leader, error) {
	if err := m.record("GetLeaderboardData"); err != nil {
		return nil, err
	}
	return m.leaders[leaderboardID], nil
}

func (m *mockClient) GetPersonalRanking(ctx context.Context, leaderboardID, playerID string) ([]ranking.Leader, error) {
	if err := m.record("GetPersonalRanking"); err != nil {
		return nil, err
	}
	return m.neighbors[leaderboardID], nil
}

func (m *mockClient) GetGlobalRanking(ctx context.Context, leaderboardID string) ([]ranking.Leader, error) {
	if err := m.record("GetGlobalRanking"); err != nil {
		return nil, err
	}
	return m.leaders[leaderboardID], nil
}

type mockStatus struct {
	status *ranking.PlayerStatus
	err    error
	calls  int
}

func (m *mockStatus) GetPlayerStatus(ctx context.Context, playerID string) (*ranking.PlayerStatus, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.status, nil
}

type mockSnapshots struct {
	mu      sync.Mutex
	history map[string]ranking.HistoricalRecord
	loadErr error
	saveErr error
	saved   int
}

func (m *mockSnapshots) SaveSnapshot(ctx context.Context, leaderboardID string, players []ranking.Player, takenAt time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return "", m.saveErr
	}
	m.saved++
	return "snap-1", nil
}

func (m *mockSnapshots) LatestSnapshot(ctx context.Context, leaderboardID string) (map[string]ranking.HistoricalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.history, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURE
// ══════════════════════════════════════════════════════════════════════════════

func testLogger() *logger.Logger {
	return logger.New(logger.Options{Output: io.Discard, Level: logger.LevelFatal})
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = 3
	cfg.RetryBaseDelay = time.Millisecond
	return cfg
}

// newTestCache builds a real ranking cache over an in-memory tier.
func newTestCache(t *testing.T) *cache.RankingCache {
	t.Helper()

	store := cache.NewTieredStore(cache.NewMemoryBackend(), testLogger(),
		cache.WithCleanupInterval(0))

	cfg := cache.DefaultConfig()
	cfg.SweepInterval = 0
	c := cache.NewRankingCache(store, cfg, testLogger())

	t.Cleanup(func() {
		c.Stop()
		store.Close()
	})
	return c
}

func newTestService(t *testing.T, client *mockClient, opts ...Option) *Service {
	t.Helper()
	base := []Option{
		WithConfig(fastConfig()),
		WithLogger(testLogger()),
	}
	return NewService(client, append(base, opts...)...)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD READS
// ══════════════════════════════════════════════════════════════════════════════

func TestService_GetLeaderboards_CacheFirst(t *testing.T) {
	client := newMockClient()
	svc := newTestService(t, client, WithCache(newTestCache(t)))
	ctx := context.Background()

	first, err := svc.GetLeaderboards(ctx, false)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := svc.GetLeaderboards(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, client.count("GetLeaderboards"), "the second read must come from the cache")
}

func TestService_GetLeaderboards_ForceRefreshBypassesCache(t *testing.T) {
	client := newMockClient()
	svc := newTestService(t, client, WithCache(newTestCache(t)))
	ctx := context.Background()

	_, err := svc.GetLeaderboards(ctx, false)
	require.NoError(t, err)

	_, err = svc.GetLeaderboards(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, client.count("GetLeaderboards"))
}

func TestService_GetLeaderboards_RetriesThenSurfacesOriginalError(t *testing.T) {
	client := newMockClient()
	upstreamErr := errors.New("upstream exploded")
	client.failOn["GetLeaderboards"] = upstreamErr

	svc := newTestService(t, client)

	_, err := svc.GetLeaderboards(context.Background(), false)

	require.Error(t, err)
	assert.Equal(t, upstreamErr, err, "the caller sees the upstream's own error, unmodified")
	assert.Equal(t, 3, client.count("GetLeaderboards"), "every rejection is retried up to the attempt budget")
}

func TestService_GetLeaderboardData_DistinctQueriesCacheSeparately(t *testing.T) {
	client := newMockClient()
	svc := newTestService(t, client, WithCache(newTestCache(t)))
	ctx := context.Background()

	_, err := svc.GetLeaderboardData(ctx, "lb1", ranking.LeaderboardQuery{MaxPositions: 2}, false)
	require.NoError(t, err)
	_, err = svc.GetLeaderboardData(ctx, "lb1", ranking.LeaderboardQuery{MaxPositions: 4}, false)
	require.NoError(t, err)
	_, err = svc.GetLeaderboardData(ctx, "lb1", ranking.LeaderboardQuery{MaxPositions: 2}, false)
	require.NoError(t, err)

	assert.Equal(t, 2, client.count("GetLeaderboardData"), "only the unseen query reaches the upstream")
}

// ══════════════════════════════════════════════════════════════════════════════
// PROCESSED READS
// ══════════════════════════════════════════════════════════════════════════════

func TestService_GetProcessedRankingData_UsesHistoryAndSavesSnapshot(t *testing.T) {
	client := newMockClient()
	snapshots := &mockSnapshots{
		history: map[string]ranking.HistoricalRecord{
			// Bruno was first last time with fewer points.
			"p2": {PlayerID: "p2", Points: 700, Position: 1},
		},
	}
	svc := newTestService(t, client, WithSnapshots(snapshots))

	data, err := svc.GetProcessedRankingData(context.Background(), "lb1", false)

	require.NoError(t, err)
	require.Equal(t, 4, data.TotalParticipants)
	assert.Equal(t, "p1", data.Players[0].PlayerID)
	assert.Equal(t, ranking.ChangeNew, data.Players[0].PositionChange)

	bruno := data.Players[1]
	assert.Equal(t, "p2", bruno.PlayerID)
	assert.Equal(t, ranking.ChangeDown, bruno.PositionChange)
	assert.Equal(t, 100, bruno.PointsGainedToday)

	assert.Equal(t, 1, snapshots.saved, "each processing pass persists a snapshot")
}

func TestService_GetProcessedRankingData_SnapshotFailuresAreBestEffort(t *testing.T) {
	client := newMockClient()
	snapshots := &mockSnapshots{
		loadErr: errors.New("db down"),
		saveErr: errors.New("db down"),
	}
	svc := newTestService(t, client, WithSnapshots(snapshots))

	data, err := svc.GetProcessedRankingData(context.Background(), "lb1", false)

	require.NoError(t, err, "history and persistence failures never fail the read")
	assert.Equal(t, ranking.ChangeNew, data.Players[0].PositionChange, "without history every player is new")
}

// ══════════════════════════════════════════════════════════════════════════════
// PERSONAL VIEW
// ══════════════════════════════════════════════════════════════════════════════

func TestService_GetPersonalRanking_BuildsFullView(t *testing.T) {
	client := newMockClient()
	status := &mockStatus{status: &ranking.PlayerStatus{
		PlayerID:          "p3",
		Level:             "silver",
		PercentCompleted:  62.5,
		PointsToNextLevel: 300,
	}}
	svc := newTestService(t, client, WithPlayerStatus(status))

	personal, err := svc.GetPersonalRanking(context.Background(), "lb1", "p3", false)

	require.NoError(t, err)
	assert.Equal(t, "p3", personal.Player.PlayerID)
	assert.Equal(t, 3, personal.Player.Position)
	assert.Equal(t, 4, personal.TotalParticipants)

	require.Len(t, personal.TopPlayers, 3)
	assert.Equal(t, "p1", personal.TopPlayers[0].PlayerID)

	// Context window: two above, one below.
	require.Len(t, personal.ContextPlayers, 4)
	assert.Equal(t, "p1", personal.ContextPlayers[0].PlayerID)
	assert.Equal(t, "p4", personal.ContextPlayers[3].PlayerID)

	require.NotNil(t, personal.Level)
	assert.Equal(t, "silver", personal.Level.Level)
	assert.Equal(t, 300, personal.Level.PointsToNextLevel)
}

func TestService_GetPersonalRanking_LevelEnrichmentIsBestEffort(t *testing.T) {
	client := newMockClient()
	status := &mockStatus{err: errors.New("status endpoint down")}
	svc := newTestService(t, client, WithPlayerStatus(status))

	personal, err := svc.GetPersonalRanking(context.Background(), "lb1", "p1", false)

	require.NoError(t, err)
	assert.Nil(t, personal.Level, "a failed enrichment ships the view without a level block")
}

func TestService_GetPersonalRanking_FallsBackToNeighbors(t *testing.T) {
	client := newMockClient()
	// p99 is outside the capped aggregate but the neighbors endpoint
	// knows them.
	client.neighbors["lb1"] = []ranking.Leader{
		{PlayerID: "p4", PlayerName: "Diego", Points: 400, Position: 4},
		{PlayerID: "p99", PlayerName: "Zoe", Points: 100, Position: 5},
	}
	svc := newTestService(t, client)

	personal, err := svc.GetPersonalRanking(context.Background(), "lb1", "p99", false)

	require.NoError(t, err)
	assert.Equal(t, "p99", personal.Player.PlayerID)
	assert.Equal(t, 5, personal.Player.Position)
	assert.Len(t, personal.ContextPlayers, 2)
	assert.Equal(t, 1, client.count("GetPersonalRanking"))
}

func TestService_GetPersonalRanking_UnknownPlayer(t *testing.T) {
	client := newMockClient()
	svc := newTestService(t, client)

	_, err := svc.GetPersonalRanking(context.Background(), "lb1", "ghost", false)

	assert.ErrorIs(t, err, ranking.ErrPlayerNotFound)
}

// ══════════════════════════════════════════════════════════════════════════════
// GLOBAL VIEW
// ══════════════════════════════════════════════════════════════════════════════

func TestService_GetGlobalRanking(t *testing.T) {
	client := newMockClient()
	svc := newTestService(t, client, WithCache(newTestCache(t)))
	ctx := context.Background()

	global, err := svc.GetGlobalRanking(ctx, "lb1", false)

	require.NoError(t, err)
	assert.Equal(t, "lb1", global.LeaderboardID)
	assert.Equal(t, 4, global.TotalParticipants)
	assert.Equal(t, 1, global.Players[0].Position)

	_, err = svc.GetGlobalRanking(ctx, "lb1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, client.count("GetGlobalRanking"))
}

// ══════════════════════════════════════════════════════════════════════════════
// DASHBOARD COMPOSITION
// ══════════════════════════════════════════════════════════════════════════════

func TestService_GetDashboardData_ComposesAllSections(t *testing.T) {
	client := newMockClient()
	svc := newTestService(t, client)

	data, err := svc.GetDashboardData(context.Background(), DashboardRequest{PlayerID: "p2"})

	require.NoError(t, err)
	assert.Empty(t, data.Error)
	assert.False(t, data.IsLoading)

	require.NotNil(t, data.ActiveLeaderboard)
	assert.Equal(t, "lb1", data.ActiveLeaderboard.ID, "the active-flagged leaderboard wins")

	require.NotNil(t, data.Processed)
	require.NotNil(t, data.Global)
	require.NotNil(t, data.Personal)
	assert.Equal(t, "p2", data.Personal.Player.PlayerID)

	require.Len(t, data.Race, 4)
	assert.Equal(t, "p1", data.Race[0].PlayerID)
	assert.True(t, data.Race[1].IsCurrentUser)
}

func TestService_GetDashboardData_WithoutPlayerSkipsPersonal(t *testing.T) {
	client := newMockClient()
	svc := newTestService(t, client)

	data, err := svc.GetDashboardData(context.Background(), DashboardRequest{})

	require.NoError(t, err)
	assert.Nil(t, data.Personal)
	assert.NotNil(t, data.Global)
}

func TestService_GetDashboardData_AllOrNothing(t *testing.T) {
	client := newMockClient()
	client.failOn["GetGlobalRanking"] = errors.New("upstream exploded")

	cfg := fastConfig()
	cfg.MaxRetries = 1
	svc := newTestService(t, client, WithConfig(cfg))

	data, err := svc.GetDashboardData(context.Background(), DashboardRequest{})

	require.Error(t, err)
	assert.NotEmpty(t, data.Error)
	assert.Nil(t, data.Processed, "one section failing discards its siblings")
	assert.Nil(t, data.Global)
	assert.Nil(t, data.Race)
}

func TestService_GetDashboardData_NoLeaderboards(t *testing.T) {
	client := newMockClient()
	client.boards = nil
	svc := newTestService(t, client)

	data, err := svc.GetDashboardData(context.Background(), DashboardRequest{})

	assert.ErrorIs(t, err, ranking.ErrNoLeaderboards)
	assert.NotEmpty(t, data.Error)
}

func TestResolveActiveLeaderboard(t *testing.T) {
	boards := []ranking.Leaderboard{
		{ID: "lb1"},
		{ID: "lb2", Active: true},
	}

	active, err := resolveActiveLeaderboard(boards, "")
	require.NoError(t, err)
	assert.Equal(t, "lb2", active.ID)

	active, err = resolveActiveLeaderboard(boards, "lb1")
	require.NoError(t, err)
	assert.Equal(t, "lb1", active.ID)

	active, err = resolveActiveLeaderboard(boards, "lb-archived")
	require.NoError(t, err)
	assert.Equal(t, "lb-archived", active.ID, "an explicit id outside the list is trusted")

	noActive := []ranking.Leaderboard{{ID: "lb1"}, {ID: "lb2"}}
	active, err = resolveActiveLeaderboard(noActive, "")
	require.NoError(t, err)
	assert.Equal(t, "lb1", active.ID, "without an active flag the first entry wins")

	_, err = resolveActiveLeaderboard(nil, "")
	assert.ErrorIs(t, err, ranking.ErrNoLeaderboards)
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE ADMINISTRATION
// ══════════════════════════════════════════════════════════════════════════════

func TestService_InvalidateLeaderboard(t *testing.T) {
	client := newMockClient()
	svc := newTestService(t, client, WithCache(newTestCache(t)))
	ctx := context.Background()

	_, err := svc.GetProcessedRankingData(ctx, "lb1", false)
	require.NoError(t, err)

	removed := svc.InvalidateLeaderboard(ctx, "lb1")
	assert.Greater(t, removed, 0)

	_, err = svc.GetProcessedRankingData(ctx, "lb1", false)
	require.NoError(t, err)
	assert.Equal(t, 2, client.count("GetLeaderboardData"), "invalidation forces the next read upstream")
}

func TestService_CacheAdministrationWithoutCache(t *testing.T) {
	svc := newTestService(t, newMockClient())
	ctx := context.Background()

	assert.Zero(t, svc.InvalidateLeaderboard(ctx, "lb1"))
	assert.Zero(t, svc.InvalidatePlayerRanking(ctx, "lb1", "p1"))
	assert.Zero(t, svc.ClearCache(ctx))
}
