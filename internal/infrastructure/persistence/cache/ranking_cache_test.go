package cache

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamifyhub/ranking-hub/internal/domain/ranking"
)

type rankingCacheFixture struct {
	cache   *RankingCache
	store   *TieredStore
	primary *flakyBackend
	clock   *frozenClock
}

func newRankingCacheFixture(t *testing.T, cfg Config) *rankingCacheFixture {
	t.Helper()

	clock := &frozenClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	primaryMem := NewMemoryBackend()
	primaryMem.now = clock.now
	primary := &flakyBackend{MemoryBackend: primaryMem}

	fallback := NewMemoryBackend()
	fallback.now = clock.now

	store := NewTieredStore(primary, testLogger(),
		WithCleanupInterval(0),
		WithFallback(fallback))

	cfg.SweepInterval = 0
	cache := NewRankingCache(store, cfg, testLogger())
	cache.now = clock.now

	t.Cleanup(func() {
		cache.Stop()
		store.Close()
	})

	return &rankingCacheFixture{cache: cache, store: store, primary: primary, clock: clock}
}

func sampleLeaderboards() []ranking.Leaderboard {
	return []ranking.Leaderboard{
		{ID: "lb1", Title: "Spring Sprint", Active: true},
		{ID: "lb2", Title: "All Time"},
	}
}

func TestRankingCache_LeaderboardsRoundTrip(t *testing.T) {
	f := newRankingCacheFixture(t, DefaultConfig())
	ctx := context.Background()

	require.True(t, f.cache.CacheLeaderboards(ctx, sampleLeaderboards()))

	boards, found := f.cache.GetCachedLeaderboards(ctx)
	require.True(t, found)
	require.Len(t, boards, 2)
	assert.Equal(t, "Spring Sprint", boards[0].Title)
}

func TestRankingCache_ProcessedDataRoundTrip(t *testing.T) {
	f := newRankingCacheFixture(t, DefaultConfig())
	ctx := context.Background()

	data := ranking.ProcessLeaderboardData([]ranking.Leader{
		{PlayerID: "p1", PlayerName: "Ana", Points: 100},
	}, nil, f.clock.now())
	require.True(t, f.cache.CacheProcessedData(ctx, "lb1", data))

	got, found := f.cache.GetCachedProcessedData(ctx, "lb1")
	require.True(t, found)
	assert.Equal(t, 1, got.TotalParticipants)
	require.NotNil(t, got.TopPerformer)
	assert.Equal(t, "p1", got.TopPerformer.PlayerID)
}

func TestRankingCache_QueryHashIsDeterministic(t *testing.T) {
	type query struct {
		Max    int    `json:"max"`
		Period string `json:"period"`
	}

	h1 := QueryHash(query{Max: 10, Period: "week"})
	h2 := QueryHash(query{Max: 10, Period: "week"})
	h3 := QueryHash(query{Max: 20, Period: "week"})

	assert.Equal(t, h1, h2, "equal queries must hash equally")
	assert.NotEqual(t, h1, h3, "distinct queries must not collide")
	assert.Len(t, h1, queryHashLen)
}

func TestRankingCache_DistinctQueriesCacheSeparately(t *testing.T) {
	f := newRankingCacheFixture(t, DefaultConfig())
	ctx := context.Background()

	queryA := ranking.LeaderboardQuery{MaxPositions: 10}
	queryB := ranking.LeaderboardQuery{MaxPositions: 50}

	f.cache.CacheLeaderboardData(ctx, "lb1", queryA, []ranking.Leader{{PlayerID: "p1", Points: 10}})
	f.cache.CacheLeaderboardData(ctx, "lb1", queryB, []ranking.Leader{{PlayerID: "p1", Points: 10}, {PlayerID: "p2", Points: 5}})

	a, found := f.cache.GetCachedLeaderboardData(ctx, "lb1", queryA)
	require.True(t, found)
	b, found := f.cache.GetCachedLeaderboardData(ctx, "lb1", queryB)
	require.True(t, found)

	assert.Len(t, a, 1)
	assert.Len(t, b, 2)
}

func TestRankingCache_PersonalTTLExpires(t *testing.T) {
	f := newRankingCacheFixture(t, DefaultConfig())
	ctx := context.Background()

	f.cache.CachePersonalRanking(ctx, "lb1", "p1", &ranking.PersonalRanking{
		LeaderboardID: "lb1",
		Player:        ranking.Player{PlayerID: "p1", Points: 100, Position: 4},
	})

	_, found := f.cache.GetCachedPersonalRanking(ctx, "lb1", "p1")
	require.True(t, found)

	// The personal category uses the shortest TTL.
	f.clock.advance(61 * time.Second)

	_, found = f.cache.GetCachedPersonalRanking(ctx, "lb1", "p1")
	assert.False(t, found, "personal entries must expire after one minute")
}

func TestRankingCache_CategoryTTLsAreIndependent(t *testing.T) {
	f := newRankingCacheFixture(t, DefaultConfig())
	ctx := context.Background()

	f.cache.CacheLeaderboards(ctx, sampleLeaderboards())
	f.cache.CachePersonalRanking(ctx, "lb1", "p1", &ranking.PersonalRanking{LeaderboardID: "lb1"})

	f.clock.advance(2 * time.Minute)

	_, found := f.cache.GetCachedPersonalRanking(ctx, "lb1", "p1")
	assert.False(t, found)

	_, found = f.cache.GetCachedLeaderboards(ctx)
	assert.True(t, found, "the leaderboard list outlives the personal view")
}

func TestRankingCache_InvalidateLeaderboardIsScoped(t *testing.T) {
	f := newRankingCacheFixture(t, DefaultConfig())
	ctx := context.Background()

	query := ranking.LeaderboardQuery{MaxPositions: 10}
	f.cache.CacheLeaderboards(ctx, sampleLeaderboards())
	f.cache.CacheLeaderboardData(ctx, "lb1", query, []ranking.Leader{{PlayerID: "p1"}})
	f.cache.CacheLeaderboardData(ctx, "lb2", query, []ranking.Leader{{PlayerID: "p1"}})
	f.cache.CacheProcessedData(ctx, "lb1", &ranking.ProcessedRankingData{})
	f.cache.CachePersonalRanking(ctx, "lb1", "p1", &ranking.PersonalRanking{})
	f.cache.CacheGlobalRanking(ctx, "lb1", &ranking.GlobalRanking{LeaderboardID: "lb1"})
	f.cache.CacheGlobalRanking(ctx, "lb2", &ranking.GlobalRanking{LeaderboardID: "lb2"})

	removed := f.cache.InvalidateLeaderboard(ctx, "lb1")
	assert.GreaterOrEqual(t, removed, 5)

	_, found := f.cache.GetCachedLeaderboardData(ctx, "lb1", query)
	assert.False(t, found)
	_, found = f.cache.GetCachedProcessedData(ctx, "lb1")
	assert.False(t, found)
	_, found = f.cache.GetCachedPersonalRanking(ctx, "lb1", "p1")
	assert.False(t, found)
	_, found = f.cache.GetCachedGlobalRanking(ctx, "lb1")
	assert.False(t, found)

	_, found = f.cache.GetCachedLeaderboardData(ctx, "lb2", query)
	assert.True(t, found, "other leaderboards must be untouched")
	_, found = f.cache.GetCachedGlobalRanking(ctx, "lb2")
	assert.True(t, found)
}

func TestRankingCache_InvalidatePlayerRanking(t *testing.T) {
	f := newRankingCacheFixture(t, DefaultConfig())
	ctx := context.Background()

	f.cache.CachePersonalRanking(ctx, "lb1", "p1", &ranking.PersonalRanking{})
	f.cache.CachePersonalRanking(ctx, "lb1", "p2", &ranking.PersonalRanking{})
	f.cache.CacheGlobalRanking(ctx, "lb1", &ranking.GlobalRanking{})

	removed := f.cache.InvalidatePlayerRanking(ctx, "lb1", "p1")
	assert.Equal(t, 2, removed, "the personal view and the leaderboard's global ranking are dropped")

	_, found := f.cache.GetCachedPersonalRanking(ctx, "lb1", "p1")
	assert.False(t, found)
	_, found = f.cache.GetCachedGlobalRanking(ctx, "lb1")
	assert.False(t, found)
	_, found = f.cache.GetCachedPersonalRanking(ctx, "lb1", "p2")
	assert.True(t, found, "other players' views must survive")
}

func TestRankingCache_Clear(t *testing.T) {
	f := newRankingCacheFixture(t, DefaultConfig())
	ctx := context.Background()

	f.cache.CacheLeaderboards(ctx, sampleLeaderboards())
	f.cache.CacheGlobalRanking(ctx, "lb1", &ranking.GlobalRanking{})

	removed := f.cache.Clear(ctx)
	assert.Equal(t, 2, removed)
	assert.Zero(t, f.cache.Stats().TotalEntries)
}

func TestRankingCache_EvictsOldestTenthAtCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCacheSize = 10
	f := newRankingCacheFixture(t, cfg)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		f.cache.CacheGlobalRanking(ctx, fmt.Sprintf("lb%d", i), &ranking.GlobalRanking{})
		f.clock.advance(time.Second)
	}

	// The 11th insert pushes out the single oldest entry (10% of 10).
	f.cache.CacheGlobalRanking(ctx, "lb10", &ranking.GlobalRanking{})

	_, found := f.cache.GetCachedGlobalRanking(ctx, "lb0")
	assert.False(t, found, "the oldest entry must be evicted")
	_, found = f.cache.GetCachedGlobalRanking(ctx, "lb1")
	assert.True(t, found)
	_, found = f.cache.GetCachedGlobalRanking(ctx, "lb10")
	assert.True(t, found)

	assert.Equal(t, 10, f.cache.Stats().TotalEntries)
}

func TestRankingCache_RewriteDoesNotEvict(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCacheSize = 2
	f := newRankingCacheFixture(t, cfg)
	ctx := context.Background()

	f.cache.CacheGlobalRanking(ctx, "lb1", &ranking.GlobalRanking{})
	f.cache.CacheGlobalRanking(ctx, "lb2", &ranking.GlobalRanking{})

	// Overwriting a tracked key is not growth and must not evict.
	f.cache.CacheGlobalRanking(ctx, "lb2", &ranking.GlobalRanking{TotalParticipants: 5})

	_, found := f.cache.GetCachedGlobalRanking(ctx, "lb1")
	assert.True(t, found)
}

func TestRankingCache_CompressionRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Compress = true
	f := newRankingCacheFixture(t, cfg)
	ctx := context.Background()

	boards := sampleLeaderboards()
	require.True(t, f.cache.CacheLeaderboards(ctx, boards))

	raw, found := f.store.GetBytes(ctx, leaderboardsKey())
	require.True(t, found)
	assert.True(t, bytes.HasPrefix(raw, gzipMagic), "stored payload must be gzipped")

	got, found := f.cache.GetCachedLeaderboards(ctx)
	require.True(t, found)
	assert.Equal(t, boards, got)
}

func TestRankingCache_StatsByCategory(t *testing.T) {
	f := newRankingCacheFixture(t, DefaultConfig())
	ctx := context.Background()

	f.cache.CacheLeaderboards(ctx, sampleLeaderboards())
	f.cache.CachePersonalRanking(ctx, "lb1", "p1", &ranking.PersonalRanking{})
	f.cache.CachePersonalRanking(ctx, "lb1", "p2", &ranking.PersonalRanking{})

	stats := f.cache.Stats()
	assert.Equal(t, 3, stats.TotalEntries)
	assert.Equal(t, 1, stats.EntriesByCat[CategoryLeaderboards])
	assert.Equal(t, 2, stats.EntriesByCat[CategoryPersonal])
	assert.Positive(t, stats.TotalSizeBytes)
}

func TestRankingCache_StatsEntryAges(t *testing.T) {
	f := newRankingCacheFixture(t, DefaultConfig())
	ctx := context.Background()

	f.cache.CachePersonalRanking(ctx, "lb1", "p1", &ranking.PersonalRanking{})
	f.clock.advance(30 * time.Second)
	f.cache.CacheLeaderboards(ctx, sampleLeaderboards())
	f.clock.advance(10 * time.Second)

	stats := f.cache.Stats()
	assert.Equal(t, 40*time.Second, stats.OldestEntryAge)
	assert.Equal(t, 10*time.Second, stats.NewestEntryAge)
}

func TestRankingCache_SweepDropsExpiredIndexEntries(t *testing.T) {
	f := newRankingCacheFixture(t, DefaultConfig())
	ctx := context.Background()

	f.cache.CachePersonalRanking(ctx, "lb1", "p1", &ranking.PersonalRanking{})
	f.cache.CacheLeaderboards(ctx, sampleLeaderboards())

	f.clock.advance(2 * time.Minute)
	removed := f.cache.sweepIndex()

	assert.Equal(t, 1, removed, "only the expired personal entry is swept")
	assert.Equal(t, 1, f.cache.Stats().TotalEntries)
}
