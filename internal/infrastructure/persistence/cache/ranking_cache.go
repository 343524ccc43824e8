package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/gamifyhub/ranking-hub/internal/domain/ranking"
	"github.com/gamifyhub/ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATEGORIES AND CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Category is a semantic class of cached ranking data. Each category
// carries its own TTL, tuned to how fast the underlying data moves.
type Category string

const (
	// CategoryLeaderboards is the list of available leaderboards.
	CategoryLeaderboards Category = "leaderboards"

	// CategoryLeaderboardData is the raw leader set of one leaderboard,
	// keyed per query.
	CategoryLeaderboardData Category = "leaderboard"

	// CategoryProcessed is a fully processed ranking aggregate.
	CategoryProcessed Category = "processed"

	// CategoryPersonal is one player's personal ranking view.
	CategoryPersonal Category = "personal"

	// CategoryGlobal is the full public ranking of one leaderboard.
	CategoryGlobal Category = "global"
)

// keyNamespace prefixes every key written by the ranking cache.
const keyNamespace = "ranking"

// Config holds per-category TTLs and the cache size bound.
type Config struct {
	// LeaderboardsTTL applies to the leaderboard list. Leaderboard
	// definitions change rarely, so this is the longest TTL.
	LeaderboardsTTL time.Duration

	// LeaderboardDataTTL applies to per-query leader sets.
	LeaderboardDataTTL time.Duration

	// ProcessedTTL applies to processed ranking aggregates.
	ProcessedTTL time.Duration

	// PersonalTTL applies to personal ranking views. Shortest TTL:
	// players watch their own row most closely.
	PersonalTTL time.Duration

	// GlobalTTL applies to global ranking views.
	GlobalTTL time.Duration

	// MaxCacheSize bounds the number of tracked entries. When reached,
	// the oldest tenth of the entries is evicted.
	MaxCacheSize int

	// Compress gzips payloads before storage. Worth enabling when
	// leaderboards carry thousands of rows.
	Compress bool

	// SweepInterval controls how often the key index drops expired
	// entries. Zero disables the sweep.
	SweepInterval time.Duration
}

// DefaultConfig returns the production TTL profile.
func DefaultConfig() Config {
	return Config{
		LeaderboardsTTL:    5 * time.Minute,
		LeaderboardDataTTL: 2 * time.Minute,
		ProcessedTTL:       2 * time.Minute,
		PersonalTTL:        1 * time.Minute,
		GlobalTTL:          3 * time.Minute,
		MaxCacheSize:       1000,
		Compress:           false,
		SweepInterval:      time.Minute,
	}
}

// ttlFor maps a category to its configured TTL.
func (c Config) ttlFor(category Category) time.Duration {
	switch category {
	case CategoryLeaderboards:
		return c.LeaderboardsTTL
	case CategoryLeaderboardData:
		return c.LeaderboardDataTTL
	case CategoryProcessed:
		return c.ProcessedTTL
	case CategoryPersonal:
		return c.PersonalTTL
	case CategoryGlobal:
		return c.GlobalTTL
	default:
		return c.LeaderboardDataTTL
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY HASHING
// ══════════════════════════════════════════════════════════════════════════════

// queryHashLen is the number of hex characters kept from the digest.
const queryHashLen = 16

// QueryHash derives a deterministic key fragment from an arbitrary
// query value. Equal queries always produce equal hashes, so distinct
// filter combinations never collide onto one cache entry.
func QueryHash(query any) string {
	data, err := json.Marshal(query)
	if err != nil {
		// Unmarshalable queries collapse onto one bucket rather than
		// failing the read path.
		data = []byte(fmt.Sprintf("%+v", query))
	}

	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])[:queryHashLen]
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING CACHE
// ══════════════════════════════════════════════════════════════════════════════

// indexEntry tracks one cached key for eviction, invalidation and
// statistics without scanning the primary store.
type indexEntry struct {
	category   Category
	insertedAt time.Time
	expiresAt  time.Time
	size       int
}

// RankingCache is the semantic layer over the TieredStore: it owns key
// construction, per-category TTLs, payload compression, size-bounded
// eviction and targeted invalidation for ranking artifacts.
type RankingCache struct {
	store *TieredStore
	cfg   Config
	log   *logger.Logger

	mu    sync.Mutex
	index map[string]indexEntry

	now func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewRankingCache creates the ranking cache over the given store and
// starts the index sweep.
func NewRankingCache(store *TieredStore, cfg Config, log *logger.Logger) *RankingCache {
	c := &RankingCache{
		store:  store,
		cfg:    cfg,
		log:    log.With(logger.Component("ranking_cache")),
		index:  make(map[string]indexEntry),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		c.wg.Add(1)
		go c.sweepLoop()
	}

	return c
}

// sweepLoop drops expired keys from the index so Stats and eviction
// work against live entries only.
func (c *RankingCache) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweepIndex()
		case <-c.stopCh:
			return
		}
	}
}

// sweepIndex removes expired index entries and returns the count.
func (c *RankingCache) sweepIndex() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.index {
		if now.After(entry.expiresAt) {
			delete(c.index, key)
			removed++
		}
	}
	return removed
}

// Stop halts the index sweep. The underlying store is not closed; it
// may be shared.
func (c *RankingCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

// ══════════════════════════════════════════════════════════════════════════════
// KEY CONSTRUCTION
// ══════════════════════════════════════════════════════════════════════════════

func leaderboardsKey() string {
	return fmt.Sprintf("%s:%s:all", keyNamespace, CategoryLeaderboards)
}

func leaderboardDataKey(leaderboardID, queryHash string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyNamespace, CategoryLeaderboardData, leaderboardID, queryHash)
}

func processedKey(leaderboardID string) string {
	return fmt.Sprintf("%s:%s:%s", keyNamespace, CategoryProcessed, leaderboardID)
}

func personalKey(leaderboardID, playerID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyNamespace, CategoryPersonal, leaderboardID, playerID)
}

func globalKey(leaderboardID string) string {
	return fmt.Sprintf("%s:%s:%s", keyNamespace, CategoryGlobal, leaderboardID)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERIALIZATION
// ══════════════════════════════════════════════════════════════════════════════

// gzip payloads carry the standard two-byte magic, which the read path
// uses to tell compressed entries apart after a config change.
var gzipMagic = []byte{0x1f, 0x8b}

func (c *RankingCache) encode(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	if !c.cfg.Compress {
		return data, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return buf.Bytes(), nil
}

func (c *RankingCache) decode(data []byte, dest any) error {
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		defer zr.Close()

		if data, err = io.ReadAll(zr); err != nil {
			return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CORE READ/WRITE PATH
// ══════════════════════════════════════════════════════════════════════════════

// put encodes and stores one entry, updating the index and evicting
// when the size bound is reached. Returns whether the primary tier
// accepted the write.
func (c *RankingCache) put(ctx context.Context, key string, category Category, value any) bool {
	data, err := c.encode(value)
	if err != nil {
		c.log.Error("cache write skipped",
			logger.String("cache_key", key),
			logger.Err(err))
		return false
	}

	ttl := c.cfg.ttlFor(category)
	now := c.now()

	c.mu.Lock()
	if _, tracked := c.index[key]; !tracked && c.cfg.MaxCacheSize > 0 && len(c.index) >= c.cfg.MaxCacheSize {
		c.evictOldestLocked(ctx)
	}
	c.index[key] = indexEntry{
		category:   category,
		insertedAt: now,
		expiresAt:  now.Add(ttl),
		size:       len(data),
	}
	c.mu.Unlock()

	return c.store.SetBytes(ctx, key, data, ttl)
}

// fetch retrieves and decodes one entry into dest.
func (c *RankingCache) fetch(ctx context.Context, key string, dest any) bool {
	data, ok := c.store.GetBytes(ctx, key)
	if !ok {
		return false
	}

	if err := c.decode(data, dest); err != nil {
		c.log.Error("cached payload is not decodable, evicting",
			logger.String("cache_key", key),
			logger.Err(err))
		c.dropKey(ctx, key)
		return false
	}
	return true
}

// dropKey removes one key from the store and the index.
func (c *RankingCache) dropKey(ctx context.Context, key string) {
	c.store.Delete(ctx, key)
	c.mu.Lock()
	delete(c.index, key)
	c.mu.Unlock()
}

// evictOldestLocked removes the oldest tenth of tracked entries, at
// least one. Caller holds c.mu.
func (c *RankingCache) evictOldestLocked(ctx context.Context) {
	type aged struct {
		key        string
		insertedAt time.Time
	}

	entries := make([]aged, 0, len(c.index))
	for key, entry := range c.index {
		entries = append(entries, aged{key: key, insertedAt: entry.insertedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].insertedAt.Before(entries[j].insertedAt)
	})

	count := len(entries) / 10
	if count < 1 {
		count = 1
	}

	for _, e := range entries[:count] {
		delete(c.index, e.key)
		c.store.Delete(ctx, e.key)
	}

	c.log.Debug("evicted oldest cache entries", logger.Int("evicted", count))
}

// ══════════════════════════════════════════════════════════════════════════════
// TYPED OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// CacheLeaderboards stores the leaderboard list.
func (c *RankingCache) CacheLeaderboards(ctx context.Context, boards []ranking.Leaderboard) bool {
	return c.put(ctx, leaderboardsKey(), CategoryLeaderboards, boards)
}

// GetCachedLeaderboards retrieves the leaderboard list.
func (c *RankingCache) GetCachedLeaderboards(ctx context.Context) ([]ranking.Leaderboard, bool) {
	var boards []ranking.Leaderboard
	if !c.fetch(ctx, leaderboardsKey(), &boards) {
		return nil, false
	}
	return boards, true
}

// CacheLeaderboardData stores the leader set for one leaderboard query.
// The query value is hashed into the key, so distinct filter
// combinations cache independently.
func (c *RankingCache) CacheLeaderboardData(ctx context.Context, leaderboardID string, query any, leaders []ranking.Leader) bool {
	return c.put(ctx, leaderboardDataKey(leaderboardID, QueryHash(query)), CategoryLeaderboardData, leaders)
}

// GetCachedLeaderboardData retrieves the leader set for one query.
func (c *RankingCache) GetCachedLeaderboardData(ctx context.Context, leaderboardID string, query any) ([]ranking.Leader, bool) {
	var leaders []ranking.Leader
	if !c.fetch(ctx, leaderboardDataKey(leaderboardID, QueryHash(query)), &leaders) {
		return nil, false
	}
	return leaders, true
}

// CacheProcessedData stores a processed ranking aggregate.
func (c *RankingCache) CacheProcessedData(ctx context.Context, leaderboardID string, data *ranking.ProcessedRankingData) bool {
	return c.put(ctx, processedKey(leaderboardID), CategoryProcessed, data)
}

// GetCachedProcessedData retrieves a processed ranking aggregate.
func (c *RankingCache) GetCachedProcessedData(ctx context.Context, leaderboardID string) (*ranking.ProcessedRankingData, bool) {
	var data ranking.ProcessedRankingData
	if !c.fetch(ctx, processedKey(leaderboardID), &data) {
		return nil, false
	}
	return &data, true
}

// CachePersonalRanking stores one player's personal ranking view.
func (c *RankingCache) CachePersonalRanking(ctx context.Context, leaderboardID, playerID string, personal *ranking.PersonalRanking) bool {
	return c.put(ctx, personalKey(leaderboardID, playerID), CategoryPersonal, personal)
}

// GetCachedPersonalRanking retrieves one player's personal ranking view.
func (c *RankingCache) GetCachedPersonalRanking(ctx context.Context, leaderboardID, playerID string) (*ranking.PersonalRanking, bool) {
	var personal ranking.PersonalRanking
	if !c.fetch(ctx, personalKey(leaderboardID, playerID), &personal) {
		return nil, false
	}
	return &personal, true
}

// CacheGlobalRanking stores one leaderboard's full public ranking.
func (c *RankingCache) CacheGlobalRanking(ctx context.Context, leaderboardID string, global *ranking.GlobalRanking) bool {
	return c.put(ctx, globalKey(leaderboardID), CategoryGlobal, global)
}

// GetCachedGlobalRanking retrieves one leaderboard's full public ranking.
func (c *RankingCache) GetCachedGlobalRanking(ctx context.Context, leaderboardID string) (*ranking.GlobalRanking, bool) {
	var global ranking.GlobalRanking
	if !c.fetch(ctx, globalKey(leaderboardID), &global) {
		return nil, false
	}
	return &global, true
}

// ══════════════════════════════════════════════════════════════════════════════
// INVALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// InvalidateLeaderboard removes every entry derived from one
// leaderboard: raw leader sets, the processed aggregate, the global
// ranking and all personal views, plus the leaderboard list itself.
// Returns the number of entries removed.
func (c *RankingCache) InvalidateLeaderboard(ctx context.Context, leaderboardID string) int {
	removed := 0
	removed += c.store.DeletePattern(ctx, leaderboardDataKey(leaderboardID, "*"))
	removed += c.store.DeletePattern(ctx, personalKey(leaderboardID, "*"))
	if c.store.Delete(ctx, processedKey(leaderboardID)) {
		removed++
	}
	if c.store.Delete(ctx, globalKey(leaderboardID)) {
		removed++
	}
	if c.store.Delete(ctx, leaderboardsKey()) {
		removed++
	}

	c.mu.Lock()
	prefixes := []string{
		fmt.Sprintf("%s:%s:%s:", keyNamespace, CategoryLeaderboardData, leaderboardID),
		fmt.Sprintf("%s:%s:%s:", keyNamespace, CategoryPersonal, leaderboardID),
	}
	for key := range c.index {
		for _, prefix := range prefixes {
			if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
				delete(c.index, key)
				break
			}
		}
	}
	delete(c.index, processedKey(leaderboardID))
	delete(c.index, globalKey(leaderboardID))
	delete(c.index, leaderboardsKey())
	c.mu.Unlock()

	c.log.Info("leaderboard cache invalidated",
		logger.LeaderboardID(leaderboardID),
		logger.Int("removed", removed))
	return removed
}

// InvalidatePlayerRanking removes one player's personal view on one
// leaderboard, plus that leaderboard's global ranking since the
// player's row appears in it.
func (c *RankingCache) InvalidatePlayerRanking(ctx context.Context, leaderboardID, playerID string) int {
	removed := 0
	if c.store.Delete(ctx, personalKey(leaderboardID, playerID)) {
		removed++
	}
	if c.store.Delete(ctx, globalKey(leaderboardID)) {
		removed++
	}

	c.mu.Lock()
	delete(c.index, personalKey(leaderboardID, playerID))
	delete(c.index, globalKey(leaderboardID))
	c.mu.Unlock()

	return removed
}

// Clear removes every ranking entry.
func (c *RankingCache) Clear(ctx context.Context) int {
	removed := c.store.DeletePattern(ctx, keyNamespace+":*")

	c.mu.Lock()
	c.index = make(map[string]indexEntry)
	c.mu.Unlock()

	c.log.Info("ranking cache cleared", logger.Int("removed", removed))
	return removed
}

// ══════════════════════════════════════════════════════════════════════════════
// STATISTICS
// ══════════════════════════════════════════════════════════════════════════════

// CacheStats is a point-in-time view of the ranking cache.
type CacheStats struct {
	TotalEntries   int              `json:"totalEntries"`
	EntriesByCat   map[Category]int `json:"entriesByCategory"`
	TotalSizeBytes int              `json:"totalSizeBytes"`
	OldestEntryAge time.Duration    `json:"oldestEntryAge"`
	NewestEntryAge time.Duration    `json:"newestEntryAge"`
	Store          StoreMetrics     `json:"store"`
}

// Stats reports live (unexpired) entries tracked by the index together
// with the underlying store's counters.
func (c *RankingCache) Stats() CacheStats {
	now := c.now()

	c.mu.Lock()
	stats := CacheStats{
		EntriesByCat: make(map[Category]int),
	}
	var oldest, newest time.Time
	for _, entry := range c.index {
		if now.After(entry.expiresAt) {
			continue
		}
		stats.TotalEntries++
		stats.EntriesByCat[entry.category]++
		stats.TotalSizeBytes += entry.size
		if oldest.IsZero() || entry.insertedAt.Before(oldest) {
			oldest = entry.insertedAt
		}
		if newest.IsZero() || entry.insertedAt.After(newest) {
			newest = entry.insertedAt
		}
	}
	c.mu.Unlock()

	if !oldest.IsZero() {
		stats.OldestEntryAge = now.Sub(oldest)
		stats.NewestEntryAge = now.Sub(newest)
	}
	stats.Store = c.store.Metrics()

	return stats
}
