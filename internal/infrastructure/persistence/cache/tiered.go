package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gamifyhub/ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// TIERED STORE
// ══════════════════════════════════════════════════════════════════════════════

// TieredStore composes the primary tier with the in-process fallback.
// Reads try the primary first and fall through to the fallback on both
// connection failures and clean misses, because entries written while
// the primary was down live only in the fallback. Writes go to both
// tiers so a later primary outage still serves recent data.
//
// No operation surfaces a connectivity error to the caller: reads report
// found/not-found, writes report whether the primary accepted the write.
// Tier failures are logged and counted, never propagated.
type TieredStore struct {
	primary  Backend
	fallback *MemoryBackend
	log      *logger.Logger

	hits         atomic.Int64
	misses       atomic.Int64
	sets         atomic.Int64
	deletes      atomic.Int64
	errorCount   atomic.Int64
	fallbackHits atomic.Int64
	latencyNanos atomic.Int64
	reads        atomic.Int64

	cleanupInterval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// TieredOption configures a TieredStore.
type TieredOption func(*TieredStore)

// WithCleanupInterval overrides how often expired fallback entries are
// swept. Zero disables the sweep.
func WithCleanupInterval(interval time.Duration) TieredOption {
	return func(s *TieredStore) {
		s.cleanupInterval = interval
	}
}

// WithFallback replaces the fallback tier; used by tests to inject a
// backend with a frozen clock.
func WithFallback(fallback *MemoryBackend) TieredOption {
	return func(s *TieredStore) {
		s.fallback = fallback
	}
}

// NewTieredStore creates a dual-tier store over the given primary
// backend and starts the fallback cleanup sweep.
func NewTieredStore(primary Backend, log *logger.Logger, opts ...TieredOption) *TieredStore {
	s := &TieredStore{
		primary:         primary,
		fallback:        NewMemoryBackend(),
		log:             log.With(logger.Component("tiered_cache")),
		cleanupInterval: time.Minute,
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.cleanupInterval > 0 {
		s.wg.Add(1)
		go s.cleanupLoop()
	}

	return s
}

// cleanupLoop periodically sweeps expired entries out of the fallback.
func (s *TieredStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := s.fallback.Cleanup(); removed > 0 {
				s.log.Debug("swept expired fallback entries", logger.Int("removed", removed))
			}
		case <-s.stopCh:
			return
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// BYTE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetBytes retrieves the raw payload under key. The boolean reports
// whether a value was found in either tier; connectivity failures count
// as a miss.
func (s *TieredStore) GetBytes(ctx context.Context, key string) ([]byte, bool) {
	start := time.Now()
	defer func() {
		s.reads.Add(1)
		s.latencyNanos.Add(time.Since(start).Nanoseconds())
	}()

	data, err := s.primary.Get(ctx, key)
	if err == nil {
		s.hits.Add(1)
		return data, true
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.errorCount.Add(1)
		s.log.Warn("primary tier read failed, trying fallback",
			logger.String("cache_key", key),
			logger.Err(err))
	}

	data, err = s.fallback.Get(ctx, key)
	if err != nil {
		s.misses.Add(1)
		return nil, false
	}

	s.hits.Add(1)
	s.fallbackHits.Add(1)
	return data, true
}

// SetBytes stores the raw payload in both tiers. It returns true only
// when the primary accepted the write; a false return with a healthy
// fallback means the entry is cached locally but not shared.
func (s *TieredStore) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	s.sets.Add(1)

	primaryOK := true
	if err := s.primary.Set(ctx, key, value, ttl); err != nil {
		primaryOK = false
		s.errorCount.Add(1)
		s.log.Warn("primary tier write failed",
			logger.String("cache_key", key),
			logger.Err(err))
	}

	if err := s.fallback.Set(ctx, key, value, ttl); err != nil {
		s.errorCount.Add(1)
		s.log.Error("fallback tier write failed",
			logger.String("cache_key", key),
			logger.Err(err))
		return primaryOK
	}

	return primaryOK
}

// Get retrieves and JSON-decodes the value under key into dest.
func (s *TieredStore) Get(ctx context.Context, key string, dest any) bool {
	data, ok := s.GetBytes(ctx, key)
	if !ok {
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		s.errorCount.Add(1)
		s.log.Error("cached payload is not decodable, evicting",
			logger.String("cache_key", key),
			logger.Err(err))
		s.Delete(ctx, key)
		return false
	}
	return true
}

// Set JSON-encodes value and stores it in both tiers.
func (s *TieredStore) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	data, err := json.Marshal(value)
	if err != nil {
		s.errorCount.Add(1)
		s.log.Error("payload encoding failed",
			logger.String("cache_key", key),
			logger.Err(err))
		return false
	}
	return s.SetBytes(ctx, key, data, ttl)
}

// Delete removes key from both tiers, reporting whether either tier
// held it.
func (s *TieredStore) Delete(ctx context.Context, key string) bool {
	s.deletes.Add(1)

	primaryHad, err := s.primary.Delete(ctx, key)
	if err != nil {
		s.errorCount.Add(1)
		s.log.Warn("primary tier delete failed",
			logger.String("cache_key", key),
			logger.Err(err))
	}

	fallbackHad, _ := s.fallback.Delete(ctx, key)
	return primaryHad || fallbackHad
}

// DeletePattern removes all keys matching the glob pattern from both
// tiers and returns the larger of the two per-tier counts, which is the
// number of distinct logical entries invalidated when the tiers agree.
func (s *TieredStore) DeletePattern(ctx context.Context, pattern string) int {
	primaryCount, err := s.primary.DeletePattern(ctx, pattern)
	if err != nil {
		s.errorCount.Add(1)
		s.log.Warn("primary tier pattern delete failed",
			logger.String("pattern", pattern),
			logger.Err(err))
	}

	fallbackCount, _ := s.fallback.DeletePattern(ctx, pattern)

	if fallbackCount > primaryCount {
		return fallbackCount
	}
	return primaryCount
}

// ══════════════════════════════════════════════════════════════════════════════
// ANCILLARY AND BATCH OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Exists reports whether key lives in either tier. A primary failure or
// a clean primary miss both fall through to the fallback, matching the
// read path: an entry written during an outage exists only there.
func (s *TieredStore) Exists(ctx context.Context, key string) bool {
	found, err := s.primary.Exists(ctx, key)
	if err != nil {
		s.errorCount.Add(1)
		s.log.Warn("primary tier exists check failed, trying fallback",
			logger.String("cache_key", key),
			logger.Err(err))
	} else if found {
		return true
	}

	found, err = s.fallback.Exists(ctx, key)
	return err == nil && found
}

// Expire replaces the TTL of key in both tiers, reporting whether
// either tier held it.
func (s *TieredStore) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	primaryHad, err := s.primary.Expire(ctx, key, ttl)
	if err != nil {
		s.errorCount.Add(1)
		s.log.Warn("primary tier expire failed",
			logger.String("cache_key", key),
			logger.Err(err))
	}

	fallbackHad, _ := s.fallback.Expire(ctx, key, ttl)
	return primaryHad || fallbackHad
}

// MGet retrieves the payloads for keys, preserving order; a nil element
// marks a key missing from both tiers. Any key missing from the batched
// primary response gets a per-key fallback lookup, so a batch degrades
// key by key instead of all or nothing.
func (s *TieredStore) MGet(ctx context.Context, keys []string) [][]byte {
	start := time.Now()
	defer func() {
		s.reads.Add(int64(len(keys)))
		s.latencyNanos.Add(time.Since(start).Nanoseconds())
	}()

	results, err := s.primary.MGet(ctx, keys)
	if err != nil || len(results) != len(keys) {
		if err != nil {
			s.errorCount.Add(1)
			s.log.Warn("primary tier batch read failed, trying fallback",
				logger.Int("keys", len(keys)),
				logger.Err(err))
		}
		results = make([][]byte, len(keys))
	}

	for i, data := range results {
		if data != nil {
			s.hits.Add(1)
			continue
		}
		fb, ferr := s.fallback.Get(ctx, keys[i])
		if ferr != nil {
			s.misses.Add(1)
			continue
		}
		results[i] = fb
		s.hits.Add(1)
		s.fallbackHits.Add(1)
	}

	return results
}

// MSet stores all entries in both tiers. Like SetBytes it returns true
// only when the primary accepted the batch; the fallback keeps its copy
// either way.
func (s *TieredStore) MSet(ctx context.Context, entries []Entry) bool {
	s.sets.Add(int64(len(entries)))

	primaryOK := true
	if err := s.primary.MSet(ctx, entries); err != nil {
		primaryOK = false
		s.errorCount.Add(1)
		s.log.Warn("primary tier batch write failed",
			logger.Int("entries", len(entries)),
			logger.Err(err))
	}

	if err := s.fallback.MSet(ctx, entries); err != nil {
		s.errorCount.Add(1)
		s.log.Error("fallback tier batch write failed",
			logger.Int("entries", len(entries)),
			logger.Err(err))
	}

	return primaryOK
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND METRICS
// ══════════════════════════════════════════════════════════════════════════════

// PrimaryHealth describes the primary tier's reachability.
type PrimaryHealth struct {
	Name      string        `json:"name"`
	Connected bool          `json:"connected"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

// FallbackHealth describes the in-process tier.
type FallbackHealth struct {
	Size        int  `json:"size"`
	Operational bool `json:"operational"`
}

// HealthReport is the point-in-time state of both tiers.
type HealthReport struct {
	Primary  PrimaryHealth  `json:"primary"`
	Fallback FallbackHealth `json:"fallback"`
	Degraded bool           `json:"degraded"`
}

// HealthCheck probes both tiers. It never fails: an unreachable primary
// is reported as degraded, not as an error.
func (s *TieredStore) HealthCheck(ctx context.Context) HealthReport {
	report := HealthReport{
		Primary: PrimaryHealth{Name: s.primary.Name()},
		Fallback: FallbackHealth{
			Size:        s.fallback.Size(),
			Operational: true,
		},
	}

	start := time.Now()
	if err := s.primary.Ping(ctx); err != nil {
		report.Primary.Error = err.Error()
		report.Degraded = true
	} else {
		report.Primary.Connected = true
	}
	report.Primary.Latency = time.Since(start)

	return report
}

// StoreMetrics is a point-in-time snapshot of the store's counters.
type StoreMetrics struct {
	Hits         int64         `json:"hits"`
	Misses       int64         `json:"misses"`
	Sets         int64         `json:"sets"`
	Deletes      int64         `json:"deletes"`
	Errors       int64         `json:"errors"`
	FallbackHits int64         `json:"fallbackHits"`
	HitRate      float64       `json:"hitRate"`
	AvgLatency   time.Duration `json:"avgLatency"`
}

// Metrics returns a snapshot of the store's counters since start.
func (s *TieredStore) Metrics() StoreMetrics {
	m := StoreMetrics{
		Hits:         s.hits.Load(),
		Misses:       s.misses.Load(),
		Sets:         s.sets.Load(),
		Deletes:      s.deletes.Load(),
		Errors:       s.errorCount.Load(),
		FallbackHits: s.fallbackHits.Load(),
	}

	if total := m.Hits + m.Misses; total > 0 {
		m.HitRate = float64(m.Hits) / float64(total)
	}
	if reads := s.reads.Load(); reads > 0 {
		m.AvgLatency = time.Duration(s.latencyNanos.Load() / reads)
	}

	return m
}

// Close stops the cleanup sweep and releases both tiers.
func (s *TieredStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()

	err := s.primary.Close()
	if ferr := s.fallback.Close(); err == nil {
		err = ferr
	}
	return err
}
