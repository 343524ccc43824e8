package cache

import (
	"context"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-PROCESS FALLBACK TIER
// ══════════════════════════════════════════════════════════════════════════════

// memoryEntry is one stored payload with its wall-clock expiry.
type memoryEntry struct {
	data      []byte
	storedAt  time.Time
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryBackend is the in-process fallback tier. It tracks per-entry
// expiry against the wall clock with the same contract as the primary
// tier: expiry is checked on read, and fully expired entries are only
// reclaimed by an explicit Cleanup sweep.
//
// All operations are safe for concurrent use.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	// now is the clock source; replaceable in tests.
	now func() time.Time
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get retrieves the payload stored under key. An expired entry is
// removed and reported as a miss.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrCacheKeyEmpty
	}

	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrCacheMiss
	}
	if entry.expired(m.now()) {
		m.mu.Lock()
		// Re-check under the write lock: a concurrent Set may have
		// replaced the entry since the read lock was dropped.
		if cur, ok := m.entries[key]; ok && cur.expired(m.now()) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, ErrCacheMiss
	}

	return entry.data, nil
}

// Set stores the payload under key. A zero TTL stores without expiry.
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	if ttl < 0 {
		return ErrCacheInvalidTTL
	}

	now := m.now()
	entry := memoryEntry{data: value, storedAt: now}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// Delete removes key, reporting whether an unexpired entry was present.
func (m *MemoryBackend) Delete(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrCacheKeyEmpty
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	delete(m.entries, key)
	return !entry.expired(m.now()), nil
}

// Exists reports whether key is present and unexpired.
func (m *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.Get(ctx, key)
	if err == nil {
		return true, nil
	}
	if err == ErrCacheMiss {
		return false, nil
	}
	return false, err
}

// Expire replaces the TTL of an existing unexpired key.
func (m *MemoryBackend) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrCacheKeyEmpty
	}
	if ttl < 0 {
		return false, ErrCacheInvalidTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || entry.expired(m.now()) {
		return false, nil
	}
	entry.expiresAt = m.now().Add(ttl)
	m.entries[key] = entry
	return true, nil
}

// MGet retrieves payloads for keys in order, nil marking each miss.
func (m *MemoryBackend) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	result := make([][]byte, len(keys))
	for i, key := range keys {
		data, err := m.Get(ctx, key)
		if err == nil {
			result[i] = data
		}
	}
	return result, nil
}

// MSet stores all entries.
func (m *MemoryBackend) MSet(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := m.Set(ctx, e.Key, e.Value, e.TTL); err != nil {
			return err
		}
	}
	return nil
}

// DeletePattern removes all keys matching the glob pattern.
func (m *MemoryBackend) DeletePattern(_ context.Context, pattern string) (int, error) {
	if pattern == "" {
		return 0, ErrCacheKeyEmpty
	}

	re, err := globToRegexp(pattern)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for key := range m.entries {
		if re.MatchString(key) {
			delete(m.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

// Cleanup sweeps out every fully expired entry and returns the number
// removed. The TieredStore runs this periodically to bound memory growth
// from abandoned keys.
func (m *MemoryBackend) Cleanup() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of stored entries, expired ones included.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Ping always succeeds: the in-process tier cannot be unreachable.
func (m *MemoryBackend) Ping(context.Context) error {
	return nil
}

// Name identifies this tier.
func (m *MemoryBackend) Name() string {
	return "memory"
}

// Close drops all entries.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}
