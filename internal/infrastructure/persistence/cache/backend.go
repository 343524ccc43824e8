// Package cache implements the tiered key-value cache for the Ranking Hub:
// a Redis-backed primary store, an in-process fallback store that keeps
// serving when Redis is unreachable, and the semantic ranking cache built
// on top of them.
//
// Key components:
//   - Backend: the storage contract shared by both tiers
//   - RedisBackend: the distributed primary tier
//   - MemoryBackend: the in-process fallback tier
//   - TieredStore: dual-tier composition with silent degradation
//   - RankingCache: category-keyed caching of ranking artifacts
package cache

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrCacheMiss is returned when the requested key is not found.
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrCacheConnection is returned when the backend is unreachable.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheSerialization is returned when encoding or decoding fails.
	ErrCacheSerialization = errors.New("cache: serialization failed")

	// ErrCacheInvalidTTL is returned when a negative TTL is provided.
	ErrCacheInvalidTTL = errors.New("cache: invalid TTL")

	// ErrCacheKeyEmpty is returned when an empty key is provided.
	ErrCacheKeyEmpty = errors.New("cache: key cannot be empty")
)

// ══════════════════════════════════════════════════════════════════════════════
// BACKEND CONTRACT
// ══════════════════════════════════════════════════════════════════════════════

// Entry is one key-value pair for batched writes.
type Entry struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// Backend is the storage contract shared by both cache tiers. Backends
// store opaque byte payloads; serialization is the TieredStore's concern.
//
// Get returns ErrCacheMiss for an absent or expired key and a distinct
// error for an unreachable store, so the caller can tell a clean miss
// from a tier failure.
type Backend interface {
	// Get retrieves the payload stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores the payload under key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key, reporting whether it was present.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Expire replaces the TTL of an existing key, reporting whether the
	// key was present.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// MGet retrieves payloads for keys, preserving order; a nil element
	// marks a miss.
	MGet(ctx context.Context, keys []string) ([][]byte, error)

	// MSet stores all entries.
	MSet(ctx context.Context, entries []Entry) error

	// DeletePattern removes all keys matching the glob pattern and
	// returns the number deleted.
	DeletePattern(ctx context.Context, pattern string) (int, error)

	// Ping probes the store.
	Ping(ctx context.Context) error

	// Name identifies this tier in logs and health reports.
	Name() string

	// Close releases the backend's resources.
	Close() error
}

// ══════════════════════════════════════════════════════════════════════════════
// GLOB MATCHING
// ══════════════════════════════════════════════════════════════════════════════

// globToRegexp compiles a Redis-style glob ('*' and '?') into an
// anchored regular expression, so the in-process tier matches the same
// key sets as SCAN does on the primary.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
