package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// RedisConfig holds the primary store connection configuration.
type RedisConfig struct {
	// Host is the Redis server hostname.
	Host string

	// Port is the Redis server port.
	Port int

	// Password is the Redis authentication password (empty if no auth).
	Password string

	// DB is the Redis database number (0-15).
	DB int

	// KeyPrefix namespaces every key written by this deployment, so one
	// Redis instance can serve multiple tenants of the dashboard.
	KeyPrefix string

	// PoolSize is the maximum number of socket connections.
	PoolSize int

	// MinIdleConns is the minimum number of idle connections.
	MinIdleConns int

	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration

	// ReadTimeout is the timeout for socket reads.
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for socket writes.
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns defaults suitable for local development.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Host:         "localhost",
		Port:         6379,
		Password:     "",
		DB:           0,
		KeyPrefix:    "rankinghub",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Addr returns the Redis address in "host:port" format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS BACKEND
// ══════════════════════════════════════════════════════════════════════════════

// RedisBackend is the distributed primary tier. A failed connection is
// not fatal at construction time: the TieredStore degrades to the
// fallback tier and keeps probing the primary on subsequent operations.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates the primary tier for the given configuration.
// It never dials eagerly; use Ping to probe the connection.
func NewRedisBackend(cfg RedisConfig) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	prefix := cfg.KeyPrefix
	if prefix != "" {
		prefix += ":"
	}

	return &RedisBackend{client: client, prefix: prefix}
}

// key applies the deployment prefix.
func (r *RedisBackend) key(key string) string {
	return r.prefix + key
}

// Get retrieves the payload stored under key.
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrCacheKeyEmpty
	}

	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return data, nil
}

// Set stores the payload under key with the given TTL.
func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	if ttl < 0 {
		return ErrCacheInvalidTTL
	}

	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return nil
}

// Delete removes key, reporting whether it was present.
func (r *RedisBackend) Delete(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrCacheKeyEmpty
	}

	count, err := r.client.Del(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return count > 0, nil
}

// Exists reports whether key is present.
func (r *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrCacheKeyEmpty
	}

	count, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return count > 0, nil
}

// Expire replaces the TTL of an existing key.
func (r *RedisBackend) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrCacheKeyEmpty
	}
	if ttl < 0 {
		return false, ErrCacheInvalidTTL
	}

	ok, err := r.client.Expire(ctx, r.key(key), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return ok, nil
}

// MGet retrieves payloads for keys in one round trip, preserving order.
func (r *RedisBackend) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = r.key(k)
	}

	values, err := r.client.MGet(ctx, prefixed...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}

	result := make([][]byte, len(keys))
	for i, v := range values {
		if s, ok := v.(string); ok {
			result[i] = []byte(s)
		}
	}
	return result, nil
}

// MSet stores all entries through a pipeline, so each key keeps its own
// TTL.
func (r *RedisBackend) MSet(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, e := range entries {
		if e.Key == "" {
			continue
		}
		pipe.Set(ctx, r.key(e.Key), e.Value, e.TTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return nil
}

// DeletePattern removes all keys matching the glob pattern using SCAN,
// deleting in batches of 100.
func (r *RedisBackend) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		return 0, ErrCacheKeyEmpty
	}

	iter := r.client.Scan(ctx, 0, r.key(pattern), 100).Iterator()
	deleted := 0
	var batch []string

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		count, err := r.client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		deleted += int(count)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := flush(); err != nil {
				return deleted, fmt.Errorf("%w: %v", ErrCacheConnection, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	if err := flush(); err != nil {
		return deleted, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}

	return deleted, nil
}

// Ping probes the connection.
func (r *RedisBackend) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return nil
}

// Name identifies this tier.
func (r *RedisBackend) Name() string {
	return "redis"
}

// Close closes the Redis connection.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
