package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamifyhub/ranking-hub/pkg/logger"
)

// flakyBackend wraps a MemoryBackend with a switchable outage, standing
// in for an unreachable Redis.
type flakyBackend struct {
	*MemoryBackend
	down bool
}

func (f *flakyBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if f.down {
		return nil, ErrCacheConnection
	}
	return f.MemoryBackend.Get(ctx, key)
}

func (f *flakyBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.down {
		return ErrCacheConnection
	}
	return f.MemoryBackend.Set(ctx, key, value, ttl)
}

func (f *flakyBackend) Delete(ctx context.Context, key string) (bool, error) {
	if f.down {
		return false, ErrCacheConnection
	}
	return f.MemoryBackend.Delete(ctx, key)
}

func (f *flakyBackend) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if f.down {
		return 0, ErrCacheConnection
	}
	return f.MemoryBackend.DeletePattern(ctx, pattern)
}

func (f *flakyBackend) Exists(ctx context.Context, key string) (bool, error) {
	if f.down {
		return false, ErrCacheConnection
	}
	return f.MemoryBackend.Exists(ctx, key)
}

func (f *flakyBackend) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if f.down {
		return false, ErrCacheConnection
	}
	return f.MemoryBackend.Expire(ctx, key, ttl)
}

func (f *flakyBackend) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	if f.down {
		return nil, ErrCacheConnection
	}
	return f.MemoryBackend.MGet(ctx, keys)
}

func (f *flakyBackend) MSet(ctx context.Context, entries []Entry) error {
	if f.down {
		return ErrCacheConnection
	}
	return f.MemoryBackend.MSet(ctx, entries)
}

func (f *flakyBackend) Ping(ctx context.Context) error {
	if f.down {
		return ErrCacheConnection
	}
	return nil
}

func (f *flakyBackend) Name() string {
	return "flaky"
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{Output: io.Discard, Level: logger.LevelFatal})
}

func newTestTieredStore(t *testing.T) (*TieredStore, *flakyBackend) {
	t.Helper()
	primary := &flakyBackend{MemoryBackend: NewMemoryBackend()}
	store := NewTieredStore(primary, testLogger(), WithCleanupInterval(0))
	t.Cleanup(func() { store.Close() })
	return store, primary
}

func TestTieredStore_RoundTrip(t *testing.T) {
	store, _ := newTestTieredStore(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	ok := store.Set(ctx, "k", payload{Name: "ana", Count: 3}, time.Minute)
	require.True(t, ok)

	var got payload
	require.True(t, store.Get(ctx, "k", &got))
	assert.Equal(t, payload{Name: "ana", Count: 3}, got)
}

func TestTieredStore_MissIsNotAnError(t *testing.T) {
	store, _ := newTestTieredStore(t)

	var dest string
	found := store.Get(context.Background(), "absent", &dest)

	assert.False(t, found)
}

func TestTieredStore_FallbackServesDuringPrimaryOutage(t *testing.T) {
	store, primary := newTestTieredStore(t)
	ctx := context.Background()

	require.True(t, store.SetBytes(ctx, "k", []byte("v"), time.Minute))

	primary.down = true

	data, found := store.GetBytes(ctx, "k")
	assert.True(t, found, "fallback must serve while the primary is down")
	assert.Equal(t, []byte("v"), data)
}

func TestTieredStore_SetReportsPrimaryFailure(t *testing.T) {
	store, primary := newTestTieredStore(t)
	ctx := context.Background()

	primary.down = true

	ok := store.SetBytes(ctx, "k", []byte("v"), time.Minute)
	assert.False(t, ok, "a fallback-only write must report false")

	// The entry is still cached locally.
	data, found := store.GetBytes(ctx, "k")
	assert.True(t, found)
	assert.Equal(t, []byte("v"), data)
}

func TestTieredStore_EntriesWrittenDuringOutageOutliveIt(t *testing.T) {
	store, primary := newTestTieredStore(t)
	ctx := context.Background()

	primary.down = true
	store.SetBytes(ctx, "k", []byte("v"), time.Minute)
	primary.down = false

	// A clean primary miss must still fall through to the fallback.
	_, found := store.GetBytes(ctx, "k")
	assert.True(t, found)
}

func TestTieredStore_DeleteRemovesFromBothTiers(t *testing.T) {
	store, primary := newTestTieredStore(t)
	ctx := context.Background()

	store.SetBytes(ctx, "k", []byte("v"), time.Minute)

	assert.True(t, store.Delete(ctx, "k"))

	_, err := primary.MemoryBackend.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, found := store.GetBytes(ctx, "k")
	assert.False(t, found)
}

func TestTieredStore_UndecodablePayloadIsEvicted(t *testing.T) {
	store, _ := newTestTieredStore(t)
	ctx := context.Background()

	store.SetBytes(ctx, "k", []byte("{not json"), time.Minute)

	var dest map[string]any
	assert.False(t, store.Get(ctx, "k", &dest))

	_, found := store.GetBytes(ctx, "k")
	assert.False(t, found, "a corrupt entry must not be served twice")
}

func TestTieredStore_ExistsFallsThroughTiers(t *testing.T) {
	store, primary := newTestTieredStore(t)
	ctx := context.Background()

	assert.False(t, store.Exists(ctx, "absent"))

	store.SetBytes(ctx, "shared", []byte("v"), time.Minute)
	assert.True(t, store.Exists(ctx, "shared"))

	// An entry written during an outage exists only in the fallback; a
	// clean primary miss must still find it.
	primary.down = true
	store.SetBytes(ctx, "local", []byte("v"), time.Minute)
	primary.down = false
	assert.True(t, store.Exists(ctx, "local"))

	primary.down = true
	assert.True(t, store.Exists(ctx, "shared"), "the fallback must answer while the primary is down")
}

func TestTieredStore_ExpireReportsPresence(t *testing.T) {
	store, primary := newTestTieredStore(t)
	ctx := context.Background()

	assert.False(t, store.Expire(ctx, "absent", time.Minute))

	store.SetBytes(ctx, "k", []byte("v"), time.Minute)
	assert.True(t, store.Expire(ctx, "k", time.Hour))

	// A primary outage must not hide the fallback's copy.
	primary.down = true
	assert.True(t, store.Expire(ctx, "k", time.Hour))
}

func TestTieredStore_MGetFillsPrimaryGapsFromFallback(t *testing.T) {
	store, primary := newTestTieredStore(t)
	ctx := context.Background()

	store.SetBytes(ctx, "k1", []byte("v1"), time.Minute)

	// k2 lands only in the fallback.
	primary.down = true
	store.SetBytes(ctx, "k2", []byte("v2"), time.Minute)
	primary.down = false

	results := store.MGet(ctx, []string{"k1", "k2", "absent"})

	require.Len(t, results, 3)
	assert.Equal(t, []byte("v1"), results[0])
	assert.Equal(t, []byte("v2"), results[1], "a key missing from the primary batch gets a per-key fallback lookup")
	assert.Nil(t, results[2])

	m := store.Metrics()
	assert.Equal(t, int64(1), m.FallbackHits)
	assert.Equal(t, int64(1), m.Misses)
}

func TestTieredStore_MGetDuringPrimaryOutage(t *testing.T) {
	store, primary := newTestTieredStore(t)
	ctx := context.Background()

	store.SetBytes(ctx, "k1", []byte("v1"), time.Minute)
	store.SetBytes(ctx, "k2", []byte("v2"), time.Minute)

	primary.down = true
	results := store.MGet(ctx, []string{"k1", "k2"})

	require.Len(t, results, 2)
	assert.Equal(t, []byte("v1"), results[0])
	assert.Equal(t, []byte("v2"), results[1])
}

func TestTieredStore_MSetWritesBothTiers(t *testing.T) {
	store, primary := newTestTieredStore(t)
	ctx := context.Background()

	ok := store.MSet(ctx, []Entry{
		{Key: "k1", Value: []byte("v1"), TTL: time.Minute},
		{Key: "k2", Value: []byte("v2"), TTL: time.Minute},
	})
	require.True(t, ok)

	data, err := primary.MemoryBackend.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), data)

	primary.down = true
	data, found := store.GetBytes(ctx, "k2")
	assert.True(t, found)
	assert.Equal(t, []byte("v2"), data)
}

func TestTieredStore_MSetReportsPrimaryFailure(t *testing.T) {
	store, primary := newTestTieredStore(t)
	ctx := context.Background()

	primary.down = true
	ok := store.MSet(ctx, []Entry{{Key: "k", Value: []byte("v"), TTL: time.Minute}})
	assert.False(t, ok, "a fallback-only batch must report false")

	data, found := store.GetBytes(ctx, "k")
	assert.True(t, found)
	assert.Equal(t, []byte("v"), data)
}

func TestTieredStore_HealthCheck(t *testing.T) {
	store, primary := newTestTieredStore(t)
	ctx := context.Background()

	report := store.HealthCheck(ctx)
	assert.True(t, report.Primary.Connected)
	assert.False(t, report.Degraded)
	assert.True(t, report.Fallback.Operational)

	primary.down = true

	report = store.HealthCheck(ctx)
	assert.False(t, report.Primary.Connected)
	assert.True(t, report.Degraded)
	assert.NotEmpty(t, report.Primary.Error)
	assert.True(t, report.Fallback.Operational, "the fallback stays operational through a primary outage")
}

func TestTieredStore_MetricsCounters(t *testing.T) {
	store, _ := newTestTieredStore(t)
	ctx := context.Background()

	store.SetBytes(ctx, "k", []byte("v"), time.Minute)
	store.GetBytes(ctx, "k")
	store.GetBytes(ctx, "absent")
	store.Delete(ctx, "k")

	m := store.Metrics()
	assert.Equal(t, int64(1), m.Hits)
	assert.Equal(t, int64(1), m.Misses)
	assert.Equal(t, int64(1), m.Sets)
	assert.Equal(t, int64(1), m.Deletes)
	assert.InDelta(t, 0.5, m.HitRate, 0.001)
}

func TestTieredStore_FallbackHitCounted(t *testing.T) {
	store, primary := newTestTieredStore(t)
	ctx := context.Background()

	store.SetBytes(ctx, "k", []byte("v"), time.Minute)
	primary.down = true
	store.GetBytes(ctx, "k")

	m := store.Metrics()
	assert.Equal(t, int64(1), m.FallbackHits)
	assert.GreaterOrEqual(t, m.Errors, int64(1))
}
