package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frozenClock drives a MemoryBackend's notion of time in tests.
type frozenClock struct {
	t time.Time
}

func (c *frozenClock) now() time.Time {
	return c.t
}

func (c *frozenClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestMemoryBackend() (*MemoryBackend, *frozenClock) {
	clock := &frozenClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	backend := NewMemoryBackend()
	backend.now = clock.now
	return backend, clock
}

func TestMemoryBackend_SetGetRoundTrip(t *testing.T) {
	backend, _ := newTestMemoryBackend()
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "k", []byte("payload"), time.Minute))

	data, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestMemoryBackend_GetMissingKey(t *testing.T) {
	backend, _ := newTestMemoryBackend()

	_, err := backend.Get(context.Background(), "absent")

	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryBackend_EmptyKeyRejected(t *testing.T) {
	backend, _ := newTestMemoryBackend()
	ctx := context.Background()

	_, err := backend.Get(ctx, "")
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)

	assert.ErrorIs(t, backend.Set(ctx, "", nil, 0), ErrCacheKeyEmpty)
}

func TestMemoryBackend_NegativeTTLRejected(t *testing.T) {
	backend, _ := newTestMemoryBackend()

	err := backend.Set(context.Background(), "k", []byte("v"), -time.Second)

	assert.ErrorIs(t, err, ErrCacheInvalidTTL)
}

func TestMemoryBackend_ExpiryOnRead(t *testing.T) {
	backend, clock := newTestMemoryBackend()
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "k", []byte("v"), time.Minute))

	clock.advance(59 * time.Second)
	_, err := backend.Get(ctx, "k")
	assert.NoError(t, err, "entry must still be live just before the TTL")

	clock.advance(2 * time.Second)
	_, err = backend.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss, "entry must be a miss after the TTL")
}

func TestMemoryBackend_ZeroTTLNeverExpires(t *testing.T) {
	backend, clock := newTestMemoryBackend()
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "k", []byte("v"), 0))

	clock.advance(24 * time.Hour)
	_, err := backend.Get(ctx, "k")
	assert.NoError(t, err)
}

func TestMemoryBackend_DeleteReportsPresence(t *testing.T) {
	backend, _ := newTestMemoryBackend()
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "k", []byte("v"), time.Minute))

	had, err := backend.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, had)

	had, err = backend.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, had)
}

func TestMemoryBackend_ExpireReplacesTTL(t *testing.T) {
	backend, clock := newTestMemoryBackend()
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "k", []byte("v"), time.Minute))

	ok, err := backend.Expire(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	clock.advance(30 * time.Minute)
	_, err = backend.Get(ctx, "k")
	assert.NoError(t, err, "extended TTL must apply")

	ok, err = backend.Expire(ctx, "absent", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryBackend_MGetPreservesOrderWithNilMisses(t *testing.T) {
	backend, _ := newTestMemoryBackend()
	ctx := context.Background()

	require.NoError(t, backend.MSet(ctx, []Entry{
		{Key: "a", Value: []byte("1"), TTL: time.Minute},
		{Key: "c", Value: []byte("3"), TTL: time.Minute},
	}))

	values, err := backend.MGet(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, []byte("1"), values[0])
	assert.Nil(t, values[1])
	assert.Equal(t, []byte("3"), values[2])
}

func TestMemoryBackend_DeletePattern(t *testing.T) {
	backend, _ := newTestMemoryBackend()
	ctx := context.Background()

	for _, key := range []string{"ranking:personal:lb1:p1", "ranking:personal:lb1:p2", "ranking:personal:lb2:p1"} {
		require.NoError(t, backend.Set(ctx, key, []byte("v"), time.Minute))
	}

	deleted, err := backend.DeletePattern(ctx, "ranking:personal:lb1:*")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, err = backend.Get(ctx, "ranking:personal:lb2:p1")
	assert.NoError(t, err, "keys outside the pattern must survive")
}

func TestMemoryBackend_CleanupSweepsOnlyExpired(t *testing.T) {
	backend, clock := newTestMemoryBackend()
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "short", []byte("v"), time.Minute))
	require.NoError(t, backend.Set(ctx, "long", []byte("v"), time.Hour))

	clock.advance(2 * time.Minute)
	removed := backend.Cleanup()

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, backend.Size())
}
