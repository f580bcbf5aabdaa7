package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisRangeCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRangeCache(client, "test", time.Minute), mr
}

func TestRedisRangeCache_MissThenHit(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, gen, ok, err := c.Get(ctx, "p1", "2024-04-01..2024-04-30")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "p1", gen, "2024-04-01..2024-04-30", []byte(`[]`)))
	b, _, ok, err := c.Get(ctx, "p1", "2024-04-01..2024-04-30")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[]`, string(b))
}

func TestRedisRangeCache_InvalidateDropsScopeOnly(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "p1", 0, "k", []byte("one")))
	require.NoError(t, c.Set(ctx, "p2", 0, "k", []byte("two")))
	require.NoError(t, c.Invalidate(ctx, "p1"))

	_, gen, ok, err := c.Get(ctx, "p1", "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), gen)

	b, _, ok, err := c.Get(ctx, "p2", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", string(b))
}

func TestRedisRangeCache_EntriesExpire(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "p1", 0, "k", []byte("v")))
	mr.FastForward(2 * time.Minute)

	_, _, ok, err := c.Get(ctx, "p1", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisRangeCache_ServerDown(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Close()

	_, _, _, err := c.Get(context.Background(), "p1", "k")
	assert.Error(t, err)
}

func TestRedisRangeCache_FillAfterInvalidateIsDropped(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	// A reader takes the generation, a writer invalidates, then the reader
	// fills with what it read before the write.
	_, gen, ok, err := c.Get(ctx, "p1", "k")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, c.Invalidate(ctx, "p1"))
	require.NoError(t, c.Set(ctx, "p1", gen, "k", []byte("old")))

	_, _, ok, err = c.Get(ctx, "p1", "k")
	require.NoError(t, err)
	assert.False(t, ok, "fill from before the invalidation must not be visible")
}
