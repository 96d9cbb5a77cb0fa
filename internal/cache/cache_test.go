package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := NewRedisCache(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

type scoreEntry struct {
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`
}

func TestRedisCache_JSONRoundTripAndTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	in := scoreEntry{Score: 90, Reasons: []string{"Property type matches (villa)"}}
	require.NoError(t, SetJSON(ctx, c, "score:p1:c1", in, time.Minute))

	var out scoreEntry
	require.NoError(t, GetJSON(ctx, c, "score:p1:c1", &out))
	assert.Equal(t, in, out)

	mr.FastForward(2 * time.Minute)
	err := GetJSON(ctx, c, "score:p1:c1", &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisCache_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	require.NoError(t, c.Set(ctx, "score:p1:c1", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "score:p2:c1", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "other", []byte("3"), 0))

	require.NoError(t, c.DeletePrefix(ctx, "score:"))

	assert.False(t, mr.Exists("score:p1:c1"))
	assert.False(t, mr.Exists("score:p2:c1"))
	assert.True(t, mr.Exists("other"))

	require.NoError(t, c.Delete(ctx, "other"))
	_, err := c.Get(ctx, "other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisCache(context.Background(), addr, "", 0)
	assert.Error(t, err)
}

func TestInMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "score:a", []byte("a"), time.Minute))
	require.NoError(t, c.Set(ctx, "score:b", []byte("b"), 0))
	require.NoError(t, c.Set(ctx, "keep", []byte("k"), 0))

	v, err := c.Get(ctx, "score:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), v)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, "score:a")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Get(ctx, "score:b")
	require.NoError(t, err)

	require.NoError(t, c.DeletePrefix(ctx, "score:"))
	_, err = c.Get(ctx, "score:b")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Get(ctx, "keep")
	assert.NoError(t, err)
}
