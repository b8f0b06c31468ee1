package store

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb), mr
}

func TestRedisStore_GetSetDelete(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	_, found, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetWithTTL(ctx, "k1", "v1", time.Minute))
	v, found, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v1", v)
	assert.Equal(t, time.Minute, mr.TTL("k1"))

	mr.FastForward(2 * time.Minute)
	_, found, err = s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, found, "过期后应读取不到")

	require.NoError(t, s.SetWithTTL(ctx, "k2", "v2", 0))
	n, err := s.Delete(ctx, "k2", "nope")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisStore_Scan(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"q:item:a", "q:item:b", "other:c"} {
		require.NoError(t, s.SetWithTTL(ctx, k, "x", 0))
	}
	keys, err := s.Scan(ctx, "q:item:*")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"q:item:a", "q:item:b"}, keys)
}

func TestRedisStore_SortedIndexIsLexicographicAtEqualScore(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, m := range []string{"00002:b", "00001:z", "00001:a"} {
		require.NoError(t, s.ZAdd(ctx, "idx", m, 0))
	}
	members, err := s.ZRange(ctx, "idx", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"00001:a", "00001:z", "00002:b"}, members)

	n, err := s.ZRem(ctx, "idx", "00001:a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	card, err := s.ZCard(ctx, "idx")
	require.NoError(t, err)
	assert.Equal(t, int64(2), card)
}
