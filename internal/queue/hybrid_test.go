package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newHybrid(t *testing.T, maxSize int) (*HybridQueue, *flakyStore) {
	t.Helper()
	st, _ := newRedisStore(t)
	flaky := &flakyStore{Store: st}
	q, err := NewHybridQueue("hybrid", flaky, zap.NewNop(), HybridOptions{
		MaxSize:           maxSize,
		MemoryRatio:       0.2,
		RebalanceInterval: 20 * time.Millisecond,
		ItemTTL:           time.Hour,
		KeyPrefix:         "test",
	})
	require.NoError(t, err)
	return q, flaky
}

func TestNewHybridQueue_SplitsCapacity(t *testing.T) {
	q, _ := newHybrid(t, 10)
	assert.Equal(t, 2, q.Hot().MaxSize())
	assert.Equal(t, 8, q.Cold().MaxSize())

	_, err := NewHybridQueue("tiny", nil, zap.NewNop(), HybridOptions{MaxSize: 1})
	assert.Error(t, err)
}

func TestHybridQueue_PushSpillsToColdAndPopIsGloballyOrdered(t *testing.T) {
	q, _ := newHybrid(t, 10)
	ctx := context.Background()

	// 前两个低优先级元素占满热层，之后的高优先级元素只能进冷层
	require.True(t, q.Push(ctx, newItem("low-1", 3, 1)))
	require.True(t, q.Push(ctx, newItem("low-2", 3, 2)))
	require.True(t, q.Push(ctx, newItem("mid", 1, 3)))
	require.True(t, q.Push(ctx, newItem("mid-2", 2, 4)))
	require.True(t, q.Push(ctx, newItem("urgent", 0, 5)))

	assert.Equal(t, 2, q.Hot().Size(ctx))
	assert.Equal(t, 3, q.Cold().Size(ctx))

	head, ok := q.Peek(ctx)
	require.True(t, ok)
	assert.Equal(t, "urgent", head.ID)
	assert.Equal(t, 5, q.Size(ctx), "Peek 不修改任何一层")

	assert.Equal(t, []string{"urgent", "mid", "mid-2", "low-1", "low-2"}, popIDs(t, q))
}

func TestHybridQueue_RejectsWhenBothTiersFull(t *testing.T) {
	q, _ := newHybrid(t, 5) // hot=1, cold=4
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, q.Push(ctx, newItem(fmt.Sprintf("i%d", i), 1, i)))
	}
	assert.False(t, q.Push(ctx, newItem("overflow", 0, 9)))
	assert.Equal(t, 5, q.Size(ctx))
	assert.False(t, q.Push(ctx, newItem("i0", 1, 10)), "重复 id 应被拒绝")
}

func TestHybridQueue_RebalancePromotesInOrder(t *testing.T) {
	q, _ := newHybrid(t, 10)
	ctx := context.Background()

	ids := []string{"a", "b", "c", "d", "e", "f"}
	for i, id := range ids {
		require.True(t, q.Push(ctx, newItem(id, 1, i)))
	}
	require.Equal(t, 2, q.Hot().Size(ctx))
	require.Equal(t, 4, q.Cold().Size(ctx))

	// 弹出热层元素腾出空间
	for _, want := range []string{"a", "b"} {
		item, ok := q.Pop(ctx)
		require.True(t, ok)
		assert.Equal(t, want, item.ID)
	}
	assert.Equal(t, 0, q.Hot().Size(ctx))

	moved := q.Rebalance(ctx)
	assert.Equal(t, 2, moved)
	assert.Equal(t, 2, q.Hot().Size(ctx), "热层应达到目标占用")
	assert.Equal(t, 2, q.Cold().Size(ctx))

	hotHead, ok := q.Hot().Peek(ctx)
	require.True(t, ok)
	assert.Equal(t, "c", hotHead.ID)
	coldHead, ok := q.Cold().Peek(ctx)
	require.True(t, ok)
	assert.Equal(t, "e", coldHead.ID)

	assert.Equal(t, []string{"c", "d", "e", "f"}, popIDs(t, q))

	stats := q.Stats(ctx)
	assert.GreaterOrEqual(t, stats.Promoted, uint64(2))
	assert.Equal(t, uint64(6), stats.Pushed)
}

func TestHybridQueue_RebalanceStopsWhenColdExhausted(t *testing.T) {
	q, _ := newHybrid(t, 10)
	ctx := context.Background()

	assert.Equal(t, 0, q.Rebalance(ctx))

	require.True(t, q.Push(ctx, newItem("a", 1, 1)))
	require.True(t, q.Push(ctx, newItem("b", 1, 2)))
	require.True(t, q.Push(ctx, newItem("c", 1, 3)))
	q.Hot().Clear(ctx)

	assert.Equal(t, 1, q.Rebalance(ctx))
	assert.Equal(t, 1, q.Hot().Size(ctx))
	assert.Equal(t, 0, q.Cold().Size(ctx))
}

func TestHybridQueue_BackgroundRebalance(t *testing.T) {
	q, _ := newHybrid(t, 10)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c", "d"} {
		require.True(t, q.Push(ctx, newItem(id, 1, i)))
	}

	require.NoError(t, q.Start(ctx))
	defer q.Stop()
	assert.Error(t, q.Start(ctx), "重复启动应报错")

	_, ok := q.Pop(ctx)
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		return q.Hot().Size(ctx) == 2 && q.Cold().Size(ctx) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHybridQueue_ColdOutageFallsBackToHot(t *testing.T) {
	q, flaky := newHybrid(t, 10)
	ctx := context.Background()

	require.True(t, q.Push(ctx, newItem("a", 1, 1)))
	require.True(t, q.Push(ctx, newItem("b", 1, 2)))
	require.True(t, q.Push(ctx, newItem("c", 0, 3))) // 冷层

	flaky.down.Store(true)
	assert.False(t, q.Push(ctx, newItem("d", 1, 4)), "热层已满且冷层不可用")

	item, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", item.ID, "冷层不可达时退化为热层")
	assert.Greater(t, q.Stats(ctx).BackendErrors, uint64(0))

	flaky.down.Store(false)
	item, ok = q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "c", item.ID)
}

func TestHybridQueue_PeekReturnsCopy(t *testing.T) {
	q, _ := newHybrid(t, 10)
	ctx := context.Background()

	require.True(t, q.Push(ctx, newItem("a", 1, 1)))
	require.True(t, q.Push(ctx, newItem("b", 2, 2)))

	head, ok := q.Peek(ctx)
	require.True(t, ok)
	require.Equal(t, "a", head.ID)
	head.Priority = 4

	again, ok := q.Peek(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", again.ID)
	assert.Equal(t, 1, again.Priority)
}
