package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)

// newItem 构造时间戳确定的元素，n 越大越晚入队
func newItem(id string, priority, n int) *QueueItem {
	return &QueueItem{
		ID:        id,
		Payload:   []byte(id),
		Priority:  priority,
		Timestamp: baseTime.Add(time.Duration(n) * time.Millisecond),
	}
}

func popIDs(t *testing.T, q Queue) []string {
	t.Helper()
	ctx := context.Background()
	var ids []string
	for {
		item, ok := q.Pop(ctx)
		if !ok {
			return ids
		}
		ids = append(ids, item.ID)
	}
}

func TestMemoryQueue_PriorityBeforeFIFO(t *testing.T) {
	q := NewMemoryQueue("mem", 0)
	ctx := context.Background()

	// 先推低优先级，再推两个高优先级
	require.True(t, q.Push(ctx, newItem("p2-first", 2, 1)))
	require.True(t, q.Push(ctx, newItem("p1-second", 1, 2)))
	require.True(t, q.Push(ctx, newItem("p1-third", 1, 3)))

	assert.Equal(t, []string{"p1-second", "p1-third", "p2-first"}, popIDs(t, q))
}

func TestMemoryQueue_FIFOWithIdenticalTimestamps(t *testing.T) {
	q := NewMemoryQueue("mem", 0)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		item := newItem(fmt.Sprintf("item-%02d", i), 1, 0)
		require.True(t, q.Push(ctx, item))
	}

	ids := popIDs(t, q)
	require.Len(t, ids, 20)
	for i, id := range ids {
		assert.Equal(t, fmt.Sprintf("item-%02d", i), id)
	}
}

func TestMemoryQueue_DuplicateRejected(t *testing.T) {
	q := NewMemoryQueue("mem", 0)
	ctx := context.Background()

	assert.True(t, q.Push(ctx, newItem("dup", 1, 1)))
	assert.False(t, q.Push(ctx, newItem("dup", 0, 2)))
	assert.Equal(t, 1, q.Size(ctx))

	// 出队后同 id 可以再次入队
	_, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.True(t, q.Push(ctx, newItem("dup", 1, 3)))
}

func TestMemoryQueue_NeverExceedsMaxSize(t *testing.T) {
	q := NewMemoryQueue("mem", 2)
	ctx := context.Background()

	require.True(t, q.Push(ctx, newItem("a", 1, 1)))
	require.True(t, q.Push(ctx, newItem("b", 1, 2)))
	assert.False(t, q.Push(ctx, newItem("c", 0, 3)))
	assert.Equal(t, 2, q.Size(ctx))
	assert.Equal(t, uint64(1), q.Stats(ctx).Rejected)
}

func TestMemoryQueue_PeekDoesNotRemove(t *testing.T) {
	q := NewMemoryQueue("mem", 0)
	ctx := context.Background()

	_, ok := q.Peek(ctx)
	assert.False(t, ok)

	require.True(t, q.Push(ctx, newItem("b", 2, 1)))
	require.True(t, q.Push(ctx, newItem("a", 1, 2)))

	head, ok := q.Peek(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", head.ID)
	assert.Equal(t, 2, q.Size(ctx))
}

func TestMemoryQueue_RemoveAndClear(t *testing.T) {
	q := NewMemoryQueue("mem", 0)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		require.True(t, q.Push(ctx, newItem(id, 1, i)))
	}
	assert.True(t, q.Remove("b"))
	assert.False(t, q.Remove("b"))
	assert.False(t, q.Contains("b"))
	assert.Equal(t, []string{"a", "c"}, popIDs(t, q))

	require.True(t, q.Push(ctx, newItem("d", 1, 4)))
	q.Clear(ctx)
	assert.Equal(t, 0, q.Size(ctx))
	assert.False(t, q.Contains("d"))
}

func TestEncodeMember_OrdersLexicographically(t *testing.T) {
	a, err := encodeMember(1, baseTime, 1, "a")
	require.NoError(t, err)
	b, err := encodeMember(1, baseTime.Add(time.Nanosecond), 0, "b")
	require.NoError(t, err)
	c, err := encodeMember(2, baseTime.Add(-time.Hour), 0, "c")
	require.NoError(t, err)
	neg, err := encodeMember(-5, baseTime.Add(time.Hour), 0, "neg")
	require.NoError(t, err)

	assert.Less(t, neg, a)
	assert.Less(t, a, b)
	assert.Less(t, b, c)

	id, err := decodeMemberID(a)
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	_, err = encodeMember(1<<40, baseTime, 0, "huge")
	assert.Error(t, err)
}

func TestMemoryQueue_CallerMutationsDoNotReorder(t *testing.T) {
	q := NewMemoryQueue("mem", 0)
	ctx := context.Background()

	first := newItem("a", 1, 1)
	require.True(t, q.Push(ctx, first))
	require.True(t, q.Push(ctx, newItem("b", 2, 2)))

	head, ok := q.Peek(ctx)
	require.True(t, ok)
	head.Priority = 4
	first.Priority = 4

	assert.Equal(t, []string{"a", "b"}, popIDs(t, q))
}
