package queue

import (
	"container/heap"
	"context"
	"sync"

	"github.com/minhyannv/taskflow/internal/models"
)

// itemHeap 按 (Priority, Timestamp, seq) 排序的小顶堆
type itemHeap []*QueueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.seq < b.seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(*QueueItem)) }

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// MemoryQueue 内存优先级队列，进程重启后内容丢失
type MemoryQueue struct {
	name    string
	maxSize int // <=0 表示不限

	mu    sync.Mutex
	items itemHeap
	ids   map[string]struct{}
	seq   uint64

	pushed   uint64
	popped   uint64
	rejected uint64
}

// NewMemoryQueue 创建内存队列
func NewMemoryQueue(name string, maxSize int) *MemoryQueue {
	return &MemoryQueue{
		name:    name,
		maxSize: maxSize,
		ids:     make(map[string]struct{}),
	}
}

func (q *MemoryQueue) Name() string { return q.name }

func (q *MemoryQueue) Type() models.QueueType { return models.MemoryQueue }

// MaxSize 容量上限
func (q *MemoryQueue) MaxSize() int { return q.maxSize }

// Push 入队，队列保存 item 的副本
func (q *MemoryQueue) Push(_ context.Context, item *QueueItem) bool {
	if item == nil || item.ID == "" {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.ids[item.ID]; exists {
		q.rejected++
		return false
	}
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		q.rejected++
		return false
	}

	stored := *item
	q.seq++
	stored.seq = q.seq
	heap.Push(&q.items, &stored)
	q.ids[item.ID] = struct{}{}
	q.pushed++
	return true
}

// Pop 出队
func (q *MemoryQueue) Pop(_ context.Context) (*QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	item := heap.Pop(&q.items).(*QueueItem)
	delete(q.ids, item.ID)
	q.popped++
	return item, true
}

// Peek 查看队首
func (q *MemoryQueue) Peek(_ context.Context) (*QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	head := *q.items[0]
	return &head, true
}

// Contains 判断 id 是否在队列中
func (q *MemoryQueue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, exists := q.ids[id]
	return exists
}

// Remove 按 id 移除元素
func (q *MemoryQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.ids[id]; !exists {
		return false
	}
	for i, item := range q.items {
		if item.ID == id {
			heap.Remove(&q.items, i)
			delete(q.ids, id)
			return true
		}
	}
	return false
}

func (q *MemoryQueue) Size(_ context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// full 队列是否已满
func (q *MemoryQueue) full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxSize > 0 && len(q.items) >= q.maxSize
}

func (q *MemoryQueue) Clear(_ context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = nil
	q.ids = make(map[string]struct{})
}

func (q *MemoryQueue) Stats(_ context.Context) Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		Name:     q.name,
		Type:     models.MemoryQueue,
		Size:     len(q.items),
		MaxSize:  q.maxSize,
		Pushed:   q.pushed,
		Popped:   q.popped,
		Rejected: q.rejected,
	}
}
