// Package queue 提供三种可互换的优先级队列：内存堆、远端持久化、冷热混合。
//
// 所有实现共享同一个排序键 (Priority 升序, Timestamp 升序)，同优先级严格 FIFO。
// Push 返回 false 表示队列已满或 id 重复，属于背压信号而不是错误；
// 持久化层的连接错误会被记录、计数并降级为 false/空结果。
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/minhyannv/taskflow/internal/models"
)

// QueueItem 队列元素
type QueueItem struct {
	ID         string            `json:"id"`
	Payload    []byte            `json:"payload"`
	Priority   int               `json:"priority"` // 数值越小越紧急
	Timestamp  time.Time         `json:"timestamp"`
	RetryCount int               `json:"retry_count"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	seq uint64 // 同一内存队列内的入队序号，用于时间戳相同时的 FIFO
}

// NewQueueItem 创建队列元素，自动生成 id 与入队时间
func NewQueueItem(payload []byte, priority int) *QueueItem {
	return &QueueItem{
		ID:        uuid.New().String(),
		Payload:   payload,
		Priority:  priority,
		Timestamp: time.Now(),
	}
}

// before 判断 a 是否应排在 b 之前（不比较序号）
func before(a, b *QueueItem) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Timestamp.Before(b.Timestamp)
}

// Queue 优先级队列能力集合
type Queue interface {
	Name() string
	Type() models.QueueType
	// Push 入队，false 表示已满或 id 重复
	Push(ctx context.Context, item *QueueItem) bool
	// Pop 取出最高优先级元素
	Pop(ctx context.Context) (*QueueItem, bool)
	// Peek 查看最高优先级元素但不移除
	Peek(ctx context.Context) (*QueueItem, bool)
	Size(ctx context.Context) int
	Clear(ctx context.Context)
	Stats(ctx context.Context) Stats
}

// Lifecycle 带后台协程的队列实现（如混合队列的再平衡）
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop()
}

// Stats 队列统计
type Stats struct {
	Name          string           `json:"name"`
	Type          models.QueueType `json:"type"`
	Size          int              `json:"size"`
	MaxSize       int              `json:"max_size"`
	Pushed        uint64           `json:"pushed"`
	Popped        uint64           `json:"popped"`
	Rejected      uint64           `json:"rejected"`
	BackendErrors uint64           `json:"backend_errors,omitempty"`
	Promoted      uint64           `json:"promoted,omitempty"`
	Rebalances    uint64           `json:"rebalances,omitempty"`
	Tiers         map[string]Stats `json:"tiers,omitempty"`
}
