package models

import (
	"fmt"
	"strings"
)

// QueueType 队列类型
type QueueType string

const (
	MemoryQueue  QueueType = "memory"  // 内存队列 (二叉堆)
	DurableQueue QueueType = "durable" // 持久化队列 (远端 KV + 有序索引)
	HybridQueue  QueueType = "hybrid"  // 混合队列 (热内存 + 冷持久化)
)

// Priority 任务优先级，数值越小越紧急
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityIdle
)

var priorityNames = map[Priority]string{
	PriorityCritical: "critical",
	PriorityHigh:     "high",
	PriorityNormal:   "normal",
	PriorityLow:      "low",
	PriorityIdle:     "idle",
}

// Valid 检查优先级是否在合法范围内
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityIdle
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority 从名称或数字解析优先级
func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range priorityNames {
		if name == s {
			return p, nil
		}
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil && Priority(n).Valid() {
		return Priority(n), nil
	}
	return 0, fmt.Errorf("%w: 未知优先级 %q", ErrValidation, s)
}

// TaskStatus 任务状态
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusRetrying  TaskStatus = "retrying"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// IsTerminal 是否为终态
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
