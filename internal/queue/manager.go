package queue

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Manager 命名队列注册表，负责生命周期与统计汇总。
// 注册通常发生在进程启动阶段。
type Manager struct {
	logger *zap.Logger
	queues map[string]Queue
	order  []string
	mu     sync.RWMutex
}

// NewManager 创建队列管理器
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger: logger,
		queues: make(map[string]Queue),
	}
}

// Register 注册队列
func (m *Manager) Register(q Queue) error {
	if q == nil {
		return fmt.Errorf("队列不能为空")
	}
	if q.Name() == "" {
		return fmt.Errorf("队列名称不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.queues[q.Name()]; exists {
		return fmt.Errorf("队列 %s 已注册", q.Name())
	}
	m.queues[q.Name()] = q
	m.order = append(m.order, q.Name())
	m.logger.Sugar().Infof("已注册队列: %s (%s)", q.Name(), q.Type())
	return nil
}

// Get 获取队列
func (m *Manager) Get(name string) (Queue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, exists := m.queues[name]
	return q, exists
}

// Names 按注册顺序列出队列名称
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// StartAll 按注册顺序启动带后台协程的队列
func (m *Manager) StartAll(ctx context.Context) error {
	for _, name := range m.Names() {
		q, _ := m.Get(name)
		lc, ok := q.(Lifecycle)
		if !ok {
			continue
		}
		if err := lc.Start(ctx); err != nil {
			return fmt.Errorf("启动队列 %s 失败: %w", name, err)
		}
	}
	return nil
}

// StopAll 按注册顺序停止队列
func (m *Manager) StopAll() {
	for _, name := range m.Names() {
		q, _ := m.Get(name)
		if lc, ok := q.(Lifecycle); ok {
			lc.Stop()
		}
	}
}

// Stats 汇总全部队列统计
func (m *Manager) Stats(ctx context.Context) map[string]Stats {
	stats := make(map[string]Stats)
	for _, name := range m.Names() {
		q, _ := m.Get(name)
		stats[name] = q.Stats(ctx)
	}
	return stats
}
