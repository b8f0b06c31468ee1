package batch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Runner 可被 Manager 托管的批处理器，*Accumulator 的任意实例化都满足
type Runner interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
	Stats() Stats
}

// Manager 批处理器注册表
type Manager struct {
	logger  *zap.Logger
	runners map[string]Runner
	order   []string
	mu      sync.RWMutex
}

// NewManager 创建批处理器管理器
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:  logger,
		runners: make(map[string]Runner),
	}
}

// Register 注册批处理器
func (m *Manager) Register(r Runner) error {
	if r == nil {
		return fmt.Errorf("批处理器不能为空")
	}
	if r.Name() == "" {
		return fmt.Errorf("批处理器名称不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runners[r.Name()]; exists {
		return fmt.Errorf("批处理器 %s 已注册", r.Name())
	}
	m.runners[r.Name()] = r
	m.order = append(m.order, r.Name())
	m.logger.Sugar().Infof("已注册批处理器: %s", r.Name())
	return nil
}

// Get 获取批处理器
func (m *Manager) Get(name string) (Runner, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, exists := m.runners[name]
	return r, exists
}

// Names 按注册顺序列出名称
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// StartAll 按注册顺序启动
func (m *Manager) StartAll(ctx context.Context) error {
	for _, name := range m.Names() {
		r, _ := m.Get(name)
		if err := r.Start(ctx); err != nil {
			return fmt.Errorf("启动批处理器 %s 失败: %w", name, err)
		}
	}
	return nil
}

// StopAll 按注册顺序停止，每个批处理器停止前会 flush 剩余元素
func (m *Manager) StopAll() {
	for _, name := range m.Names() {
		r, _ := m.Get(name)
		r.Stop()
	}
}

// Stats 汇总统计
func (m *Manager) Stats() map[string]Stats {
	stats := make(map[string]Stats)
	for _, name := range m.Names() {
		r, _ := m.Get(name)
		stats[name] = r.Stats()
	}
	return stats
}
