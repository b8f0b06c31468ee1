package handler_manager

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/minhyannv/taskflow/internal/models"
	"github.com/minhyannv/taskflow/internal/task"
)

// HandlerManager 命名任务处理器管理器
type HandlerManager struct {
	logger   *zap.Logger
	handlers map[string]handlerEntry
	mu       sync.RWMutex
}

type handlerEntry struct {
	handler  task.TaskHandler
	blocking bool
}

// NewHandlerManager 创建新的处理器管理器
func NewHandlerManager(logger *zap.Logger) *HandlerManager {
	return &HandlerManager{
		logger:   logger,
		handlers: make(map[string]handlerEntry),
	}
}

// RegisterHandler 注册非阻塞处理器
func (hm *HandlerManager) RegisterHandler(name string, handler task.TaskHandler) error {
	return hm.register(name, handler, false)
}

// RegisterBlockingHandler 注册阻塞处理器，执行时进入阻塞执行池
func (hm *HandlerManager) RegisterBlockingHandler(name string, handler task.TaskHandler) error {
	return hm.register(name, handler, true)
}

func (hm *HandlerManager) register(name string, handler task.TaskHandler, blocking bool) error {
	if name == "" {
		return fmt.Errorf("%w: 处理器名称不能为空", models.ErrValidation)
	}
	if handler == nil {
		return fmt.Errorf("%w: 处理器不能为空", models.ErrValidation)
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()

	if _, exists := hm.handlers[name]; exists {
		hm.logger.Sugar().Warnf("处理器 %s 已存在，将被覆盖", name)
	}

	hm.handlers[name] = handlerEntry{handler: handler, blocking: blocking}
	hm.logger.Sugar().Infof("已注册任务处理器: %s (阻塞: %v)", name, blocking)
	return nil
}

// UnregisterHandler 注销任务处理器
func (hm *HandlerManager) UnregisterHandler(name string) error {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if _, exists := hm.handlers[name]; !exists {
		return fmt.Errorf("%w: 处理器 %s", models.ErrNotFound, name)
	}

	delete(hm.handlers, name)
	hm.logger.Sugar().Infof("已注销任务处理器: %s", name)
	return nil
}

// GetHandler 获取任务处理器
func (hm *HandlerManager) GetHandler(name string) (task.TaskHandler, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	entry, exists := hm.handlers[name]
	return entry.handler, exists
}

// HasHandler 检查是否存在指定名称的处理器
func (hm *HandlerManager) HasHandler(name string) bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	_, exists := hm.handlers[name]
	return exists
}

// Bind 把处理器和载荷绑定成执行体，按注册方式决定是否阻塞
func (hm *HandlerManager) Bind(name, payload string) (task.Executable, error) {
	hm.mu.RLock()
	entry, exists := hm.handlers[name]
	hm.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: 未找到处理器 %s", models.ErrValidation, name)
	}

	h := entry.handler
	run := func(ctx context.Context) (interface{}, error) { return h(ctx, payload) }
	if entry.blocking {
		return task.BlockingFunc(run), nil
	}
	return task.Func(run), nil
}

// ListHandlers 按名称排序列出所有处理器
func (hm *HandlerManager) ListHandlers() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	names := make([]string, 0, len(hm.handlers))
	for name := range hm.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetHandlerCount 获取处理器数量
func (hm *HandlerManager) GetHandlerCount() int {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	return len(hm.handlers)
}
