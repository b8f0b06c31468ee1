// Package taskflow 交易后端的调度与排队引擎：任务调度器、批量累加器、分层优先级队列。
package taskflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/minhyannv/taskflow/internal/batch"
	"github.com/minhyannv/taskflow/internal/config"
	"github.com/minhyannv/taskflow/internal/handler_manager"
	"github.com/minhyannv/taskflow/internal/models"
	"github.com/minhyannv/taskflow/internal/queue"
	redisclient "github.com/minhyannv/taskflow/internal/redis"
	"github.com/minhyannv/taskflow/internal/scheduler"
	"github.com/minhyannv/taskflow/internal/store"
	"github.com/minhyannv/taskflow/internal/task_manager"
)

// Engine 引擎，持有调度器、队列和批处理器，生命周期跟随宿主程序
type Engine struct {
	ctx         context.Context
	config      *config.Config
	logger      *zap.Logger
	redisClient redis.UniversalClient
	ownsRedis   bool
	store       store.Store

	handlerManager *handler_manager.HandlerManager
	scheduler      *scheduler.Scheduler
	queues         *queue.Manager
	batches        *batch.Manager
	archive        *task_manager.TaskManager

	mu      sync.Mutex
	running bool
}

// Option 引擎选项
type Option func(*Engine)

// WithConfig 设置配置
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		e.config = cfg
	}
}

// WithLogger 设置日志器
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithRedisClient 设置Redis客户端，调用方负责关闭
func WithRedisClient(redisClient redis.UniversalClient) Option {
	return func(e *Engine) {
		e.redisClient = redisClient
	}
}

// WithStore 设置持久化队列使用的存储，优先于 Redis 客户端
func WithStore(st store.Store) Option {
	return func(e *Engine) {
		e.store = st
	}
}

// NewEngine 创建引擎。配置启用 Redis 或传入了 Redis 客户端/存储时，
// 可以创建持久化队列和混合队列。
func NewEngine(ctx context.Context, opts ...Option) (*Engine, error) {
	e := &Engine{
		ctx:    ctx,
		config: config.DefaultConfig(),
	}

	// 应用选项
	for _, opt := range opts {
		opt(e)
	}

	// 验证配置
	if err := e.config.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	// 设置默认日志器
	if e.logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("创建日志器失败: %w", err)
		}
		e.logger = logger
	}

	// 初始化组件
	e.handlerManager = handler_manager.NewHandlerManager(e.logger)
	e.scheduler = scheduler.New(e.config.Scheduler, e.config.Retry, e.handlerManager, e.logger)
	e.queues = queue.NewManager(e.logger)
	e.batches = batch.NewManager(e.logger)

	if err := e.queues.Register(e.scheduler.ReadyQueue()); err != nil {
		return nil, err
	}

	// 设置Redis客户端；之后没有会失败的步骤，自建客户端不会泄漏
	if e.redisClient == nil && e.config.Redis.Enabled {
		rdb, err := redisclient.NewClient(ctx, e.config.Redis)
		if err != nil {
			return nil, err
		}
		e.redisClient = rdb
		e.ownsRedis = true
	} else if e.redisClient != nil {
		if err := redisclient.Ping(ctx, e.redisClient); err != nil {
			return nil, err
		}
	}
	if e.redisClient != nil {
		if e.store == nil {
			e.store = store.NewRedisStore(e.redisClient)
		}
	}

	// 终态任务归档到 Redis
	if e.redisClient != nil {
		e.archive = task_manager.NewTaskManager(e.redisClient, e.logger, e.config.Redis.ArchiveTTL)
		e.scheduler.SetTerminalHook(e.archive.Record)
	}

	return e, nil
}

// Config 当前配置
func (e *Engine) Config() *config.Config { return e.config }

// Logger 日志器
func (e *Engine) Logger() *zap.Logger { return e.logger }

// RedisClient Redis客户端，未启用时为 nil
func (e *Engine) RedisClient() redis.UniversalClient { return e.redisClient }

// Scheduler 任务调度器
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.scheduler }

// Queues 队列注册表
func (e *Engine) Queues() *queue.Manager { return e.queues }

// Batches 批处理器注册表
func (e *Engine) Batches() *batch.Manager { return e.batches }

// Archive 终态任务归档，未启用 Redis 时为 nil
func (e *Engine) Archive() *task_manager.TaskManager { return e.archive }

// GetTask 查询任务快照，调度器中已清理的任务从归档读取
func (e *Engine) GetTask(ctx context.Context, id string) (TaskSnapshot, error) {
	snap, err := e.scheduler.Status(id)
	if err == nil || e.archive == nil || !errors.Is(err, models.ErrNotFound) {
		return snap, err
	}
	return e.archive.GetTask(ctx, id)
}

// RegisterHandler 注册命名处理器
func (e *Engine) RegisterHandler(name string, handler TaskHandler) error {
	return e.handlerManager.RegisterHandler(name, handler)
}

// RegisterBlockingHandler 注册阻塞命名处理器
func (e *Engine) RegisterBlockingHandler(name string, handler TaskHandler) error {
	return e.handlerManager.RegisterBlockingHandler(name, handler)
}

// CreateQueue 按类型创建并注册队列，容量等参数取自配置
func (e *Engine) CreateQueue(name string, queueType QueueType) (Queue, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: 队列名称不能为空", models.ErrValidation)
	}

	var q Queue
	switch queueType {
	case models.MemoryQueue:
		q = queue.NewMemoryQueue(name, e.config.Queue.MaxSize)
	case models.DurableQueue:
		if e.store == nil {
			return nil, fmt.Errorf("%w: 持久化队列需要启用 Redis", models.ErrValidation)
		}
		q = queue.NewDurableQueue(name, e.store, e.logger, queue.DurableOptions{
			KeyPrefix: e.config.Queue.KeyPrefix,
			MaxSize:   e.config.Queue.MaxSize,
			ItemTTL:   e.config.Queue.DurableItemTTL,
		})
	case models.HybridQueue:
		if e.store == nil {
			return nil, fmt.Errorf("%w: 混合队列需要启用 Redis", models.ErrValidation)
		}
		hq, err := queue.NewHybridQueue(name, e.store, e.logger, queue.HybridOptions{
			MaxSize:           e.config.Queue.MaxSize,
			MemoryRatio:       e.config.Queue.HybridMemoryRatio,
			RebalanceInterval: e.config.Queue.RebalanceInterval,
			ItemTTL:           e.config.Queue.DurableItemTTL,
			KeyPrefix:         e.config.Queue.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		q = hq
	default:
		return nil, fmt.Errorf("%w: 不支持的队列类型 %s", models.ErrValidation, queueType)
	}

	if err := e.queues.Register(q); err != nil {
		return nil, err
	}

	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if lc, ok := q.(queue.Lifecycle); ok && running {
		if err := lc.Start(e.ctx); err != nil {
			return nil, fmt.Errorf("启动队列 %s 失败: %w", name, err)
		}
	}
	return q, nil
}

// NewBatch 创建并注册批处理器，未指定的参数取自配置的批处理默认值
func NewBatch[T, R any](e *Engine, cfg BatchConfig, processor batch.Processor[T, R]) (*batch.Accumulator[T, R], error) {
	defaults := e.config.Batch
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaults.BatchTimeout
	}
	if cfg.MaxWaitTime <= 0 {
		cfg.MaxWaitTime = defaults.MaxWaitTime
	}

	acc := batch.New[T, R](cfg, processor, e.logger)
	if err := e.batches.Register(acc); err != nil {
		return nil, err
	}

	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if running {
		if err := acc.Start(e.ctx); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// NewRedisListBatch 创建落地到 Redis 列表的批处理器，每项结果为写入后的列表长度
func NewRedisListBatch[T any](e *Engine, cfg BatchConfig, key string) (*batch.Accumulator[T, int64], error) {
	if e.redisClient == nil {
		return nil, fmt.Errorf("%w: Redis 批量落地需要启用 Redis", models.ErrValidation)
	}
	return NewBatch[T, int64](e, cfg, batch.NewRedisListSink[T](e.redisClient, key))
}

// Start 按 队列 -> 批处理器 -> 归档 -> 调度器 的顺序启动
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("引擎已在运行")
	}

	e.logger.Sugar().Info("启动 taskflow 引擎...")

	if err := e.queues.StartAll(e.ctx); err != nil {
		return err
	}
	if err := e.batches.StartAll(e.ctx); err != nil {
		e.queues.StopAll()
		return err
	}
	if e.archive != nil {
		if err := e.archive.Start(e.ctx); err != nil {
			e.batches.StopAll()
			e.queues.StopAll()
			return fmt.Errorf("启动任务归档失败: %w", err)
		}
	}
	if err := e.scheduler.Start(e.ctx); err != nil {
		e.stopArchive()
		e.batches.StopAll()
		e.queues.StopAll()
		return fmt.Errorf("启动调度器失败: %w", err)
	}

	e.running = true
	e.logger.Sugar().Info("taskflow 引擎启动成功")
	return nil
}

// Stop 先停调度器，再写完归档、flush 批处理器，最后停队列
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.logger.Sugar().Info("停止 taskflow 引擎...")

	e.scheduler.Stop()
	e.stopArchive()
	e.batches.StopAll()
	e.queues.StopAll()

	e.logger.Sugar().Info("taskflow 引擎已停止")
}

// WatchConfig 监听配置文件，变化时热更新待执行任务上限
func (e *Engine) WatchConfig(ctx context.Context, path string) error {
	return config.Watch(ctx, e.logger, path, func(cfg *config.Config) {
		if err := cfg.Validate(); err != nil {
			e.logger.Sugar().Warnf("新配置非法，忽略: %v", err)
			return
		}
		e.scheduler.SetMaxPending(cfg.Scheduler.MaxPendingTasks)

		e.mu.Lock()
		e.config.Scheduler.MaxPendingTasks = cfg.Scheduler.MaxPendingTasks
		e.mu.Unlock()
	})
}

// GetStats 获取统计信息
func (e *Engine) GetStats(ctx context.Context) map[string]interface{} {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	stats := make(map[string]interface{})
	stats["running"] = running
	stats["scheduler"] = e.scheduler.Stats()
	stats["queues"] = e.queues.Stats(ctx)
	stats["batches"] = e.batches.Stats()
	stats["handlers"] = e.handlerManager.ListHandlers()
	if e.archive != nil {
		stats["archive"] = e.archive.Stats()
	}
	return stats
}

// Close 停止引擎并关闭自建的 Redis 客户端
func (e *Engine) Close() error {
	e.Stop()
	e.scheduler.Stop()
	return e.closeRedis()
}

func (e *Engine) stopArchive() {
	if e.archive != nil {
		e.archive.Stop()
	}
}

func (e *Engine) closeRedis() error {
	if e.ownsRedis && e.redisClient != nil {
		e.ownsRedis = false
		return e.redisClient.Close()
	}
	return nil
}
