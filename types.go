package taskflow

import (
	"github.com/minhyannv/taskflow/internal/batch"
	"github.com/minhyannv/taskflow/internal/config"
	"github.com/minhyannv/taskflow/internal/models"
	"github.com/minhyannv/taskflow/internal/queue"
	"github.com/minhyannv/taskflow/internal/scheduler"
	"github.com/minhyannv/taskflow/internal/task"
)

// 类型别名
type (
	Config      = config.Config
	Priority    = models.Priority
	TaskStatus  = models.TaskStatus
	QueueType   = models.QueueType
	Queue       = queue.Queue
	QueueItem   = queue.QueueItem
	QueueStats  = queue.Stats
	BatchConfig = batch.Config
	BatchStats  = batch.Stats

	Executable   = task.Executable
	Func         = task.Func
	BlockingFunc = task.BlockingFunc
	TaskHandler  = task.TaskHandler
	TaskOption   = task.Option
	TaskSpec     = task.TaskSpec
	TaskSnapshot = task.Snapshot

	GroupResult    = scheduler.GroupResult
	SchedulerStats = scheduler.Stats

	TaskFailedError  = models.TaskFailedError
	BatchFailedError = batch.BatchFailedError
)

// 优先级常量，数值越小越紧急
const (
	PriorityCritical = models.PriorityCritical
	PriorityHigh     = models.PriorityHigh
	PriorityNormal   = models.PriorityNormal
	PriorityLow      = models.PriorityLow
	PriorityIdle     = models.PriorityIdle
)

// 任务状态常量
const (
	StatusPending   = models.StatusPending
	StatusRunning   = models.StatusRunning
	StatusRetrying  = models.StatusRetrying
	StatusCompleted = models.StatusCompleted
	StatusFailed    = models.StatusFailed
	StatusCancelled = models.StatusCancelled
)

// 队列类型常量
const (
	MemoryQueue  = models.MemoryQueue  // 内存队列
	DurableQueue = models.DurableQueue // 持久化队列
	HybridQueue  = models.HybridQueue  // 混合队列
)

// 错误
var (
	ErrValidation     = models.ErrValidation
	ErrCapacity       = models.ErrCapacity
	ErrNotFound       = models.ErrNotFound
	ErrTimeout        = models.ErrTimeout
	ErrTaskCancelled  = models.ErrTaskCancelled
	ErrBackend        = models.ErrBackend
	ErrNotImplemented = models.ErrNotImplemented
	ErrStopped        = models.ErrStopped
)

// 任务选项
var (
	WithName         = task.WithName
	WithPriority     = task.WithPriority
	WithTimeout      = task.WithTimeout
	WithMaxRetries   = task.WithMaxRetries
	WithDependencies = task.WithDependencies
	WithMetadata     = task.WithMetadata
	WithGroup        = task.WithGroup
)

// NewQueueItem 创建队列元素
var NewQueueItem = queue.NewQueueItem

// DefaultConfig 默认配置
var DefaultConfig = config.DefaultConfig
