package config

import (
	"fmt"
	"time"

	"github.com/minhyannv/taskflow/internal/constants"
	"github.com/minhyannv/taskflow/internal/models"
)

// Config taskflow 配置
type Config struct {
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Batch     BatchConfig     `json:"batch" yaml:"batch"`
	Queue     QueueConfig     `json:"queue" yaml:"queue"`
	Retry     RetryConfig     `json:"retry" yaml:"retry"`
}

// RedisConfig Redis配置，Enabled 为 false 时不启用持久化/混合队列
type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	// 终态任务归档保留时间，0 表示不过期
	ArchiveTTL time.Duration `json:"archive_ttl" yaml:"archive_ttl"`
}

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	MaxWorkers        int             `json:"max_workers" yaml:"max_workers"`               // 并发执行上限
	MaxPendingTasks   int             `json:"max_pending_tasks" yaml:"max_pending_tasks"`   // 待执行任务上限
	BlockingPoolSize  int             `json:"blocking_pool_size" yaml:"blocking_pool_size"` // 阻塞任务执行池大小
	DefaultPriority   models.Priority `json:"default_priority" yaml:"default_priority"`
	DefaultTimeout    time.Duration   `json:"default_timeout" yaml:"default_timeout"`
	DefaultMaxRetries int             `json:"default_max_retries" yaml:"default_max_retries"`
}

// BatchConfig 批处理默认配置
type BatchConfig struct {
	BatchSize           int           `json:"batch_size" yaml:"batch_size"`
	BatchTimeout        time.Duration `json:"batch_timeout" yaml:"batch_timeout"`
	MaxWaitTime         time.Duration `json:"max_wait_time" yaml:"max_wait_time"`
	EnableDeduplication bool          `json:"enable_deduplication" yaml:"enable_deduplication"`
}

// QueueConfig 队列配置
type QueueConfig struct {
	MaxSize           int           `json:"queue_max_size" yaml:"queue_max_size"`
	HybridMemoryRatio float64       `json:"hybrid_memory_ratio" yaml:"hybrid_memory_ratio"`
	RebalanceInterval time.Duration `json:"rebalance_interval" yaml:"rebalance_interval"`
	DurableItemTTL    time.Duration `json:"durable_item_ttl" yaml:"durable_item_ttl"`
	KeyPrefix         string        `json:"key_prefix" yaml:"key_prefix"`
}

// RetryConfig 重试退避配置
type RetryConfig struct {
	BaseDelay     time.Duration `json:"base_delay" yaml:"base_delay"`
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"`
	MaxDelay      time.Duration `json:"max_delay" yaml:"max_delay"`
	Jitter        float64       `json:"jitter" yaml:"jitter"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr:       constants.DefaultRedisAddr,
			Password:   constants.DefaultRedisPassword,
			DB:         constants.DefaultRedisDB,
			ArchiveTTL: constants.DefaultArchiveTTLSec * time.Second,
		},
		Scheduler: SchedulerConfig{
			MaxWorkers:        constants.DefaultMaxWorkers,
			MaxPendingTasks:   constants.DefaultMaxPendingTasks,
			BlockingPoolSize:  constants.DefaultBlockingPoolSize,
			DefaultPriority:   models.Priority(constants.DefaultPriority),
			DefaultTimeout:    constants.DefaultTimeoutSec * time.Second,
			DefaultMaxRetries: constants.DefaultMaxRetries,
		},
		Batch: BatchConfig{
			BatchSize:           constants.DefaultBatchSize,
			BatchTimeout:        constants.DefaultBatchTimeoutMs * time.Millisecond,
			MaxWaitTime:         constants.DefaultMaxWaitTimeMs * time.Millisecond,
			EnableDeduplication: true,
		},
		Queue: QueueConfig{
			MaxSize:           constants.DefaultQueueMaxSize,
			HybridMemoryRatio: constants.DefaultHybridMemoryRatio,
			RebalanceInterval: constants.DefaultRebalanceMs * time.Millisecond,
			DurableItemTTL:    constants.DefaultDurableItemTTLSec * time.Second,
			KeyPrefix:         constants.DefaultKeyPrefix,
		},
		Retry: RetryConfig{
			BaseDelay:     constants.DefaultRetryBaseDelayMs * time.Millisecond,
			BackoffFactor: constants.DefaultRetryBackoff,
			MaxDelay:      constants.DefaultRetryMaxDelaySec * time.Second,
			Jitter:        constants.DefaultRetryJitter,
		},
	}
}

// Validate 验证配置，非法值回填为默认值；只有无法修正的组合才返回错误
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		c.Redis.Addr = constants.DefaultRedisAddr
	}
	if c.Redis.ArchiveTTL < 0 {
		c.Redis.ArchiveTTL = 0
	}

	if c.Scheduler.MaxWorkers <= 0 {
		c.Scheduler.MaxWorkers = constants.DefaultMaxWorkers
	}
	if c.Scheduler.MaxPendingTasks <= 0 {
		c.Scheduler.MaxPendingTasks = constants.DefaultMaxPendingTasks
	}
	if c.Scheduler.BlockingPoolSize <= 0 {
		c.Scheduler.BlockingPoolSize = constants.DefaultBlockingPoolSize
	}
	if !c.Scheduler.DefaultPriority.Valid() {
		return fmt.Errorf("%w: default_priority=%d", models.ErrValidation, c.Scheduler.DefaultPriority)
	}
	if c.Scheduler.DefaultTimeout <= 0 {
		c.Scheduler.DefaultTimeout = constants.DefaultTimeoutSec * time.Second
	}
	if c.Scheduler.DefaultMaxRetries < 0 {
		c.Scheduler.DefaultMaxRetries = constants.DefaultMaxRetries
	}

	if c.Batch.BatchSize <= 0 {
		c.Batch.BatchSize = constants.DefaultBatchSize
	}
	if c.Batch.BatchTimeout <= 0 {
		c.Batch.BatchTimeout = constants.DefaultBatchTimeoutMs * time.Millisecond
	}
	if c.Batch.MaxWaitTime <= 0 {
		c.Batch.MaxWaitTime = constants.DefaultMaxWaitTimeMs * time.Millisecond
	}

	if c.Queue.MaxSize <= 0 {
		c.Queue.MaxSize = constants.DefaultQueueMaxSize
	}
	if c.Queue.HybridMemoryRatio <= 0 || c.Queue.HybridMemoryRatio >= 1 {
		c.Queue.HybridMemoryRatio = constants.DefaultHybridMemoryRatio
	}
	if c.Queue.RebalanceInterval <= 0 {
		c.Queue.RebalanceInterval = constants.DefaultRebalanceMs * time.Millisecond
	}
	if c.Queue.DurableItemTTL <= 0 {
		c.Queue.DurableItemTTL = constants.DefaultDurableItemTTLSec * time.Second
	}
	if c.Queue.KeyPrefix == "" {
		c.Queue.KeyPrefix = constants.DefaultKeyPrefix
	}

	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = constants.DefaultRetryBaseDelayMs * time.Millisecond
	}
	if c.Retry.BackoffFactor < 1 {
		c.Retry.BackoffFactor = constants.DefaultRetryBackoff
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = constants.DefaultRetryMaxDelaySec * time.Second
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		c.Retry.MaxDelay = c.Retry.BaseDelay
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		c.Retry.Jitter = constants.DefaultRetryJitter
	}
	return nil
}
