package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/minhyannv/taskflow/internal/models"
)

// LoadFromFile 从文件加载配置，按扩展名选择 JSON 或 YAML
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return config, nil
}

// LoadFromEnv 从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	// 尝试加载.env文件
	_ = godotenv.Load()

	config := DefaultConfig()

	// Redis配置
	if v := os.Getenv("TASKFLOW_REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Redis.Enabled = b
		}
	}
	if addr := os.Getenv("TASKFLOW_REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if password := os.Getenv("TASKFLOW_REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	envInt("TASKFLOW_REDIS_DB", &config.Redis.DB)
	envDuration("TASKFLOW_ARCHIVE_TTL", &config.Redis.ArchiveTTL)

	// 调度器配置
	envInt("TASKFLOW_MAX_WORKERS", &config.Scheduler.MaxWorkers)
	envInt("TASKFLOW_MAX_PENDING_TASKS", &config.Scheduler.MaxPendingTasks)
	envInt("TASKFLOW_BLOCKING_POOL_SIZE", &config.Scheduler.BlockingPoolSize)
	envInt("TASKFLOW_DEFAULT_MAX_RETRIES", &config.Scheduler.DefaultMaxRetries)
	envDuration("TASKFLOW_DEFAULT_TIMEOUT", &config.Scheduler.DefaultTimeout)
	if v := os.Getenv("TASKFLOW_DEFAULT_PRIORITY"); v != "" {
		p, err := models.ParsePriority(v)
		if err != nil {
			return nil, fmt.Errorf("解析 TASKFLOW_DEFAULT_PRIORITY 失败: %w", err)
		}
		config.Scheduler.DefaultPriority = p
	}

	// 批处理配置
	envInt("TASKFLOW_BATCH_SIZE", &config.Batch.BatchSize)
	envDuration("TASKFLOW_BATCH_TIMEOUT", &config.Batch.BatchTimeout)
	envDuration("TASKFLOW_MAX_WAIT_TIME", &config.Batch.MaxWaitTime)
	if v := os.Getenv("TASKFLOW_ENABLE_DEDUPLICATION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Batch.EnableDeduplication = b
		}
	}

	// 队列配置
	envInt("TASKFLOW_QUEUE_MAX_SIZE", &config.Queue.MaxSize)
	envFloat("TASKFLOW_HYBRID_MEMORY_RATIO", &config.Queue.HybridMemoryRatio)
	envDuration("TASKFLOW_REBALANCE_INTERVAL", &config.Queue.RebalanceInterval)
	envDuration("TASKFLOW_DURABLE_ITEM_TTL", &config.Queue.DurableItemTTL)
	if prefix := os.Getenv("TASKFLOW_KEY_PREFIX"); prefix != "" {
		config.Queue.KeyPrefix = prefix
	}

	// 重试配置
	envDuration("TASKFLOW_RETRY_BASE_DELAY", &config.Retry.BaseDelay)
	envFloat("TASKFLOW_RETRY_BACKOFF_FACTOR", &config.Retry.BackoffFactor)
	envDuration("TASKFLOW_RETRY_MAX_DELAY", &config.Retry.MaxDelay)
	envFloat("TASKFLOW_RETRY_JITTER", &config.Retry.Jitter)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return config, nil
}

// SaveToFile 保存配置到文件
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}

	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func envInt(key string, dst *int) {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			*dst = v
		}
	}
}

func envFloat(key string, dst *float64) {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			*dst = v
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if s := os.Getenv(key); s != "" {
		if v, err := time.ParseDuration(s); err == nil {
			*dst = v
		}
	}
}
