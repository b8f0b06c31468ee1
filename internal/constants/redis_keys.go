package constants

// Redis 键名常量
const (
	// 持久化队列默认前缀
	DefaultKeyPrefix = "taskflow:queue"

	// 持久化队列记录键: <prefix>:item:<id>
	ItemKeySegment = ":item:"
	// 持久化队列有序索引键: <prefix>:index
	IndexKeySegment = ":index"

	// 批处理 Redis 落地列表默认键
	DefaultSinkKey = "taskflow:sink"

	// 终态任务归档: taskflow:task:<id> (Hash)
	TaskPrefix = "taskflow:task:"
)

// 默认配置常量
const (
	DefaultMaxWorkers        = 5
	DefaultMaxPendingTasks   = 10000
	DefaultBlockingPoolSize  = 4
	DefaultMaxRetries        = 3
	DefaultTimeoutSec        = 30
	DefaultPriority          = 2 // normal
	DefaultBatchSize         = 100
	DefaultBatchTimeoutMs    = 1000
	DefaultMaxWaitTimeMs     = 5000
	DefaultQueueMaxSize      = 10000
	DefaultHybridMemoryRatio = 0.2
	DefaultRebalanceMs       = 1000
	DefaultDurableItemTTLSec = 24 * 60 * 60
	DefaultRetryBaseDelayMs  = 100
	DefaultRetryBackoff      = 2.0
	DefaultRetryMaxDelaySec  = 30
	DefaultRetryJitter       = 0.1
	DefaultRedisAddr         = "localhost:6379"
	DefaultRedisPassword     = ""
	DefaultRedisDB           = 0
	DefaultArchiveBuffer     = 1024
	DefaultArchiveTTLSec     = 7 * 24 * 60 * 60
)
