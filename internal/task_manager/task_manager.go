package task_manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/minhyannv/taskflow/internal/constants"
	"github.com/minhyannv/taskflow/internal/models"
	"github.com/minhyannv/taskflow/internal/task"
)

// TaskManager 终态任务归档，把调度器中结束的任务快照写入 Redis Hash 并设置过期时间。
// Record 只做非阻塞投递，写入由后台协程完成，缓冲区满时丢弃并计数。
type TaskManager struct {
	redisClient redis.UniversalClient
	logger      *zap.Logger
	ttl         time.Duration

	ch      chan task.Snapshot
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}

	saved   atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// Stats 归档统计
type Stats struct {
	Saved   uint64 `json:"saved"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// NewTaskManager 创建任务归档，ttl<=0 表示不过期
func NewTaskManager(redisClient redis.UniversalClient, logger *zap.Logger, ttl time.Duration) *TaskManager {
	return &TaskManager{
		redisClient: redisClient,
		logger:      logger.With(zap.String("component", "task_archive")),
		ttl:         ttl,
		ch:          make(chan task.Snapshot, constants.DefaultArchiveBuffer),
	}
}

// Record 投递一个终态快照，不阻塞调用方
func (tm *TaskManager) Record(s task.Snapshot) {
	select {
	case tm.ch <- s:
	default:
		tm.dropped.Add(1)
		tm.logger.Sugar().Warnf("归档缓冲区已满，丢弃任务 %s", s.ID)
	}
}

// Start 启动后台写入协程
func (tm *TaskManager) Start(ctx context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.running {
		return fmt.Errorf("任务归档已在运行")
	}
	tm.running = true
	tm.stopCh = make(chan struct{})
	tm.done = make(chan struct{})
	go tm.run(ctx, tm.stopCh, tm.done)
	return nil
}

// Stop 停止后台协程，缓冲区中剩余快照会先写完
func (tm *TaskManager) Stop() {
	tm.mu.Lock()
	if !tm.running {
		tm.mu.Unlock()
		return
	}
	tm.running = false
	close(tm.stopCh)
	done := tm.done
	tm.mu.Unlock()

	<-done
}

func (tm *TaskManager) run(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case s := <-tm.ch:
			tm.save(ctx, s)
		case <-stopCh:
			tm.drain(context.WithoutCancel(ctx))
			return
		case <-ctx.Done():
			tm.drain(context.WithoutCancel(ctx))
			return
		}
	}
}

func (tm *TaskManager) drain(ctx context.Context) {
	for {
		select {
		case s := <-tm.ch:
			tm.save(ctx, s)
		default:
			return
		}
	}
}

func (tm *TaskManager) save(ctx context.Context, s task.Snapshot) {
	if err := tm.SaveTask(ctx, s); err != nil {
		tm.failed.Add(1)
		tm.logger.Sugar().Warnf("%v: 归档任务 %s 失败: %v", models.ErrBackend, s.ID, err)
		return
	}
	tm.saved.Add(1)
}

// SaveTask 保存任务快照到 Redis Hash
func (tm *TaskManager) SaveTask(ctx context.Context, s task.Snapshot) error {
	key := tm.taskKey(s.ID)
	pipe := tm.redisClient.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, toMap(s))
	if tm.ttl > 0 {
		pipe.Expire(ctx, key, tm.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// GetTask 从 Redis Hash 读取任务快照
func (tm *TaskManager) GetTask(ctx context.Context, taskID string) (task.Snapshot, error) {
	data, err := tm.redisClient.HGetAll(ctx, tm.taskKey(taskID)).Result()
	if err != nil {
		return task.Snapshot{}, fmt.Errorf("获取任务失败: %w", err)
	}
	if len(data) == 0 {
		return task.Snapshot{}, fmt.Errorf("%w: 任务 %s", models.ErrNotFound, taskID)
	}
	return fromMap(data), nil
}

// DeleteTask 删除归档
func (tm *TaskManager) DeleteTask(ctx context.Context, taskID string) error {
	return tm.redisClient.Del(ctx, tm.taskKey(taskID)).Err()
}

// Stats 统计快照
func (tm *TaskManager) Stats() Stats {
	return Stats{
		Saved:   tm.saved.Load(),
		Dropped: tm.dropped.Load(),
		Failed:  tm.failed.Load(),
	}
}

// taskKey 生成任务的 Redis key
func (tm *TaskManager) taskKey(taskID string) string {
	return constants.TaskPrefix + taskID
}

// toMap 将快照转换为 map，用于存储到 Redis Hash
func toMap(s task.Snapshot) map[string]interface{} {
	data := map[string]interface{}{
		"id":          s.ID,
		"name":        s.Name,
		"priority":    int(s.Priority),
		"status":      string(s.Status),
		"group":       s.Group,
		"retry_count": s.RetryCount,
		"max_retries": s.MaxRetries,
		"timeout_ms":  s.Timeout.Milliseconds(),
		"created_at":  s.CreatedAt.UnixMilli(),
		"error_msg":   s.ErrorMsg,
	}
	if s.Result != nil {
		data["result"] = fmt.Sprint(s.Result)
	}
	if len(s.Dependencies) > 0 {
		if deps, err := json.Marshal(s.Dependencies); err == nil {
			data["dependencies"] = string(deps)
		}
	}
	if len(s.Metadata) > 0 {
		if meta, err := json.Marshal(s.Metadata); err == nil {
			data["metadata"] = string(meta)
		}
	}
	if s.StartedAt != nil {
		data["started_at"] = s.StartedAt.UnixMilli()
	}
	if s.CompletedAt != nil {
		data["completed_at"] = s.CompletedAt.UnixMilli()
	}
	return data
}

// fromMap 从 Redis Hash 构建快照，结果统一为字符串
func fromMap(data map[string]string) task.Snapshot {
	s := task.Snapshot{
		ID:       data["id"],
		Name:     data["name"],
		Status:   models.TaskStatus(data["status"]),
		Group:    data["group"],
		ErrorMsg: data["error_msg"],
	}
	if result, ok := data["result"]; ok {
		s.Result = result
	}
	if s.ErrorMsg != "" {
		s.Err = errors.New(s.ErrorMsg)
	}
	if deps, ok := data["dependencies"]; ok {
		_ = json.Unmarshal([]byte(deps), &s.Dependencies)
	}
	if meta, ok := data["metadata"]; ok {
		_ = json.Unmarshal([]byte(meta), &s.Metadata)
	}
	if v, err := strconv.Atoi(data["priority"]); err == nil {
		s.Priority = models.Priority(v)
	}
	if v, err := strconv.Atoi(data["retry_count"]); err == nil {
		s.RetryCount = v
	}
	if v, err := strconv.Atoi(data["max_retries"]); err == nil {
		s.MaxRetries = v
	}
	if v, err := strconv.ParseInt(data["timeout_ms"], 10, 64); err == nil {
		s.Timeout = time.Duration(v) * time.Millisecond
	}
	if v, err := strconv.ParseInt(data["created_at"], 10, 64); err == nil {
		s.CreatedAt = time.UnixMilli(v)
	}
	if v, err := strconv.ParseInt(data["started_at"], 10, 64); err == nil {
		started := time.UnixMilli(v)
		s.StartedAt = &started
	}
	if v, err := strconv.ParseInt(data["completed_at"], 10, 64); err == nil {
		completed := time.UnixMilli(v)
		s.CompletedAt = &completed
	}
	return s
}
