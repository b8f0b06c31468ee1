package task

import (
	"context"
	"encoding/json"
	"time"

	"github.com/minhyannv/taskflow/internal/models"
)

// Executable 任务的执行体
type Executable interface {
	Execute(ctx context.Context) (interface{}, error)
}

// Func 非阻塞执行体，直接在工作协程上运行
type Func func(ctx context.Context) (interface{}, error)

func (f Func) Execute(ctx context.Context) (interface{}, error) { return f(ctx) }

// BlockingFunc 阻塞执行体（同步 IO、CPU 密集），交给阻塞执行池运行
type BlockingFunc func(ctx context.Context) (interface{}, error)

func (f BlockingFunc) Execute(ctx context.Context) (interface{}, error) { return f(ctx) }

// Blocking 标记为阻塞执行体
func (f BlockingFunc) Blocking() bool { return true }

// IsBlocking 判断执行体是否需要放入阻塞执行池
func IsBlocking(e Executable) bool {
	b, ok := e.(interface{ Blocking() bool })
	return ok && b.Blocking()
}

// TaskHandler 命名任务处理函数类型
type TaskHandler func(ctx context.Context, payload string) (interface{}, error)

// Task 任务结构体，由调度器的任务表独占持有
type Task struct {
	ID           string            `json:"id"`           // 任务唯一标识
	Name         string            `json:"name"`         // 任务名称，仅用于日志和观测
	Priority     models.Priority   `json:"priority"`     // 优先级
	Status       models.TaskStatus `json:"status"`       // 任务状态
	Dependencies []string          `json:"dependencies"` // 依赖的任务 id
	Group        string            `json:"group"`        // 分组标签
	Metadata     map[string]string `json:"metadata"`

	RetryCount int           `json:"retry_count"` // 已重试次数
	MaxRetries int           `json:"max_retries"` // 最大重试次数
	Timeout    time.Duration `json:"timeout"`     // 单次执行超时

	CreatedAt   time.Time  `json:"created_at"`   // 创建时间
	UpdatedAt   time.Time  `json:"updated_at"`   // 更新时间
	StartedAt   *time.Time `json:"started_at"`   // 首次开始执行时间
	CompletedAt *time.Time `json:"completed_at"` // 进入终态时间

	Result   interface{} `json:"result"`    // 执行结果
	Err      error       `json:"-"`         // 最终错误
	ErrorMsg string      `json:"error_msg"` // 错误信息

	Work Executable `json:"-"`
}

// UpdateStatus 更新任务状态
func (t *Task) UpdateStatus(status models.TaskStatus) {
	now := time.Now()
	t.Status = status
	t.UpdatedAt = now

	switch {
	case status == models.StatusRunning && t.StartedAt == nil:
		t.StartedAt = &now
	case status.IsTerminal():
		t.CompletedAt = &now
	}
}

// SetResult 设置执行结果并标记完成
func (t *Task) SetResult(result interface{}) {
	t.Result = result
	t.UpdateStatus(models.StatusCompleted)
}

// SetError 设置最终错误，status 为 Failed 或 Cancelled
func (t *Task) SetError(status models.TaskStatus, err error) {
	t.Err = err
	if err != nil {
		t.ErrorMsg = err.Error()
	}
	t.UpdateStatus(status)
}

// Snapshot 任务状态的只读副本
type Snapshot struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Priority     models.Priority   `json:"priority"`
	Status       models.TaskStatus `json:"status"`
	Dependencies []string          `json:"dependencies"`
	Group        string            `json:"group,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	RetryCount   int               `json:"retry_count"`
	MaxRetries   int               `json:"max_retries"`
	Timeout      time.Duration     `json:"timeout"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	Result       interface{}       `json:"result,omitempty"`
	Err          error             `json:"-"`
	ErrorMsg     string            `json:"error_msg,omitempty"`
}

// Snapshot 拷贝当前状态，调用方需持有调度器锁
func (t *Task) Snapshot() Snapshot {
	s := Snapshot{
		ID:           t.ID,
		Name:         t.Name,
		Priority:     t.Priority,
		Status:       t.Status,
		Dependencies: append([]string(nil), t.Dependencies...),
		Group:        t.Group,
		RetryCount:   t.RetryCount,
		MaxRetries:   t.MaxRetries,
		Timeout:      t.Timeout,
		CreatedAt:    t.CreatedAt,
		Result:       t.Result,
		Err:          t.Err,
		ErrorMsg:     t.ErrorMsg,
	}
	if t.Metadata != nil {
		s.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			s.Metadata[k] = v
		}
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		s.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		s.CompletedAt = &completed
	}
	return s
}

// ToJSON 将任务快照转换为 JSON 字符串
func (s Snapshot) ToJSON() (string, error) {
	data, err := json.Marshal(s)
	return string(data), err
}
