package task

import (
	"time"

	"github.com/minhyannv/taskflow/internal/models"
)

// TaskOptions 任务选项
type TaskOptions struct {
	Name         string
	Priority     models.Priority
	Timeout      time.Duration // 单次执行超时
	MaxRetries   int           // 重试次数上限，0 表示不重试
	Dependencies []string
	Metadata     map[string]string
	Group        string
}

// Option 任务选项函数
type Option func(*TaskOptions)

// WithName 设置任务名称
func WithName(name string) Option {
	return func(o *TaskOptions) { o.Name = name }
}

// WithPriority 设置优先级
func WithPriority(p models.Priority) Option {
	return func(o *TaskOptions) { o.Priority = p }
}

// WithTimeout 设置单次执行超时
func WithTimeout(d time.Duration) Option {
	return func(o *TaskOptions) { o.Timeout = d }
}

// WithMaxRetries 设置最大重试次数
func WithMaxRetries(n int) Option {
	return func(o *TaskOptions) { o.MaxRetries = n }
}

// WithDependencies 设置依赖任务
func WithDependencies(ids ...string) Option {
	return func(o *TaskOptions) { o.Dependencies = append(o.Dependencies, ids...) }
}

// WithMetadata 设置元数据
func WithMetadata(md map[string]string) Option {
	return func(o *TaskOptions) {
		if o.Metadata == nil {
			o.Metadata = make(map[string]string, len(md))
		}
		for k, v := range md {
			o.Metadata[k] = v
		}
	}
}

// WithGroup 设置分组标签
func WithGroup(tag string) Option {
	return func(o *TaskOptions) { o.Group = tag }
}

// Apply 在默认值之上依次应用选项
func (o TaskOptions) Apply(opts ...Option) TaskOptions {
	o.Dependencies = append([]string(nil), o.Dependencies...)
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// TaskSpec 批量提交时的单个任务描述
type TaskSpec struct {
	Work    Executable
	Options []Option
}
