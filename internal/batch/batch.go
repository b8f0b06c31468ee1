// Package batch 把大量细粒度写入/调用合并成批，交给下游处理器一次性处理。
//
// 三个触发条件互相独立：缓冲区达到 BatchSize 立即触发；每隔 BatchTimeout
// 无条件触发；最老元素等待达到 MaxWaitTime 强制触发。处理器在锁外执行。
// 处理器返回错误时整批失败，所有回调收到 *BatchFailedError，不做部分成功、
// 也不自动重新入队，重新提交由调用方负责。
package batch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/minhyannv/taskflow/internal/constants"
	"github.com/minhyannv/taskflow/internal/models"
)

// Config 批处理配置，创建后不可修改
type Config struct {
	Name                string
	BatchSize           int
	BatchTimeout        time.Duration
	MaxWaitTime         time.Duration
	EnableDeduplication bool
	Priority            models.Priority // 仅作为提示，供下游区分批次
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = constants.DefaultBatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = constants.DefaultBatchTimeoutMs * time.Millisecond
	}
	if c.MaxWaitTime <= 0 {
		c.MaxWaitTime = constants.DefaultMaxWaitTimeMs * time.Millisecond
	}
	return c
}

// Item 缓冲中的单个元素
type Item[T, R any] struct {
	ID         string
	Payload    T
	EnqueuedAt time.Time
	Callback   func(result R, err error)
	Metadata   map[string]string
}

// Processor 下游处理器，results[i] 与 items[i] 按位置对应
type Processor[T, R any] interface {
	Process(ctx context.Context, items []*Item[T, R]) ([]R, error)
}

// ProcessorFunc 函数适配器
type ProcessorFunc[T, R any] func(ctx context.Context, items []*Item[T, R]) ([]R, error)

func (f ProcessorFunc[T, R]) Process(ctx context.Context, items []*Item[T, R]) ([]R, error) {
	return f(ctx, items)
}

// BatchFailedError 整批失败时交给每个回调的错误
type BatchFailedError struct {
	BatchSize int
	Err       error
}

func (e *BatchFailedError) Error() string {
	return fmt.Sprintf("批处理失败 (共 %d 项): %v", e.BatchSize, e.Err)
}

func (e *BatchFailedError) Unwrap() error {
	return e.Err
}

// Stats 批处理统计，仅用于观测
type Stats struct {
	Name           string        `json:"name"`
	Pending        int           `json:"pending"`
	TotalItems     uint64        `json:"total_items"`
	TotalBatches   uint64        `json:"total_batches"`
	FailedItems    uint64        `json:"failed_items"`
	Deduplicated   uint64        `json:"deduplicated"`
	ProcessingTime time.Duration `json:"processing_time"`
	LastFlush      time.Time     `json:"last_flush"`
}

// Accumulator 批量累加器
type Accumulator[T, R any] struct {
	config    Config
	processor Processor[T, R]
	logger    *zap.Logger

	mu      sync.Mutex
	buffer  []*Item[T, R]
	pending map[string]struct{}
	running bool
	stopped bool
	stopCh  chan struct{}
	done    chan struct{}

	flushMu   sync.Mutex // 串行化 flush，保证回调按 FIFO 交付
	flushCh   chan struct{}
	arrivedCh chan struct{}

	totalItems     atomic.Uint64
	totalBatches   atomic.Uint64
	failedItems    atomic.Uint64
	deduplicated   atomic.Uint64
	processingTime atomic.Int64
	lastFlush      atomic.Int64
}

// New 创建累加器；processor 为 nil 时首次 flush 以 ErrNotImplemented 失败
func New[T, R any](config Config, processor Processor[T, R], logger *zap.Logger) *Accumulator[T, R] {
	config = config.withDefaults()
	return &Accumulator[T, R]{
		config:    config,
		processor: processor,
		logger:    logger.With(zap.String("batch", config.Name)),
		pending:   make(map[string]struct{}),
		flushCh:   make(chan struct{}, 1),
		arrivedCh: make(chan struct{}, 1),
	}
}

// Name 累加器名称
func (a *Accumulator[T, R]) Name() string { return a.config.Name }

// Config 返回配置副本
func (a *Accumulator[T, R]) Config() Config { return a.config }

// Add 加入一个元素。开启去重且 id 已在缓冲中时静默忽略并返回 false；
// 停止后返回 false。启动前加入的元素会缓冲到 Start 之后处理。
func (a *Accumulator[T, R]) Add(id string, payload T, callback func(R, error), metadata map[string]string) bool {
	return a.add(&Item[T, R]{
		ID:         id,
		Payload:    payload,
		EnqueuedAt: time.Now(),
		Callback:   callback,
		Metadata:   metadata,
	})
}

// AddMany 批量加入，返回实际入缓冲的数量
func (a *Accumulator[T, R]) AddMany(items []*Item[T, R]) int {
	added := 0
	for _, item := range items {
		if item == nil {
			continue
		}
		if item.EnqueuedAt.IsZero() {
			item.EnqueuedAt = time.Now()
		}
		if a.add(item) {
			added++
		}
	}
	return added
}

func (a *Accumulator[T, R]) add(item *Item[T, R]) bool {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		a.logger.Sugar().Warnf("批处理器已停止, 拒绝元素 %s", item.ID)
		return false
	}
	if a.config.EnableDeduplication {
		if _, exists := a.pending[item.ID]; exists {
			a.mu.Unlock()
			a.deduplicated.Add(1)
			return false
		}
		a.pending[item.ID] = struct{}{}
	}
	wasEmpty := len(a.buffer) == 0
	a.buffer = append(a.buffer, item)
	full := len(a.buffer) >= a.config.BatchSize
	a.mu.Unlock()

	if full {
		notify(a.flushCh)
	}
	if wasEmpty {
		notify(a.arrivedCh)
	}
	return true
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Pending 缓冲中的元素数量
func (a *Accumulator[T, R]) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffer)
}

// Start 启动后台触发循环
func (a *Accumulator[T, R]) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return fmt.Errorf("批处理器 %s 已停止", a.config.Name)
	}
	if a.running {
		return fmt.Errorf("批处理器 %s 已在运行", a.config.Name)
	}
	a.running = true
	a.stopCh = make(chan struct{})
	a.done = make(chan struct{})

	go a.run(ctx, a.stopCh, a.done)

	a.logger.Sugar().Infof("批处理器已启动, batch_size: %d, batch_timeout: %v, max_wait_time: %v",
		a.config.BatchSize, a.config.BatchTimeout, a.config.MaxWaitTime)
	return nil
}

// Stop 停止后台循环，并把缓冲中剩余元素全部 flush；停止后不再接受新元素
func (a *Accumulator[T, R]) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	if !a.running {
		a.mu.Unlock()
		a.drain(context.Background())
		return
	}
	a.running = false
	close(a.stopCh)
	done := a.done
	a.mu.Unlock()

	<-done
	a.logger.Sugar().Infof("批处理器 %s 已停止", a.config.Name)
}

func (a *Accumulator[T, R]) run(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.config.BatchTimeout)
	defer ticker.Stop()

	ageTimer := time.NewTimer(time.Hour)
	ageTimer.Stop()
	defer ageTimer.Stop()
	var ageC <-chan time.Time

	for {
		select {
		case <-stopCh:
			a.drain(context.WithoutCancel(ctx))
			return
		case <-ctx.Done():
			a.mu.Lock()
			a.stopped = true
			a.mu.Unlock()
			a.drain(context.WithoutCancel(ctx))
			return
		case <-a.flushCh:
			for a.Pending() >= a.config.BatchSize {
				a.Flush(ctx)
			}
		case <-ticker.C:
			a.Flush(ctx)
		case <-ageC:
			a.Flush(ctx)
		case <-a.arrivedCh:
		}

		// 按最老元素的剩余等待时间重新布置超龄定时器
		ageC = nil
		if !ageTimer.Stop() {
			select {
			case <-ageTimer.C:
			default:
			}
		}
		if oldest, ok := a.oldest(); ok {
			wait := a.config.MaxWaitTime - time.Since(oldest)
			if wait < 0 {
				wait = 0
			}
			ageTimer.Reset(wait)
			ageC = ageTimer.C
		}
	}
}

func (a *Accumulator[T, R]) oldest() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buffer) == 0 {
		return time.Time{}, false
	}
	return a.buffer[0].EnqueuedAt, true
}

func (a *Accumulator[T, R]) drain(ctx context.Context) {
	for a.Pending() > 0 {
		a.Flush(ctx)
	}
}

// Flush 取出至多 BatchSize 个元素（FIFO）交给处理器，返回本批数量与处理器错误
func (a *Accumulator[T, R]) Flush(ctx context.Context) (int, error) {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	n := min(len(a.buffer), a.config.BatchSize)
	if n == 0 {
		a.mu.Unlock()
		return 0, nil
	}
	items := make([]*Item[T, R], n)
	copy(items, a.buffer[:n])
	a.buffer = append(a.buffer[:0:0], a.buffer[n:]...)
	if a.config.EnableDeduplication {
		for _, item := range items {
			delete(a.pending, item.ID)
		}
	}
	a.mu.Unlock()

	start := time.Now()
	results, err := a.process(ctx, items)
	duration := time.Since(start)

	a.totalBatches.Add(1)
	a.totalItems.Add(uint64(n))
	a.processingTime.Add(int64(duration))
	a.lastFlush.Store(time.Now().UnixNano())

	if err != nil {
		failure := &BatchFailedError{BatchSize: n, Err: err}
		a.failedItems.Add(uint64(n))
		a.logger.Sugar().Errorf("批次处理失败, 数量: %d, 耗时: %v, 错误: %v", n, duration, err)
		var zero R
		for _, item := range items {
			a.deliver(item, zero, failure)
		}
		return n, err
	}

	var missing int
	for i, item := range items {
		if i < len(results) {
			a.deliver(item, results[i], nil)
			continue
		}
		missing++
		var zero R
		a.deliver(item, zero, &BatchFailedError{
			BatchSize: n,
			Err:       fmt.Errorf("处理器返回结果数量不足: %d/%d", len(results), n),
		})
	}
	if missing > 0 {
		a.failedItems.Add(uint64(missing))
	}
	a.logger.Sugar().Debugf("批次处理完成, 数量: %d, 耗时: %v", n, duration)
	return n, nil
}

// process 调用处理器，panic 转为错误
func (a *Accumulator[T, R]) process(ctx context.Context, items []*Item[T, R]) (results []R, err error) {
	if a.processor == nil {
		return nil, fmt.Errorf("批处理器 %s: %w", a.config.Name, models.ErrNotImplemented)
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Sugar().Errorf("处理器 panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("处理器 panic: %v", r)
		}
	}()
	return a.processor.Process(ctx, items)
}

func (a *Accumulator[T, R]) deliver(item *Item[T, R], result R, err error) {
	if item.Callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Sugar().Errorf("元素 %s 回调 panic: %v", item.ID, r)
		}
	}()
	item.Callback(result, err)
}

// Stats 统计快照
func (a *Accumulator[T, R]) Stats() Stats {
	var last time.Time
	if ns := a.lastFlush.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		Name:           a.config.Name,
		Pending:        a.Pending(),
		TotalItems:     a.totalItems.Load(),
		TotalBatches:   a.totalBatches.Load(),
		FailedItems:    a.failedItems.Load(),
		Deduplicated:   a.deduplicated.Load(),
		ProcessingTime: time.Duration(a.processingTime.Load()),
		LastFlush:      last,
	}
}
