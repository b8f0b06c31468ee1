package queue

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/minhyannv/taskflow/internal/constants"
	"github.com/minhyannv/taskflow/internal/models"
	"github.com/minhyannv/taskflow/internal/store"
)

// HybridOptions 混合队列选项
type HybridOptions struct {
	MaxSize           int
	MemoryRatio       float64 // 热层占总容量比例，默认 0.2
	RebalanceInterval time.Duration
	ItemTTL           time.Duration
	KeyPrefix         string
}

// HybridQueue 冷热混合队列：热层为内存堆，冷层为持久化队列。
//
// Push 优先写热层，热层满时写冷层，两层都满才拒绝。Pop/Peek 比较两层队首，
// 返回全局优先级更高者；冷层不可达时退化为只用热层。后台再平衡按固定间隔
// （以及每次 Pop 之后）把冷层队首提升到热层，直到热层满或冷层空。
// 顺序保证是"以最近一次再平衡为准的全局正确"，不是线性一致。
type HybridQueue struct {
	name   string
	hot    *MemoryQueue
	cold   *DurableQueue
	logger *zap.Logger

	interval time.Duration

	mu      sync.Mutex // 保证 比较-取出 与 提升 的原子性
	trigger chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool

	promoted   atomic.Uint64
	rebalances atomic.Uint64
}

// NewHybridQueue 创建混合队列
func NewHybridQueue(name string, st store.Store, logger *zap.Logger, opts HybridOptions) (*HybridQueue, error) {
	if opts.MaxSize < 2 {
		return nil, fmt.Errorf("%w: 混合队列容量至少为 2, 当前 %d", models.ErrValidation, opts.MaxSize)
	}
	ratio := opts.MemoryRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = constants.DefaultHybridMemoryRatio
	}
	interval := opts.RebalanceInterval
	if interval <= 0 {
		interval = constants.DefaultRebalanceMs * time.Millisecond
	}

	hotCap := int(math.Ceil(float64(opts.MaxSize)*ratio - 1e-9))
	if hotCap < 1 {
		hotCap = 1
	}
	if hotCap >= opts.MaxSize {
		hotCap = opts.MaxSize - 1
	}
	coldCap := opts.MaxSize - hotCap

	return &HybridQueue{
		name: name,
		hot:  NewMemoryQueue(name+".hot", hotCap),
		cold: NewDurableQueue(name+".cold", st, logger, DurableOptions{
			KeyPrefix: opts.KeyPrefix,
			MaxSize:   coldCap,
			ItemTTL:   opts.ItemTTL,
		}),
		logger:   logger.With(zap.String("queue", name)),
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}, nil
}

func (q *HybridQueue) Name() string { return q.name }

func (q *HybridQueue) Type() models.QueueType { return models.HybridQueue }

// Hot 热层
func (q *HybridQueue) Hot() *MemoryQueue { return q.hot }

// Cold 冷层
func (q *HybridQueue) Cold() *DurableQueue { return q.cold }

// Push 入队
func (q *HybridQueue) Push(ctx context.Context, item *QueueItem) bool {
	if item == nil || item.ID == "" {
		return false
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.hot.Contains(item.ID) || q.cold.Contains(ctx, item.ID) {
		return false
	}
	if !q.hot.full() && q.hot.Push(ctx, item) {
		return true
	}
	return q.cold.Push(ctx, item)
}

// Pop 出队
func (q *HybridQueue) Pop(ctx context.Context) (*QueueItem, bool) {
	item, ok := q.pop(ctx)
	if ok {
		q.requestRebalance()
	}
	return item, ok
}

func (q *HybridQueue) pop(ctx context.Context) (*QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	h, hok := q.hot.Peek(ctx)
	c, cok := q.cold.Peek(ctx)

	if cok && (!hok || before(c, h)) {
		if item, ok := q.cold.Pop(ctx); ok {
			return item, true
		}
	}
	return q.hot.Pop(ctx)
}

// Peek 比较两层队首，返回全局优先级更高者，不修改任何一层
func (q *HybridQueue) Peek(ctx context.Context) (*QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	h, hok := q.hot.Peek(ctx)
	c, cok := q.cold.Peek(ctx)
	switch {
	case hok && cok:
		if before(c, h) {
			return c, true
		}
		return h, true
	case hok:
		return h, true
	case cok:
		return c, true
	}
	return nil, false
}

func (q *HybridQueue) Size(ctx context.Context) int {
	return q.hot.Size(ctx) + q.cold.Size(ctx)
}

func (q *HybridQueue) Clear(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.hot.Clear(ctx)
	q.cold.Clear(ctx)
}

// Rebalance 把冷层队首依次提升到热层，直到热层满或冷层空，返回提升数量。
// 冷层按序出队、热层按原时间戳入堆，两层内部相对顺序都不变。
func (q *HybridQueue) Rebalance(ctx context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rebalances.Add(1)
	moved := 0
	for !q.hot.full() {
		item, ok := q.cold.Pop(ctx)
		if !ok {
			break
		}
		if !q.hot.Push(ctx, item) {
			// 热层拒绝（id 冲突），放回冷层
			if !q.cold.Push(ctx, item) {
				q.logger.Sugar().Errorf("元素 %s 提升失败且无法放回冷层", item.ID)
			}
			break
		}
		moved++
	}
	if moved > 0 {
		q.promoted.Add(uint64(moved))
		q.logger.Sugar().Debugf("再平衡提升 %d 个元素到热层", moved)
	}
	return moved
}

func (q *HybridQueue) requestRebalance() {
	select {
	case q.trigger <- struct{}{}:
	default:
	}
}

// Start 启动后台再平衡
func (q *HybridQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return fmt.Errorf("混合队列 %s 已在运行", q.name)
	}
	q.running = true
	q.stopCh = make(chan struct{})

	q.wg.Add(1)
	go q.rebalanceLoop(ctx, q.stopCh)

	q.logger.Sugar().Infof("混合队列已启动, 热层容量: %d, 冷层容量: %d, 再平衡间隔: %v",
		q.hot.MaxSize(), q.cold.MaxSize(), q.interval)
	return nil
}

// Stop 停止后台再平衡
func (q *HybridQueue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopCh)
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Sugar().Infof("混合队列 %s 已停止", q.name)
}

func (q *HybridQueue) rebalanceLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Rebalance(ctx)
		case <-q.trigger:
			q.Rebalance(ctx)
		}
	}
}

func (q *HybridQueue) Stats(ctx context.Context) Stats {
	hot := q.hot.Stats(ctx)
	cold := q.cold.Stats(ctx)
	return Stats{
		Name:          q.name,
		Type:          models.HybridQueue,
		Size:          hot.Size + cold.Size,
		MaxSize:       hot.MaxSize + cold.MaxSize,
		Pushed:        hot.Pushed + cold.Pushed - q.promoted.Load(),
		Popped:        hot.Popped + cold.Popped - q.promoted.Load(),
		Rejected:      hot.Rejected + cold.Rejected,
		BackendErrors: cold.BackendErrors,
		Promoted:      q.promoted.Load(),
		Rebalances:    q.rebalances.Load(),
		Tiers: map[string]Stats{
			"hot":  hot,
			"cold": cold,
		},
	}
}
