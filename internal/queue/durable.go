package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/minhyannv/taskflow/internal/constants"
	"github.com/minhyannv/taskflow/internal/models"
	"github.com/minhyannv/taskflow/internal/store"
)

// durableRecord 持久化的元素记录
type durableRecord struct {
	ID         string            `json:"id"`
	Payload    []byte            `json:"payload"`
	Priority   int               `json:"priority"`
	Timestamp  int64             `json:"timestamp"` // unix nano
	RetryCount int               `json:"retry_count"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Member     string            `json:"member"`
}

// DurableOptions 持久化队列选项
type DurableOptions struct {
	KeyPrefix string
	MaxSize   int           // <=0 表示不限
	ItemTTL   time.Duration // 记录过期时间，<=0 不过期
}

// DurableQueue 基于远端 KV 的持久化优先级队列。
// 记录存放在 <prefix>:item:<id>，顺序由 <prefix>:index 有序索引维护。
// TTL 过期的记录会在到达队首时被清理出索引，因此 Size 在清理前可能偏大。
type DurableQueue struct {
	name   string
	store  store.Store
	logger *zap.Logger

	prefix  string
	maxSize int
	ttl     time.Duration

	mu  sync.Mutex // 串行化本进程内的读-改-写序列
	seq atomic.Uint64

	pushed        atomic.Uint64
	popped        atomic.Uint64
	rejected      atomic.Uint64
	expired       atomic.Uint64
	backendErrors atomic.Uint64
}

// NewDurableQueue 创建持久化队列
func NewDurableQueue(name string, st store.Store, logger *zap.Logger, opts DurableOptions) *DurableQueue {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = constants.DefaultKeyPrefix
	}
	return &DurableQueue{
		name:    name,
		store:   st,
		logger:  logger.With(zap.String("queue", name)),
		prefix:  prefix + ":" + name,
		maxSize: opts.MaxSize,
		ttl:     opts.ItemTTL,
	}
}

func (q *DurableQueue) Name() string { return q.name }

func (q *DurableQueue) Type() models.QueueType { return models.DurableQueue }

// MaxSize 容量上限
func (q *DurableQueue) MaxSize() int { return q.maxSize }

// BackendErrors 后端错误累计次数
func (q *DurableQueue) BackendErrors() uint64 { return q.backendErrors.Load() }

func (q *DurableQueue) itemKey(id string) string {
	return q.prefix + constants.ItemKeySegment + id
}

func (q *DurableQueue) indexKey() string {
	return q.prefix + constants.IndexKeySegment
}

// backendFailed 记录并计数后端错误
func (q *DurableQueue) backendFailed(op string, err error) {
	q.backendErrors.Add(1)
	q.logger.Sugar().Warnf("持久化队列 %s 操作失败: %v", op, fmt.Errorf("%w: %v", models.ErrBackend, err))
}

// Push 入队
func (q *DurableQueue) Push(ctx context.Context, item *QueueItem) bool {
	if item == nil || item.ID == "" {
		return false
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now()
	}

	member, err := encodeMember(item.Priority, item.Timestamp, q.seq.Add(1), item.ID)
	if err != nil {
		q.rejected.Add(1)
		q.logger.Sugar().Warnf("拒绝入队 %s: %v", item.ID, err)
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	_, exists, err := q.store.Get(ctx, q.itemKey(item.ID))
	if err != nil {
		q.backendFailed("push", err)
		return false
	}
	if exists {
		q.rejected.Add(1)
		return false
	}

	if q.maxSize > 0 {
		n, err := q.store.ZCard(ctx, q.indexKey())
		if err != nil {
			q.backendFailed("push", err)
			return false
		}
		if n >= int64(q.maxSize) {
			q.rejected.Add(1)
			return false
		}
	}

	data, err := json.Marshal(durableRecord{
		ID:         item.ID,
		Payload:    item.Payload,
		Priority:   item.Priority,
		Timestamp:  item.Timestamp.UnixNano(),
		RetryCount: item.RetryCount,
		Metadata:   item.Metadata,
		Member:     member,
	})
	if err != nil {
		q.rejected.Add(1)
		q.logger.Sugar().Errorf("序列化元素 %s 失败: %v", item.ID, err)
		return false
	}

	if err := q.store.SetWithTTL(ctx, q.itemKey(item.ID), string(data), q.ttl); err != nil {
		q.backendFailed("push", err)
		return false
	}
	if err := q.store.ZAdd(ctx, q.indexKey(), member, 0); err != nil {
		q.backendFailed("push", err)
		// 回滚记录，避免留下无索引的孤儿
		if _, delErr := q.store.Delete(ctx, q.itemKey(item.ID)); delErr != nil {
			q.backendFailed("push-rollback", delErr)
		}
		return false
	}

	q.pushed.Add(1)
	return true
}

// Pop 出队
func (q *DurableQueue) Pop(ctx context.Context) (*QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		member, id, ok := q.head(ctx)
		if !ok {
			return nil, false
		}

		// 先读记录再移除索引，读取失败时元素保持在队列中
		item, found, err := q.load(ctx, id)
		if err != nil {
			return nil, false
		}
		if !found {
			if !q.dropMember(ctx, "pop", member) {
				return nil, false
			}
			continue
		}

		removed, err := q.store.ZRem(ctx, q.indexKey(), member)
		if err != nil {
			q.backendFailed("pop", err)
			return nil, false
		}
		if removed == 0 {
			// 已被其他进程取走
			continue
		}
		if _, err := q.store.Delete(ctx, q.itemKey(id)); err != nil {
			q.backendFailed("pop", err)
		}
		q.popped.Add(1)
		return item, true
	}
}

// dropMember 移除记录已不存在的索引成员
func (q *DurableQueue) dropMember(ctx context.Context, op, member string) bool {
	if _, err := q.store.ZRem(ctx, q.indexKey(), member); err != nil {
		q.backendFailed(op, err)
		return false
	}
	return true
}

// Peek 查看队首，顺带清理已过期的索引成员
func (q *DurableQueue) Peek(ctx context.Context) (*QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		member, id, ok := q.head(ctx)
		if !ok {
			return nil, false
		}
		item, found, err := q.load(ctx, id)
		if err != nil {
			return nil, false
		}
		if found {
			return item, true
		}
		if !q.dropMember(ctx, "peek", member) {
			return nil, false
		}
	}
}

// head 读取索引首个成员
func (q *DurableQueue) head(ctx context.Context) (member, id string, ok bool) {
	members, err := q.store.ZRange(ctx, q.indexKey(), 0, 0)
	if err != nil {
		q.backendFailed("range", err)
		return "", "", false
	}
	if len(members) == 0 {
		return "", "", false
	}
	member = members[0]
	id, err = decodeMemberID(member)
	if err != nil {
		q.logger.Sugar().Errorf("丢弃无法解析的索引成员: %v", err)
		if _, remErr := q.store.ZRem(ctx, q.indexKey(), member); remErr != nil {
			q.backendFailed("range", remErr)
			return "", "", false
		}
		return q.head(ctx)
	}
	return member, id, true
}

// load 读取记录；记录已过期或损坏时返回 found=false
func (q *DurableQueue) load(ctx context.Context, id string) (*QueueItem, bool, error) {
	raw, found, err := q.store.Get(ctx, q.itemKey(id))
	if err != nil {
		q.backendFailed("get", err)
		return nil, false, err
	}
	if !found {
		q.expired.Add(1)
		q.logger.Sugar().Debugf("元素 %s 已过期", id)
		return nil, false, nil
	}

	var rec durableRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		q.logger.Sugar().Errorf("解析元素 %s 失败, 丢弃: %v", id, err)
		return nil, false, nil
	}
	return &QueueItem{
		ID:         rec.ID,
		Payload:    rec.Payload,
		Priority:   rec.Priority,
		Timestamp:  time.Unix(0, rec.Timestamp),
		RetryCount: rec.RetryCount,
		Metadata:   rec.Metadata,
	}, true, nil
}

// Contains 判断 id 是否存在；后端不可达时返回 false
func (q *DurableQueue) Contains(ctx context.Context, id string) bool {
	_, found, err := q.store.Get(ctx, q.itemKey(id))
	if err != nil {
		q.backendFailed("contains", err)
		return false
	}
	return found
}

func (q *DurableQueue) Size(ctx context.Context) int {
	n, err := q.store.ZCard(ctx, q.indexKey())
	if err != nil {
		q.backendFailed("size", err)
		return 0
	}
	return int(n)
}

// full 队列是否已满；后端不可达时视为已满
func (q *DurableQueue) full(ctx context.Context) bool {
	if q.maxSize <= 0 {
		return false
	}
	n, err := q.store.ZCard(ctx, q.indexKey())
	if err != nil {
		q.backendFailed("size", err)
		return true
	}
	return n >= int64(q.maxSize)
}

func (q *DurableQueue) Clear(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	keys, err := q.store.Scan(ctx, q.prefix+constants.ItemKeySegment+"*")
	if err != nil {
		q.backendFailed("clear", err)
		return
	}
	keys = append(keys, q.indexKey())
	if _, err := q.store.Delete(ctx, keys...); err != nil {
		q.backendFailed("clear", err)
	}
}

func (q *DurableQueue) Stats(ctx context.Context) Stats {
	return Stats{
		Name:          q.name,
		Type:          models.DurableQueue,
		Size:          q.Size(ctx),
		MaxSize:       q.maxSize,
		Pushed:        q.pushed.Load(),
		Popped:        q.popped.Load(),
		Rejected:      q.rejected.Load(),
		BackendErrors: q.backendErrors.Load(),
	}
}
