package taskflow

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/minhyannv/taskflow/internal/batch"
	"github.com/minhyannv/taskflow/internal/scheduler"
)

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.Queue.MaxSize = 10
	cfg.Queue.RebalanceInterval = 10 * time.Millisecond

	opts = append([]Option{WithConfig(cfg), WithLogger(zap.NewNop())}, opts...)
	e, err := NewEngine(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func withMiniredis(t *testing.T) (Option, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return WithRedisClient(client), mr
}

func TestEngine_MemoryOnly(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.CreateQueue("orders", DurableQueue)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = e.CreateQueue("orders", HybridQueue)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = NewRedisListBatch[string](e, BatchConfig{Name: "fills"}, "")
	assert.ErrorIs(t, err, ErrValidation)

	q, err := e.CreateQueue("orders", MemoryQueue)
	require.NoError(t, err)
	_, err = e.CreateQueue("orders", MemoryQueue)
	assert.Error(t, err)
	assert.Equal(t, []string{"scheduler.ready", "orders"}, e.Queues().Names())

	require.True(t, q.Push(ctx, NewQueueItem([]byte(`{"side":"buy"}`), int(PriorityHigh))))

	require.NoError(t, e.RegisterHandler("quote", func(_ context.Context, payload string) (interface{}, error) {
		return "quote:" + payload, nil
	}))
	require.NoError(t, e.Start())
	assert.Error(t, e.Start())

	id, err := e.Scheduler().Submit(ctx, Func(func(context.Context) (interface{}, error) { return 42, nil }),
		WithPriority(PriorityHigh))
	require.NoError(t, err)
	res, err := e.Scheduler().Wait(ctx, id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 42, res)

	hid, err := e.Scheduler().SubmitHandler(ctx, "quote", "ETH")
	require.NoError(t, err)
	res, err = e.Scheduler().Wait(ctx, hid, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "quote:ETH", res)

	stats := e.GetStats(ctx)
	assert.Equal(t, true, stats["running"])
	assert.Equal(t, []string{"quote"}, stats["handlers"])
	sched := stats["scheduler"].(scheduler.Stats)
	assert.Equal(t, uint64(2), sched.Completed)
	queues := stats["queues"].(map[string]QueueStats)
	assert.Equal(t, 1, queues["orders"].Size)

	e.Stop()
	assert.Equal(t, false, e.GetStats(ctx)["running"])
}

func TestEngine_BatchStartsWithEngineAndFlushesOnStop(t *testing.T) {
	e := newEngine(t)

	var flushed []string
	acc, err := NewBatch[string, bool](e, BatchConfig{Name: "writes", BatchTimeout: time.Hour, MaxWaitTime: time.Hour},
		batch.ProcessorFunc[string, bool](func(_ context.Context, items []*batch.Item[string, bool]) ([]bool, error) {
			for _, item := range items {
				flushed = append(flushed, item.Payload)
			}
			return make([]bool, len(items)), nil
		}))
	require.NoError(t, err)
	assert.Equal(t, e.Config().Batch.BatchSize, acc.Config().BatchSize)

	_, err = NewBatch[string, bool](e, BatchConfig{Name: "writes"}, nil)
	assert.Error(t, err)

	require.NoError(t, e.Start())
	acc.Add("w1", "row-1", nil, nil)
	acc.Add("w2", "row-2", nil, nil)
	e.Stop()

	assert.Equal(t, []string{"row-1", "row-2"}, flushed)
	assert.Equal(t, uint64(2), e.Batches().Stats()["writes"].TotalItems)
}

func TestEngine_RedisBackedQueuesAndSink(t *testing.T) {
	redisOpt, mr := withMiniredis(t)
	e := newEngine(t, redisOpt)
	ctx := context.Background()
	require.NoError(t, e.Start())

	hq, err := e.CreateQueue("orders", HybridQueue)
	require.NoError(t, err)
	dq, err := e.CreateQueue("audit", DurableQueue)
	require.NoError(t, err)

	for i, p := range []Priority{PriorityLow, PriorityCritical, PriorityNormal} {
		item := NewQueueItem([]byte{byte('a' + i)}, int(p))
		require.True(t, hq.Push(ctx, item))
	}
	first, ok := hq.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, int(PriorityCritical), first.Priority)
	assert.Equal(t, 2, hq.Size(ctx))

	require.True(t, dq.Push(ctx, NewQueueItem([]byte("x"), 0)))
	assert.Equal(t, 1, dq.Size(ctx))

	sink, err := NewRedisListBatch[map[string]string](e, BatchConfig{Name: "fills", BatchSize: 2}, "fills")
	require.NoError(t, err)
	sink.Add("f1", map[string]string{"symbol": "BTC"}, nil, nil)
	sink.Add("f2", map[string]string{"symbol": "ETH"}, nil, nil)

	require.Eventually(t, func() bool {
		got, _ := mr.List("fills")
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	stats := e.GetStats(ctx)["queues"].(map[string]QueueStats)
	assert.Equal(t, HybridQueue, stats["orders"].Type)
	assert.Equal(t, e.Config().Queue.MaxSize, stats["orders"].MaxSize)
}

func TestEngine_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = addr
	_, err := NewEngine(context.Background(), WithConfig(cfg), WithLogger(zap.NewNop()))
	assert.Error(t, err)
}

func TestEngine_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scheduler.DefaultPriority = Priority(42)
	_, err := NewEngine(context.Background(), WithConfig(cfg), WithLogger(zap.NewNop()))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEngine_WatchConfigHotReloadsMaxPending(t *testing.T) {
	e := newEngine(t)
	path := filepath.Join(t.TempDir(), "taskflow.yaml")
	cfg := DefaultConfig()
	require.NoError(t, cfg.SaveToFile(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.WatchConfig(ctx, path))

	cfg.Scheduler.MaxPendingTasks = 7
	require.NoError(t, cfg.SaveToFile(path))

	require.Eventually(t, func() bool {
		return e.Scheduler().Stats().MaxPending == 7
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEngine_GetTaskFallsBackToArchive(t *testing.T) {
	redisOpt, _ := withMiniredis(t)
	e := newEngine(t, redisOpt)
	ctx := context.Background()
	require.NotNil(t, e.Archive())
	require.NoError(t, e.Start())

	id, err := e.Scheduler().Submit(ctx, Func(func(context.Context) (interface{}, error) { return "filled", nil }),
		WithName("execute_order"))
	require.NoError(t, err)
	_, err = e.Scheduler().Wait(ctx, id, time.Second)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return e.Archive().Stats().Saved == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, e.Scheduler().Prune(time.Now().Add(time.Second)))
	_, err = e.Scheduler().Status(id)
	assert.ErrorIs(t, err, ErrNotFound)

	snap, err := e.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, "execute_order", snap.Name)
	assert.Equal(t, "filled", snap.Result)

	_, err = e.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_MemoryOnlyHasNoArchive(t *testing.T) {
	e := newEngine(t)
	assert.Nil(t, e.Archive())
	_, err := e.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_OwnedRedisClientClosedWithEngine(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()

	e, err := NewEngine(context.Background(), WithConfig(cfg), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	rdb := e.RedisClient()
	require.NotNil(t, rdb)
	require.NotNil(t, e.Archive())
	require.NoError(t, rdb.Ping(context.Background()).Err())

	require.NoError(t, e.Close())
	assert.ErrorIs(t, rdb.Ping(context.Background()).Err(), redis.ErrClosed)
}

func TestEngine_InvalidConfigDoesNotDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()
	cfg.Scheduler.DefaultPriority = Priority(42)

	_, err := NewEngine(context.Background(), WithConfig(cfg), WithLogger(zap.NewNop()))
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, mr.CurrentConnectionCount())
}
