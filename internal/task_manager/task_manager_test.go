package task_manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/minhyannv/taskflow/internal/constants"
	"github.com/minhyannv/taskflow/internal/models"
	"github.com/minhyannv/taskflow/internal/task"
)

func newTestManager(t *testing.T, ttl time.Duration) (*TaskManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewTaskManager(rdb, zap.NewNop(), ttl), mr
}

func completedSnapshot(id string) task.Snapshot {
	tk := &task.Task{
		ID:           id,
		Name:         "fetch_price",
		Priority:     models.PriorityHigh,
		Status:       models.StatusPending,
		Group:        "orders",
		Dependencies: []string{"d1"},
		Metadata:     map[string]string{"symbol": "BTC"},
		MaxRetries:   3,
		Timeout:      2 * time.Second,
		CreatedAt:    time.UnixMilli(1_700_000_000_000),
	}
	tk.UpdateStatus(models.StatusRunning)
	tk.RetryCount = 1
	tk.SetResult(42)
	return tk.Snapshot()
}

func TestTaskManager_SaveAndGet(t *testing.T) {
	tm, mr := newTestManager(t, time.Hour)
	ctx := context.Background()

	snap := completedSnapshot("t1")
	require.NoError(t, tm.SaveTask(ctx, snap))
	assert.Equal(t, time.Hour, mr.TTL(constants.TaskPrefix+"t1"))

	got, err := tm.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, "fetch_price", got.Name)
	assert.Equal(t, models.PriorityHigh, got.Priority)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "orders", got.Group)
	assert.Equal(t, []string{"d1"}, got.Dependencies)
	assert.Equal(t, map[string]string{"symbol": "BTC"}, got.Metadata)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, 3, got.MaxRetries)
	assert.Equal(t, 2*time.Second, got.Timeout)
	assert.Equal(t, "42", got.Result)
	assert.True(t, got.CreatedAt.Equal(snap.CreatedAt))
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	require.NoError(t, tm.DeleteTask(ctx, "t1"))
	_, err = tm.GetTask(ctx, "t1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTaskManager_FailedTaskKeepsErrorMessage(t *testing.T) {
	tm, mr := newTestManager(t, 0)
	ctx := context.Background()

	tk := &task.Task{ID: "t2", Status: models.StatusRunning, CreatedAt: time.Now()}
	tk.SetError(models.StatusFailed, errors.New("交易所拒单"))
	require.NoError(t, tm.SaveTask(ctx, tk.Snapshot()))
	assert.Equal(t, time.Duration(0), mr.TTL(constants.TaskPrefix+"t2"))

	got, err := tm.GetTask(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "交易所拒单", got.ErrorMsg)
	assert.EqualError(t, got.Err, "交易所拒单")
	assert.Nil(t, got.Result)
}

func TestTaskManager_RecordWritesInBackground(t *testing.T) {
	tm, mr := newTestManager(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, tm.Start(ctx))
	assert.Error(t, tm.Start(ctx))

	tm.Record(completedSnapshot("a"))
	require.Eventually(t, func() bool {
		return mr.Exists(constants.TaskPrefix + "a")
	}, time.Second, 5*time.Millisecond)

	tm.Stop()
	tm.Stop()
	assert.Equal(t, uint64(1), tm.Stats().Saved)
}

func TestTaskManager_StopDrainsBuffer(t *testing.T) {
	tm, mr := newTestManager(t, time.Hour)

	// 未启动时投递，缓冲区保留，Stop 前启动后统一写入
	for _, id := range []string{"x", "y", "z"} {
		tm.Record(completedSnapshot(id))
	}
	require.NoError(t, tm.Start(context.Background()))
	tm.Stop()

	for _, id := range []string{"x", "y", "z"} {
		assert.True(t, mr.Exists(constants.TaskPrefix+id), id)
	}
	assert.Equal(t, uint64(3), tm.Stats().Saved)
}

func TestTaskManager_DropsWhenBufferFull(t *testing.T) {
	tm, _ := newTestManager(t, time.Hour)

	for i := 0; i < constants.DefaultArchiveBuffer+5; i++ {
		tm.Record(completedSnapshot("t"))
	}
	assert.Equal(t, uint64(5), tm.Stats().Dropped)
}

func TestTaskManager_BackendFailureCounted(t *testing.T) {
	tm, mr := newTestManager(t, time.Hour)
	mr.Close()

	tm.Record(completedSnapshot("lost"))
	require.NoError(t, tm.Start(context.Background()))
	tm.Stop()

	assert.Equal(t, uint64(1), tm.Stats().Failed)
	assert.Equal(t, uint64(0), tm.Stats().Saved)
}
