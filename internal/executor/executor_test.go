package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool_ReturnsResultAndError(t *testing.T) {
	p := NewPool(2, zap.NewNop())
	defer p.Close()
	ctx := context.Background()

	res, err := p.Do(ctx, func(context.Context) (interface{}, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, res)

	cause := errors.New("disk full")
	_, err = p.Do(ctx, func(context.Context) (interface{}, error) { return nil, cause })
	assert.ErrorIs(t, err, cause)

	_, err = p.Do(ctx, nil)
	assert.Error(t, err)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := NewPool(2, zap.NewNop())
	defer p.Close()

	var running, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Do(context.Background(), func(context.Context) (interface{}, error) {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				running.Add(-1)
				return nil, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2))
	assert.Equal(t, uint64(8), p.Stats().Completed)
}

func TestPool_RecoversPanic(t *testing.T) {
	p := NewPool(1, zap.NewNop())
	defer p.Close()

	_, err := p.Do(context.Background(), func(context.Context) (interface{}, error) { panic("bad tick") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad tick")
	assert.Equal(t, uint64(1), p.Stats().Panics)

	// 名额已释放
	res, err := p.Do(context.Background(), func(context.Context) (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
}

func TestPool_CallerContextEndsWait(t *testing.T) {
	p := NewPool(1, zap.NewNop())
	release := make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.Do(ctx, func(context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	p.Close()
	_, err = p.Do(context.Background(), func(context.Context) (interface{}, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrClosed)
}
