package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrClosed 执行池已关闭
var ErrClosed = errors.New("执行池已关闭")

// Func 在执行池中运行的阻塞函数
type Func func(ctx context.Context) (interface{}, error)

// Pool 阻塞任务执行池，并发上限由信号量控制。
// 调用方的 ctx 结束时 Do 立即返回，但已开始的函数会继续运行直到返回并释放名额。
type Pool struct {
	logger *zap.Logger
	size   int64
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	closed    atomic.Bool
	active    atomic.Int64
	completed atomic.Uint64
	panics    atomic.Uint64
}

// Stats 执行池统计
type Stats struct {
	Size      int64  `json:"size"`
	Active    int64  `json:"active"`
	Completed uint64 `json:"completed"`
	Panics    uint64 `json:"panics"`
}

type outcome struct {
	result interface{}
	err    error
}

// NewPool 创建执行池
func NewPool(size int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		logger: logger.With(zap.String("component", "executor")),
		size:   int64(size),
		sem:    semaphore.NewWeighted(int64(size)),
	}
}

// Do 占用一个名额执行 fn 并等待结果
func (p *Pool) Do(ctx context.Context, fn Func) (interface{}, error) {
	if fn == nil {
		return nil, fmt.Errorf("执行函数不能为空")
	}
	if p.closed.Load() {
		return nil, ErrClosed
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	done := make(chan outcome, 1)
	p.wg.Add(1)
	p.active.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer p.active.Add(-1)
		defer p.completed.Add(1)

		res, err := p.run(ctx, fn)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) run(ctx context.Context, fn Func) (res interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Sugar().Errorf("阻塞任务 panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("阻塞任务 panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Close 拒绝新任务并等待进行中的任务结束
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}
	p.wg.Wait()
	p.logger.Sugar().Infof("执行池已关闭, 共完成 %d 个任务", p.completed.Load())
}

// Stats 统计快照
func (p *Pool) Stats() Stats {
	return Stats{
		Size:      p.size,
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Panics:    p.panics.Load(),
	}
}
