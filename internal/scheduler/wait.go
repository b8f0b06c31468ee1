package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/minhyannv/taskflow/internal/models"
)

// GroupResult 分组等待结果，成功与失败分开收集
type GroupResult struct {
	Results map[string]interface{}
	Errors  map[string]error
}

// Wait 阻塞直到任务进入终态、ctx 结束或超时；timeout<=0 表示不设超时。
// 失败返回 *models.TaskFailedError，取消返回包装 models.ErrTaskCancelled 的错误。
func (s *Scheduler) Wait(ctx context.Context, id string, timeout time.Duration) (interface{}, error) {
	s.mu.Lock()
	e, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: 任务 %s", models.ErrNotFound, id)
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-e.done:
	case <-deadline:
		return nil, fmt.Errorf("%w: 任务 %s 在 %v 内未结束", models.ErrTimeout, id, timeout)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: 任务 %s: %w", models.ErrTimeout, id, ctx.Err())
		}
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := e.task
	if t.Status == models.StatusCompleted {
		return t.Result, nil
	}
	return nil, t.Err
}

// WaitGroup 并行等待分组内所有任务。单个任务失败不会提前返回，
// 只有超时或 ctx 结束时返回错误，此时结果中包含已结束的部分
func (s *Scheduler) WaitGroup(ctx context.Context, tag string, timeout time.Duration) (GroupResult, error) {
	s.mu.Lock()
	ids := append([]string(nil), s.groups[tag]...)
	s.mu.Unlock()

	result := GroupResult{
		Results: make(map[string]interface{}),
		Errors:  make(map[string]error),
	}
	if len(ids) == 0 {
		return result, fmt.Errorf("%w: 分组 %s", models.ErrNotFound, tag)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			res, err := s.Wait(gctx, id, 0)
			if err != nil && (errors.Is(err, models.ErrTimeout) || gctx.Err() != nil) {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[id] = err
			} else {
				result.Results[id] = res
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded && !errors.Is(err, models.ErrTimeout) {
			err = fmt.Errorf("%w: 分组 %s: %w", models.ErrTimeout, tag, err)
		}
		return result, err
	}
	return result, nil
}
