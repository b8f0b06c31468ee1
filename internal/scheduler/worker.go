package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/minhyannv/taskflow/internal/models"
	"github.com/minhyannv/taskflow/internal/task"
)

// worker 调度器工作协程
type worker struct {
	s      *Scheduler
	id     string
	logger *zap.Logger
}

func newWorker(s *Scheduler, id string) *worker {
	return &worker{
		s:      s,
		id:     id,
		logger: s.logger.With(zap.String("workerId", id)),
	}
}

// Run 工作协程主循环，直到 ctx 结束
func (w *worker) Run(ctx context.Context) {
	w.logger.Sugar().Debugf("工作协程 %s 启动", w.id)

	for {
		if ctx.Err() != nil {
			w.logger.Sugar().Debugf("工作协程 %s 收到停止信号", w.id)
			return
		}
		if w.processNextTask(ctx) {
			continue
		}
		select {
		case <-ctx.Done():
			w.logger.Sugar().Debugf("工作协程 %s 收到停止信号", w.id)
			return
		case <-w.s.wakeCh:
		}
	}
}

// processNextTask 取出并执行下一个就绪任务，队列为空时返回 false
func (w *worker) processNextTask(ctx context.Context) bool {
	item, ok := w.s.ready.Pop(ctx)
	if !ok {
		return false
	}

	s := w.s
	s.mu.Lock()
	e, exists := s.tasks[item.ID]
	if !exists || e.task.Status != models.StatusPending {
		// 已取消或已清理
		s.mu.Unlock()
		return true
	}
	t := e.task
	t.UpdateStatus(models.StatusRunning)
	s.pending--
	id, work, timeout, attempt := t.ID, t.Work, t.Timeout, t.RetryCount
	s.mu.Unlock()

	s.executing.Add(1)
	start := time.Now()
	res, err := w.executeTaskOnce(ctx, id, work, timeout)
	s.executing.Add(-1)

	if err != nil {
		w.logger.Sugar().Warnf("任务 %s 执行失败 (第 %d 次尝试, 耗时 %v): %v", id, attempt+1, time.Since(start), err)
	} else {
		w.logger.Sugar().Debugf("任务 %s 执行成功, 耗时 %v", id, time.Since(start))
	}
	s.finish(ctx, id, res, err)
	return true
}

type outcome struct {
	res interface{}
	err error
}

// executeTaskOnce 带超时执行一次。阻塞执行体交给执行池，其余在独立协程中运行，
// 超时或 ctx 结束时立即返回
func (w *worker) executeTaskOnce(ctx context.Context, id string, work task.Executable, timeout time.Duration) (interface{}, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if task.IsBlocking(work) {
		res, err := w.s.pool.Do(runCtx, work.Execute)
		return res, w.timeoutError(runCtx, timeout, err)
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Sugar().Errorf("任务 %s panic: %v\n%s", id, r, debug.Stack())
				done <- outcome{err: fmt.Errorf("任务 panic: %v", r)}
			}
		}()
		res, err := work.Execute(runCtx)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		return o.res, w.timeoutError(runCtx, timeout, o.err)
	case <-runCtx.Done():
		return nil, w.timeoutError(runCtx, timeout, runCtx.Err())
	}
}

func (w *worker) timeoutError(runCtx context.Context, timeout time.Duration, err error) error {
	if err != nil && runCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: 任务执行超时 (%v): %v", models.ErrTimeout, timeout, err)
	}
	return err
}

// finish 根据执行结果推进状态机
func (s *Scheduler) finish(ctx context.Context, id string, res interface{}, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tasks[id]
	if !ok {
		return
	}
	t := e.task

	if err == nil {
		t.SetResult(res)
		s.completed.Add(1)
		s.doneLocked(e)
		s.releaseLocked(id)
		return
	}

	if ctx.Err() != nil || s.stopped {
		t.SetError(models.StatusCancelled, fmt.Errorf("%w: %w", models.ErrTaskCancelled, models.ErrStopped))
		s.cancelled.Add(1)
		s.doneLocked(e)
		s.cascadeLocked(id)
		return
	}

	if t.RetryCount < t.MaxRetries {
		delay := s.policy.Delay(t.RetryCount)
		t.RetryCount++
		t.ErrorMsg = err.Error()
		t.UpdateStatus(models.StatusRetrying)
		s.pending++
		s.retried.Add(1)
		s.retries[id] = time.AfterFunc(delay, func() { s.requeue(id) })
		s.logger.Sugar().Infof("任务 %s 将在 %v 后第 %d/%d 次重试", id, delay, t.RetryCount, t.MaxRetries)
		return
	}

	t.SetError(models.StatusFailed, &models.TaskFailedError{TaskID: id, Retries: t.RetryCount, Err: err})
	s.failed.Add(1)
	s.doneLocked(e)
	s.logger.Sugar().Errorf("任务 %s 最终执行失败 (重试 %d 次): %v", id, t.RetryCount, err)
	s.cascadeLocked(id)
}

// requeue 退避结束后把任务放回就绪队列
func (s *Scheduler) requeue(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.retries, id)
	e, ok := s.tasks[id]
	if !ok || e.task.Status != models.StatusRetrying || s.stopped {
		return
	}
	e.task.UpdateStatus(models.StatusPending)
	s.enqueueLocked(e.task)
}
