package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/minhyannv/taskflow/internal/models"
	"github.com/minhyannv/taskflow/internal/task"
)

// periodicJob 周期提交定义
type periodicJob struct {
	id       string
	work     task.Executable
	interval time.Duration
	start    time.Time
	opts     []task.Option

	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	lastID   string
}

func (j *periodicJob) stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

// SchedulePeriodic 注册周期提交：从 startTime 开始（零值表示立即）每隔 interval 提交一次 work。
// 上一次提交的任务尚未结束时跳过本次。调度器未启动时，定义在 Start 后生效。
func (s *Scheduler) SchedulePeriodic(work task.Executable, interval time.Duration, startTime time.Time, opts ...task.Option) (string, error) {
	if work == nil {
		return "", fmt.Errorf("%w: 任务执行体不能为空", models.ErrValidation)
	}
	if interval <= 0 {
		return "", fmt.Errorf("%w: 周期必须大于 0", models.ErrValidation)
	}
	if err := validate(work, s.defaults().Apply(opts...)); err != nil {
		return "", err
	}

	job := &periodicJob{
		id:       uuid.New().String(),
		work:     work,
		interval: interval,
		start:    startTime,
		opts:     opts,
		stopCh:   make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return "", models.ErrStopped
	}
	s.periodic[job.id] = job
	if s.running {
		s.startPeriodicLocked(job)
	}
	s.logger.Sugar().Infof("已注册周期任务: %s (周期: %v)", job.id, interval)
	return job.id, nil
}

// CancelPeriodic 移除周期定义，已提交的任务不受影响
func (s *Scheduler) CancelPeriodic(id string) bool {
	s.mu.Lock()
	job, ok := s.periodic[id]
	if ok {
		delete(s.periodic, id)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	job.stop()
	s.logger.Sugar().Infof("已取消周期任务: %s", id)
	return true
}

func (s *Scheduler) startPeriodicLocked(job *periodicJob) {
	if job.started {
		return
	}
	job.started = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runPeriodic(s.ctx, job)
	}()
}

func (s *Scheduler) runPeriodic(ctx context.Context, job *periodicJob) {
	if delay := time.Until(job.start); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-job.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}

	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()

	for {
		s.firePeriodic(ctx, job)
		select {
		case <-ticker.C:
		case <-job.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) firePeriodic(ctx context.Context, job *periodicJob) {
	if job.lastID != "" {
		if snap, err := s.Status(job.lastID); err == nil && !snap.Status.IsTerminal() {
			s.logger.Sugar().Debugf("周期任务 %s 上一次提交 %s 尚未结束, 跳过", job.id, job.lastID)
			return
		}
	}

	opts := append([]task.Option{task.WithMetadata(map[string]string{"schedule_id": job.id})}, job.opts...)
	id, err := s.Submit(ctx, job.work, opts...)
	if err != nil {
		s.logger.Sugar().Warnf("周期任务 %s 提交失败: %v", job.id, err)
		return
	}
	job.lastID = id
}
