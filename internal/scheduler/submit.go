package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/minhyannv/taskflow/internal/models"
	"github.com/minhyannv/taskflow/internal/task"
)

func (s *Scheduler) defaults() task.TaskOptions {
	return task.TaskOptions{
		Priority:   s.cfg.DefaultPriority,
		Timeout:    s.cfg.DefaultTimeout,
		MaxRetries: s.cfg.DefaultMaxRetries,
	}
}

// Submit 提交任务，返回任务 id
func (s *Scheduler) Submit(ctx context.Context, work task.Executable, opts ...task.Option) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	o := s.defaults().Apply(opts...)
	if err := validate(work, o); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitLocked(work, o)
}

// SubmitHandler 提交已注册的命名处理器
func (s *Scheduler) SubmitHandler(ctx context.Context, name, payload string, opts ...task.Option) (string, error) {
	work, err := s.handlers.Bind(name, payload)
	if err != nil {
		return "", err
	}
	if !hasName(opts) {
		opts = append([]task.Option{task.WithName(name)}, opts...)
	}
	return s.Submit(ctx, work, opts...)
}

func hasName(opts []task.Option) bool {
	return task.TaskOptions{}.Apply(opts...).Name != ""
}

// SubmitGroup 批量提交，全部校验通过才会提交；groupTag 非空时覆盖每个任务的分组
func (s *Scheduler) SubmitGroup(ctx context.Context, specs []task.TaskSpec, groupTag string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resolved := make([]task.TaskOptions, len(specs))
	for i, spec := range specs {
		o := s.defaults().Apply(spec.Options...)
		if groupTag != "" {
			o.Group = groupTag
		}
		if err := validate(spec.Work, o); err != nil {
			return nil, fmt.Errorf("第 %d 个任务: %w", i, err)
		}
		resolved[i] = o
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending+len(specs) > s.maxPending {
		return nil, fmt.Errorf("%w: 待执行任务 %d + %d 超过上限 %d", models.ErrCapacity, s.pending, len(specs), s.maxPending)
	}
	for i, o := range resolved {
		if err := s.checkDependenciesLocked("", o.Dependencies); err != nil {
			return nil, fmt.Errorf("第 %d 个任务: %w", i, err)
		}
	}

	ids := make([]string, 0, len(specs))
	for i, spec := range specs {
		id, err := s.submitLocked(spec.Work, resolved[i])
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func validate(work task.Executable, o task.TaskOptions) error {
	if work == nil {
		return fmt.Errorf("%w: 任务执行体不能为空", models.ErrValidation)
	}
	if !o.Priority.Valid() {
		return fmt.Errorf("%w: 非法优先级 %d", models.ErrValidation, o.Priority)
	}
	if o.Timeout < 0 {
		return fmt.Errorf("%w: 超时时间不能为负数", models.ErrValidation)
	}
	if o.MaxRetries < 0 {
		return fmt.Errorf("%w: 重试次数不能为负数", models.ErrValidation)
	}
	return nil
}

func (s *Scheduler) checkDependenciesLocked(id string, deps []string) error {
	for _, dep := range deps {
		if dep == id {
			return fmt.Errorf("%w: 任务不能依赖自身", models.ErrValidation)
		}
		if _, ok := s.tasks[dep]; !ok {
			return fmt.Errorf("%w: 未知依赖任务 %s", models.ErrValidation, dep)
		}
	}
	return nil
}

func (s *Scheduler) submitLocked(work task.Executable, o task.TaskOptions) (string, error) {
	if s.stopped {
		return "", models.ErrStopped
	}
	if s.pending >= s.maxPending {
		return "", fmt.Errorf("%w: 待执行任务已达上限 %d", models.ErrCapacity, s.maxPending)
	}

	id := uuid.New().String()
	deps := dedupe(o.Dependencies)
	if err := s.checkDependenciesLocked(id, deps); err != nil {
		return "", err
	}

	now := time.Now()
	t := &task.Task{
		ID:           id,
		Name:         o.Name,
		Priority:     o.Priority,
		Status:       models.StatusPending,
		Dependencies: deps,
		Group:        o.Group,
		Metadata:     o.Metadata,
		MaxRetries:   o.MaxRetries,
		Timeout:      o.Timeout,
		CreatedAt:    now,
		UpdatedAt:    now,
		Work:         work,
	}
	e := &entry{task: t, done: make(chan struct{})}
	s.tasks[id] = e
	s.pending++
	s.submitted.Add(1)
	if o.Group != "" {
		s.groups[o.Group] = append(s.groups[o.Group], id)
	}

	for _, dep := range deps {
		d := s.tasks[dep].task
		switch d.Status {
		case models.StatusCompleted:
			continue
		case models.StatusFailed, models.StatusCancelled:
			s.cancelLocked(id, fmt.Errorf("%w: 依赖任务 %s 未成功完成", models.ErrTaskCancelled, dep))
			s.logger.Sugar().Infof("任务 %s 提交即取消, 依赖任务 %s 状态: %s", id, dep, d.Status)
			return id, nil
		}
		e.unmet++
		s.dependents[dep] = append(s.dependents[dep], id)
	}

	if e.unmet == 0 {
		s.enqueueLocked(t)
	}
	s.logger.Sugar().Debugf("任务已提交: %s (名称: %s, 优先级: %s, 依赖: %d)", id, t.Name, t.Priority, e.unmet)
	return id, nil
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Status 查询任务状态
func (s *Scheduler) Status(id string) (task.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tasks[id]
	if !ok {
		return task.Snapshot{}, fmt.Errorf("%w: 任务 %s", models.ErrNotFound, id)
	}
	return e.task.Snapshot(), nil
}

// Cancel 取消任务，只有 Pending 状态的任务可以取消
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tasks[id]
	if !ok || e.task.Status != models.StatusPending {
		return false
	}
	s.cancelLocked(id, models.ErrTaskCancelled)
	s.logger.Sugar().Infof("任务 %s 已取消", id)
	return true
}

// cancelLocked 把非终态任务标记为取消，并级联取消其传递依赖者
func (s *Scheduler) cancelLocked(id string, cause error) {
	e := s.tasks[id]
	if e == nil || e.task.Status.IsTerminal() {
		return
	}
	if timer, ok := s.retries[id]; ok {
		timer.Stop()
		delete(s.retries, id)
	}
	if e.task.Status == models.StatusPending || e.task.Status == models.StatusRetrying {
		s.pending--
	}
	s.ready.Remove(id)
	e.task.SetError(models.StatusCancelled, cause)
	s.cancelled.Add(1)
	s.doneLocked(e)

	s.cascadeLocked(id)
}

// cascadeLocked 广度优先取消所有传递依赖于 id 的任务
func (s *Scheduler) cascadeLocked(id string) {
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, dependent := range s.dependents[current] {
			e := s.tasks[dependent]
			if e == nil || e.task.Status.IsTerminal() {
				continue
			}
			if e.task.Status == models.StatusPending || e.task.Status == models.StatusRetrying {
				s.pending--
			}
			s.ready.Remove(dependent)
			e.task.SetError(models.StatusCancelled,
				fmt.Errorf("%w: 依赖任务 %s 未成功完成", models.ErrTaskCancelled, current))
			s.cancelled.Add(1)
			s.doneLocked(e)
			s.logger.Sugar().Infof("任务 %s 因依赖 %s 失败被级联取消", dependent, current)
			queue = append(queue, dependent)
		}
		delete(s.dependents, current)
	}
}

// releaseLocked 依赖 id 完成后递减依赖者计数，计数归零的任务入队
func (s *Scheduler) releaseLocked(id string) {
	for _, dependent := range s.dependents[id] {
		e := s.tasks[dependent]
		if e == nil || e.task.Status != models.StatusPending {
			continue
		}
		e.unmet--
		if e.unmet == 0 {
			s.enqueueLocked(e.task)
		}
	}
	delete(s.dependents, id)
}
