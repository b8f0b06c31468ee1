// Package scheduler 按优先级和依赖关系调度任务，在固定数量的工作协程上执行，
// 失败按退避策略重试。
//
// 任务表按 id 持有全部任务，就绪队列只存 id。依赖未满足的任务挂起在反向依赖表上，
// 依赖完成时递减计数并入队；依赖失败或取消时，所有传递依赖者被级联取消。
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/minhyannv/taskflow/internal/config"
	"github.com/minhyannv/taskflow/internal/executor"
	"github.com/minhyannv/taskflow/internal/handler_manager"
	"github.com/minhyannv/taskflow/internal/models"
	"github.com/minhyannv/taskflow/internal/queue"
	"github.com/minhyannv/taskflow/internal/retry"
	"github.com/minhyannv/taskflow/internal/task"
)

// entry 任务表中的一项
type entry struct {
	task  *task.Task
	unmet int           // 未完成的依赖数
	done  chan struct{} // 进入终态时关闭
}

// Scheduler 任务调度器
type Scheduler struct {
	logger   *zap.Logger
	cfg      config.SchedulerConfig
	policy   *retry.Policy
	handlers *handler_manager.HandlerManager
	pool     *executor.Pool

	mu         sync.Mutex
	tasks      map[string]*entry
	dependents map[string][]string // 依赖 id -> 等待它的任务 id
	groups     map[string][]string
	ready      *queue.MemoryQueue
	retries    map[string]*time.Timer
	periodic   map[string]*periodicJob
	pending    int // Pending + Retrying
	maxPending int
	running    bool
	stopped    bool

	onTerminal func(task.Snapshot)

	wakeCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	cancelled atomic.Uint64
	retried   atomic.Uint64
	executing atomic.Int64
}

// Stats 调度器统计
type Stats struct {
	Workers    int            `json:"workers"`
	Pending    int            `json:"pending"`
	Ready      int            `json:"ready"`
	Running    int64          `json:"running"`
	MaxPending int            `json:"max_pending"`
	Tasks      int            `json:"tasks"`
	Periodic   int            `json:"periodic"`
	Submitted  uint64         `json:"submitted"`
	Completed  uint64         `json:"completed"`
	Failed     uint64         `json:"failed"`
	Cancelled  uint64         `json:"cancelled"`
	Retried    uint64         `json:"retried"`
	Executor   executor.Stats `json:"executor"`
}

// New 创建调度器，handlers 为 nil 时使用空的处理器表
func New(cfg config.SchedulerConfig, retryCfg config.RetryConfig, handlers *handler_manager.HandlerManager, logger *zap.Logger) *Scheduler {
	full := config.DefaultConfig()
	full.Scheduler = cfg
	full.Retry = retryCfg
	if err := full.Validate(); err != nil {
		logger.Sugar().Warnf("调度器配置非法, 使用默认优先级: %v", err)
		full.Scheduler.DefaultPriority = models.PriorityNormal
	}
	cfg = full.Scheduler

	if handlers == nil {
		handlers = handler_manager.NewHandlerManager(logger)
	}

	return &Scheduler{
		logger:     logger.With(zap.String("component", "scheduler")),
		cfg:        cfg,
		policy:     retry.NewPolicy(full.Retry),
		handlers:   handlers,
		pool:       executor.NewPool(cfg.BlockingPoolSize, logger),
		tasks:      make(map[string]*entry),
		dependents: make(map[string][]string),
		groups:     make(map[string][]string),
		ready:      queue.NewMemoryQueue("scheduler.ready", 0),
		retries:    make(map[string]*time.Timer),
		periodic:   make(map[string]*periodicJob),
		maxPending: cfg.MaxPendingTasks,
		wakeCh:     make(chan struct{}, cfg.MaxWorkers),
	}
}

// SetTerminalHook 设置任务进入终态时的回调。回调在调度器锁内执行，不能阻塞。
func (s *Scheduler) SetTerminalHook(hook func(task.Snapshot)) {
	s.mu.Lock()
	s.onTerminal = hook
	s.mu.Unlock()
}

// doneLocked 唤醒等待者并触发终态回调
func (s *Scheduler) doneLocked(e *entry) {
	close(e.done)
	if s.onTerminal != nil {
		s.onTerminal(e.task.Snapshot())
	}
}

// Handlers 命名处理器表
func (s *Scheduler) Handlers() *handler_manager.HandlerManager { return s.handlers }

// ReadyQueue 就绪队列，只存任务 id
func (s *Scheduler) ReadyQueue() *queue.MemoryQueue { return s.ready }

// Start 启动工作协程
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return models.ErrStopped
	}
	if s.running {
		return fmt.Errorf("调度器已在运行")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.cfg.MaxWorkers; i++ {
		w := newWorker(s, fmt.Sprintf("worker-%d", i))
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w.Run(s.ctx)
		}()
	}
	for _, job := range s.periodic {
		s.startPeriodicLocked(job)
	}

	s.logger.Sugar().Infof("调度器已启动, 工作协程: %d, 待执行上限: %d, 阻塞池: %d",
		s.cfg.MaxWorkers, s.maxPending, s.cfg.BlockingPoolSize)
	return nil
}

// Stop 停止调度：周期任务停止，正在执行的任务收到取消信号，
// 剩余未完成的任务全部标记为取消，等待者随即返回
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	wasRunning := s.running
	s.running = false
	for id, timer := range s.retries {
		timer.Stop()
		delete(s.retries, id)
	}
	for _, job := range s.periodic {
		job.stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if wasRunning {
		s.wg.Wait()
	}
	s.pool.Close()

	s.mu.Lock()
	n := 0
	for id, e := range s.tasks {
		if !e.task.Status.IsTerminal() {
			s.cancelLocked(id, fmt.Errorf("%w: %w", models.ErrTaskCancelled, models.ErrStopped))
			n++
		}
	}
	s.mu.Unlock()

	s.logger.Sugar().Infof("调度器已停止, 取消未完成任务: %d", n)
}

// SetMaxPending 调整待执行任务上限，只影响之后的提交
func (s *Scheduler) SetMaxPending(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	old := s.maxPending
	s.maxPending = n
	s.mu.Unlock()
	if old != n {
		s.logger.Sugar().Infof("待执行任务上限: %d -> %d", old, n)
	}
}

// Stats 统计快照
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	pending, maxPending, tasks, periodic := s.pending, s.maxPending, len(s.tasks), len(s.periodic)
	s.mu.Unlock()

	return Stats{
		Workers:    s.cfg.MaxWorkers,
		Pending:    pending,
		Ready:      s.ready.Size(context.Background()),
		Running:    s.executing.Load(),
		MaxPending: maxPending,
		Tasks:      tasks,
		Periodic:   periodic,
		Submitted:  s.submitted.Load(),
		Completed:  s.completed.Load(),
		Failed:     s.failed.Load(),
		Cancelled:  s.cancelled.Load(),
		Retried:    s.retried.Load(),
		Executor:   s.pool.Stats(),
	}
}

// Prune 从任务表移除在 before 之前进入终态的任务，返回移除数量
func (s *Scheduler) Prune(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.tasks {
		t := e.task
		if !t.Status.IsTerminal() || t.CompletedAt == nil || !t.CompletedAt.Before(before) {
			continue
		}
		delete(s.tasks, id)
		removed++
	}
	if removed == 0 {
		return 0
	}
	for tag, ids := range s.groups {
		kept := ids[:0]
		for _, id := range ids {
			if _, ok := s.tasks[id]; ok {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(s.groups, tag)
			continue
		}
		s.groups[tag] = kept
	}
	s.logger.Sugar().Debugf("清理终态任务: %d", removed)
	return removed
}

// wake 通知空闲工作协程
func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// enqueueLocked 把就绪任务的 id 放入就绪队列，同优先级按入队时间排序，
// 重试的任务排在已就绪的同级任务之后
func (s *Scheduler) enqueueLocked(t *task.Task) {
	item := &queue.QueueItem{
		ID:        t.ID,
		Priority:  int(t.Priority),
		Timestamp: time.Now(),
	}
	if !s.ready.Push(context.Background(), item) {
		s.logger.Sugar().Warnf("任务 %s 已在就绪队列中", t.ID)
		return
	}
	s.wake()
}
