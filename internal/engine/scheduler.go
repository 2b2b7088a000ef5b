package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iceymoss/go-sched/internal/actions"
	"github.com/iceymoss/go-sched/internal/conf"
	"github.com/iceymoss/go-sched/internal/cron"
	"github.com/iceymoss/go-sched/internal/dispatch"
	"github.com/iceymoss/go-sched/internal/lock"
	"github.com/iceymoss/go-sched/pkg/db/objects"
	"github.com/iceymoss/go-sched/pkg/logger"

	"go.uber.org/zap"
)

// TickLockName 跨进程互斥锁的固定名字，整个调度循环一把锁，不按任务细分
const TickLockName = "go_sched:tick"

// JobStore 调度循环需要的存储读写面
// 只读 jobs/actions，追加 job_run_logs，绝不发 DDL、不改 job 行
type JobStore interface {
	EnabledJobs(ctx context.Context) ([]objects.Job, error)
	FindJob(ctx context.Context, id string) (*objects.Job, error)
	// LastRuns 按任务 id 批量取最近一条日志的 ran_at，一条 SQL，不逐任务查
	LastRuns(ctx context.Context, jobIDs []string) (map[string]time.Time, error)
	// FindAction 未找到时返回 (nil, nil)
	FindAction(ctx context.Context, id string) (*objects.Action, error)
	AppendRunLog(ctx context.Context, entry *objects.RunLog) error
}

// RunSink 运行结果的旁路出口（如 Redis 看板流），实现必须自己兜住错误
type RunSink interface {
	Publish(ctx context.Context, entry objects.RunLog)
}

// Scheduler 调度循环
// 由组合根构造一次、持有引用，不存在包级"已启动"标记
type Scheduler struct {
	store    JobStore
	locks    lock.Manager
	registry *actions.Registry
	disp     dispatch.Dispatcher
	resolver *CivilResolver
	sink     RunSink
	stats    *StatManager

	interval time.Duration
	now      func() time.Time

	busy    atomic.Bool
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

type Option func(*Scheduler)

// WithInterval 覆盖轮询间隔（测试用，生产走配置的钳制值）
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithNow 注入时钟，测试里拨时间用
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSink 挂运行结果旁路出口
func WithSink(sink RunSink) Option {
	return func(s *Scheduler) { s.sink = sink }
}

func NewScheduler(
	store JobStore,
	locks lock.Manager,
	registry *actions.Registry,
	disp dispatch.Dispatcher,
	resolver *CivilResolver,
	cfg conf.SchedulerConfig,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		store:    store,
		locks:    locks,
		registry: registry,
		disp:     disp,
		resolver: resolver,
		stats:    NewStatManager(),
		interval: cfg.TickInterval(),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats 暴露内存态运行统计给 API 层
func (s *Scheduler) Stats() *StatManager {
	return s.stats
}

// Start 启动循环：立刻跑一次 tick，之后按固定间隔
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop 停掉定时器并等当前 tick 退出，幂等
func (s *Scheduler) Stop() {
	s.stopped.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	s.safeTick()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.safeTick()
		}
	}
}

// safeTick tick 边界：同进程上个 tick 没跑完就跳过这轮，
// tick 里的任何 panic/error 都在这里吃掉，绝不能打断下一轮定时
func (s *Scheduler) safeTick() {
	if !s.busy.CompareAndSwap(false, true) {
		logger.Debug("previous tick still running, skipping")
		return
	}
	defer s.busy.Store(false)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("scheduler tick panicked", zap.Any("panic", r))
		}
	}()

	if err := s.Tick(context.Background()); err != nil {
		logger.Error("scheduler tick failed", zap.Error(err))
	}
}

// Tick 执行一轮评估，导出是为了手动触发和测试
func (s *Scheduler) Tick(ctx context.Context) error {
	lease, ok, err := s.locks.Acquire(ctx, TickLockName)
	if err != nil {
		return fmt.Errorf("acquire tick lock: %w", err)
	}
	if !ok {
		// 别的实例在跑，静默让路
		logger.Debug("tick lock held elsewhere, skipping")
		return nil
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			logger.Error("release tick lock", zap.Error(err))
		}
	}()

	// 整个 tick 共用同一个"现在"，长 tick 里时间前进也不影响判定一致性
	now := s.resolver.Resolve(s.now())

	jobs, err := s.store.EnabledJobs(ctx)
	if err != nil {
		return fmt.Errorf("load enabled jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	ids := make([]string, len(jobs))
	for i, job := range jobs {
		ids[i] = job.ID
	}
	lastRuns, err := s.store.LastRuns(ctx, ids)
	if err != nil {
		return fmt.Errorf("load last runs: %w", err)
	}

	for i := range jobs {
		s.evaluateJob(ctx, jobs[i], now, lastRuns)
	}
	return nil
}

// evaluateJob 单任务边界：这里面的任何失败只记日志/run log，不影响同轮其它任务
func (s *Scheduler) evaluateJob(ctx context.Context, job objects.Job, now Civil, lastRuns map[string]time.Time) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job evaluation panicked",
				zap.String("job_id", job.ID), zap.Any("panic", r))
		}
	}()

	lastKey, hasPrior := "", false
	if ranAt, ok := lastRuns[job.ID]; ok {
		lastKey, hasPrior = s.resolver.MinuteKey(ranAt), true
	}

	if !isDue(job.Schedule, now, lastKey, hasPrior) {
		return
	}

	s.fire(ctx, job, now)
}

// isDue 到点判定
// 表达式空/非法 → 不跑；没命中 → 不跑；命中且从没跑过 → 跑；
// 命中且上次运行不在当前这一分钟 → 跑。去重只有分钟键这一道，
// 它同时兜住了比一分钟短的 tick 间隔和进程重启（状态从日志恢复）
func isDue(schedule string, now Civil, lastRanMinuteKey string, hasPrior bool) bool {
	if schedule == "" {
		return false
	}
	if !cron.Matches(schedule, now.Fields()) {
		return false
	}
	if !hasPrior {
		return true
	}
	return lastRanMinuteKey != now.MinuteKey
}

// fire 解析动作并派发，无论结果如何恰好落一条 run log
func (s *Scheduler) fire(ctx context.Context, job objects.Job, now Civil) {
	action := s.resolveAction(ctx, job.Action)
	if action == nil {
		s.record(ctx, job, now, objects.RunStatusFail, "unknown_action:"+job.Action)
		return
	}

	if s.disp == nil {
		s.record(ctx, job, now, objects.RunStatusFail, "dispatcher_missing")
		return
	}

	payload := dispatch.MergePayload(action.PayloadTemplate, job.Payload)
	outcome := s.dispatchSafely(ctx, *action, payload)

	if outcome.OK {
		msg := fmt.Sprintf("action=%s status=%d duration_ms=%d", action.ID, outcome.Status, outcome.DurationMs)
		s.record(ctx, job, now, objects.RunStatusOK, msg)
		return
	}

	msg := fmt.Sprintf("action=%s status=%d duration_ms=%d err=%s", action.ID, outcome.Status, outcome.DurationMs, outcome.Err)
	s.record(ctx, job, now, objects.RunStatusFail, msg)
}

// resolveAction 两级解析：先查 actions 表，查不到再翻内存注册表
// 表查询报错按查不到处理（错误在 run log 里以 unknown_action 体现，tick 继续）
func (s *Scheduler) resolveAction(ctx context.Context, id string) *objects.Action {
	if id == "" {
		return nil
	}

	action, err := s.store.FindAction(ctx, id)
	if err != nil {
		logger.Error("action lookup failed", zap.String("action_id", id), zap.Error(err))
	}
	if action != nil {
		return action
	}

	if s.registry != nil {
		return s.registry.Find(id)
	}
	return nil
}

// dispatchSafely 派发器自己抛出的 panic 也算一次失败结果，不许往外冒
func (s *Scheduler) dispatchSafely(ctx context.Context, action objects.Action, payload map[string]any) (outcome dispatch.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = dispatch.Outcome{OK: false, Err: fmt.Sprintf("dispatcher panic: %v", r)}
		}
	}()
	return s.disp.Dispatch(ctx, action, payload)
}

// record 落一条只追加的 run log，并同步内存统计和旁路出口
func (s *Scheduler) record(ctx context.Context, job objects.Job, now Civil, status, message string) {
	entry := &objects.RunLog{
		JobID:   job.ID,
		Status:  status,
		Message: objects.TruncateMessage(message),
		RanAt:   s.now(),
	}
	if err := s.store.AppendRunLog(ctx, entry); err != nil {
		logger.Error("append run log failed",
			zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	s.stats.Record(job.ID, job.Name, job.Schedule, now.MinuteKey, statResult(status, message))

	if s.sink != nil {
		s.sink.Publish(ctx, *entry)
	}
}

func statResult(status, message string) string {
	if status == objects.RunStatusOK {
		return "Success"
	}
	return "Error: " + message
}

// RunJobNow 手动触发：跳过 cron 判定和分钟去重，直接派发并落日志
func (s *Scheduler) RunJobNow(ctx context.Context, jobID string) error {
	job, err := s.store.FindJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("find job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job %q not found", jobID)
	}

	s.fire(ctx, *job, s.resolver.Resolve(s.now()))
	return nil
}
