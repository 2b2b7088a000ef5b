package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iceymoss/go-sched/internal/actions"
	"github.com/iceymoss/go-sched/internal/conf"
	"github.com/iceymoss/go-sched/internal/dispatch"
	"github.com/iceymoss/go-sched/internal/lock"
	"github.com/iceymoss/go-sched/pkg/db/objects"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- fakes ----

type fakeStore struct {
	mu       sync.Mutex
	jobs     []objects.Job
	actions  map[string]objects.Action
	preRuns  map[string]time.Time // 预置的历史运行（模拟重启恢复）
	logs     []objects.RunLog
	jobsErr  error
	logCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		actions: make(map[string]objects.Action),
		preRuns: make(map[string]time.Time),
	}
}

func (f *fakeStore) EnabledJobs(ctx context.Context) ([]objects.Job, error) {
	if f.jobsErr != nil {
		return nil, f.jobsErr
	}
	var out []objects.Job
	for _, j := range f.jobs {
		if j.Enabled {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeStore) FindJob(ctx context.Context, id string) (*objects.Job, error) {
	for i := range f.jobs {
		if f.jobs[i].ID == id {
			j := f.jobs[i]
			return &j, nil
		}
	}
	return nil, nil
}

// LastRuns 和真实 repo 一样：每个任务取最近一条日志的 ran_at
func (f *fakeStore) LastRuns(ctx context.Context, jobIDs []string) (map[string]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]time.Time)
	for k, v := range f.preRuns {
		out[k] = v
	}
	for _, entry := range f.logs {
		if last, ok := out[entry.JobID]; !ok || entry.RanAt.After(last) {
			out[entry.JobID] = entry.RanAt
		}
	}
	return out, nil
}

func (f *fakeStore) FindAction(ctx context.Context, id string) (*objects.Action, error) {
	if a, ok := f.actions[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (f *fakeStore) AppendRunLog(ctx context.Context, entry *objects.RunLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logCalls++
	f.logs = append(f.logs, *entry)
	return nil
}

func (f *fakeStore) logsFor(jobID string) []objects.RunLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []objects.RunLog
	for _, e := range f.logs {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

type fakeLockManager struct {
	mu       sync.Mutex
	denied   bool
	acquired int
	released int
}

func (f *fakeLockManager) Acquire(ctx context.Context, name string) (lock.Lease, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied {
		return nil, false, nil
	}
	f.acquired++
	return &fakeLease{mgr: f}, true, nil
}

type fakeLease struct{ mgr *fakeLockManager }

func (l *fakeLease) Release(ctx context.Context) error {
	l.mgr.mu.Lock()
	defer l.mgr.mu.Unlock()
	l.mgr.released++
	return nil
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []string
	fn    func(action objects.Action, payload map[string]any) dispatch.Outcome
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, action objects.Action, payload map[string]any) dispatch.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, action.ID)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(action, payload)
	}
	return dispatch.Outcome{OK: true, Status: 200, DurationMs: 42}
}

func (f *fakeDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// ---- helpers ----

// 2025-06-01 10:00:00 UTC，周日，分钟 0
var baseTime = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestScheduler(store *fakeStore, locks *fakeLockManager, disp dispatch.Dispatcher, at time.Time, opts ...Option) *Scheduler {
	now := at
	all := append([]Option{WithNow(func() time.Time { return now })}, opts...)
	return NewScheduler(
		store,
		locks,
		actions.NewRegistry(),
		disp,
		NewCivilResolver("UTC"),
		conf.SchedulerConfig{Enabled: true},
		all...,
	)
}

func enabledJob(id, schedule, action string) objects.Job {
	return objects.Job{ID: id, Name: id, Schedule: schedule, Action: action, Enabled: true}
}

// ---- due-ness ----

func TestIsDue(t *testing.T) {
	r := NewCivilResolver("UTC")
	now := r.Resolve(baseTime)

	tests := []struct {
		name     string
		schedule string
		lastKey  string
		hasPrior bool
		want     bool
	}{
		{"first ever run", "* * * * *", "", false, true},
		{"empty schedule", "", "", false, false},
		{"malformed schedule", "* * *", "", false, false},
		{"no match", "30 * * * *", "", false, false},
		{"prior in another minute", "* * * * *", "2025-06-01 09:59", true, true},
		{"already ran this minute", "* * * * *", now.MinuteKey, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isDue(tt.schedule, now, tt.lastKey, tt.hasPrior))
		})
	}
}

func TestIsDueIdempotentWithinMinute(t *testing.T) {
	r := NewCivilResolver("UTC")
	now := r.Resolve(baseTime)

	// 同一分钟内反复判定，结果稳定为 false
	for i := 0; i < 10; i++ {
		assert.False(t, isDue("* * * * *", now, now.MinuteKey, true))
	}
}

// ---- tick behaviour ----

func TestTickLockContentionIsSilentNoop(t *testing.T) {
	store := newFakeStore()
	store.jobs = []objects.Job{enabledJob("j1", "* * * * *", "a1")}
	store.actions["a1"] = objects.Action{ID: "a1", Method: "POST", Path: "/run"}
	locks := &fakeLockManager{denied: true}
	disp := &fakeDispatcher{}

	s := newTestScheduler(store, locks, disp, baseTime)
	err := s.Tick(context.Background())

	require.NoError(t, err)
	assert.Zero(t, disp.callCount())
	assert.Empty(t, store.logs)
}

func TestTickMissingDispatcher(t *testing.T) {
	store := newFakeStore()
	store.jobs = []objects.Job{enabledJob("j1", "* * * * *", "a1")}
	store.actions["a1"] = objects.Action{ID: "a1", Path: "/run"}
	locks := &fakeLockManager{}

	s := newTestScheduler(store, locks, nil, baseTime)
	require.NoError(t, s.Tick(context.Background()))

	logs := store.logsFor("j1")
	require.Len(t, logs, 1)
	assert.Equal(t, objects.RunStatusFail, logs[0].Status)
	assert.Equal(t, "dispatcher_missing", logs[0].Message)
}

func TestTickUnknownAction(t *testing.T) {
	store := newFakeStore()
	store.jobs = []objects.Job{enabledJob("j1", "* * * * *", "ghost")}
	locks := &fakeLockManager{}
	disp := &fakeDispatcher{}

	s := newTestScheduler(store, locks, disp, baseTime)
	require.NoError(t, s.Tick(context.Background()))

	logs := store.logsFor("j1")
	require.Len(t, logs, 1)
	assert.Equal(t, objects.RunStatusFail, logs[0].Status)
	assert.Contains(t, logs[0].Message, "unknown_action:ghost")
	assert.Zero(t, disp.callCount())
}

func TestTickRegistryFallback(t *testing.T) {
	store := newFakeStore()
	store.jobs = []objects.Job{enabledJob("j1", "* * * * *", "mem:act")}
	locks := &fakeLockManager{}
	disp := &fakeDispatcher{}

	s := newTestScheduler(store, locks, disp, baseTime)
	// 表里没有，注册表里有
	s.registry.Register(objects.Action{ID: "mem:act", Path: "/mem"})

	require.NoError(t, s.Tick(context.Background()))

	logs := store.logsFor("j1")
	require.Len(t, logs, 1)
	assert.Equal(t, objects.RunStatusOK, logs[0].Status)
	assert.Equal(t, 1, disp.callCount())
}

func TestTickFailureIsolationBetweenJobs(t *testing.T) {
	store := newFakeStore()
	store.jobs = []objects.Job{
		enabledJob("ja", "* * * * *", "aa"),
		enabledJob("jb", "* * * * *", "ab"),
	}
	store.actions["aa"] = objects.Action{ID: "aa", Path: "/a"}
	store.actions["ab"] = objects.Action{ID: "ab", Path: "/b"}
	locks := &fakeLockManager{}
	disp := &fakeDispatcher{fn: func(action objects.Action, payload map[string]any) dispatch.Outcome {
		if action.ID == "aa" {
			panic("dispatcher exploded")
		}
		return dispatch.Outcome{OK: true, Status: 200, DurationMs: 7}
	}}

	s := newTestScheduler(store, locks, disp, baseTime)
	require.NoError(t, s.Tick(context.Background()))

	logsA := store.logsFor("ja")
	require.Len(t, logsA, 1)
	assert.Equal(t, objects.RunStatusFail, logsA[0].Status)
	assert.Contains(t, logsA[0].Message, "dispatcher exploded")

	logsB := store.logsFor("jb")
	require.Len(t, logsB, 1)
	assert.Equal(t, objects.RunStatusOK, logsB[0].Status)
}

func TestTickDedupWithinSameMinute(t *testing.T) {
	store := newFakeStore()
	store.jobs = []objects.Job{enabledJob("j1", "* * * * *", "a1")}
	store.actions["a1"] = objects.Action{ID: "a1", Path: "/run"}
	locks := &fakeLockManager{}
	disp := &fakeDispatcher{}

	s := newTestScheduler(store, locks, disp, baseTime)

	// tick 间隔可以比一分钟短：同一分钟内连跑三轮只落一条
	require.NoError(t, s.Tick(context.Background()))
	require.NoError(t, s.Tick(context.Background()))
	require.NoError(t, s.Tick(context.Background()))

	assert.Len(t, store.logsFor("j1"), 1)
	assert.Equal(t, 1, disp.callCount())
}

func TestTickRestartRecoveryFromRunLog(t *testing.T) {
	store := newFakeStore()
	store.jobs = []objects.Job{enabledJob("j1", "* * * * *", "a1")}
	store.actions["a1"] = objects.Action{ID: "a1", Path: "/run"}
	// 内存状态为空，但日志里已有本分钟的记录（进程刚重启的样子）
	store.preRuns["j1"] = baseTime.Add(10 * time.Second)
	locks := &fakeLockManager{}
	disp := &fakeDispatcher{}

	s := newTestScheduler(store, locks, disp, baseTime.Add(30*time.Second))
	require.NoError(t, s.Tick(context.Background()))

	assert.Empty(t, store.logsFor("j1"))
	assert.Zero(t, disp.callCount())
}

func TestTickEndToEnd(t *testing.T) {
	store := newFakeStore()
	store.jobs = []objects.Job{enabledJob("j1", "0 */1 * * *", "a1")}
	store.actions["a1"] = objects.Action{ID: "a1", Method: "POST", Path: "/run"}
	locks := &fakeLockManager{}
	disp := &fakeDispatcher{} // 默认返回 {ok, 200, 42ms}

	now := baseTime // 分钟为 0，命中 "0 */1 * * *"
	s := NewScheduler(
		store, locks, actions.NewRegistry(), disp,
		NewCivilResolver("UTC"), conf.SchedulerConfig{},
		WithNow(func() time.Time { return now }),
	)

	require.NoError(t, s.Tick(context.Background()))

	logs := store.logsFor("j1")
	require.Len(t, logs, 1)
	assert.Equal(t, objects.RunStatusOK, logs[0].Status)
	assert.Contains(t, logs[0].Message, "a1")
	assert.Contains(t, logs[0].Message, "200")
	assert.Contains(t, logs[0].Message, "42")

	// 没过整分钟：分钟键没变，第二轮被去重
	now = baseTime.Add(20 * time.Second)
	require.NoError(t, s.Tick(context.Background()))
	assert.Len(t, store.logsFor("j1"), 1)

	// 过了一小时再到分钟 0，合法的第二条
	now = baseTime.Add(time.Hour)
	require.NoError(t, s.Tick(context.Background()))
	assert.Len(t, store.logsFor("j1"), 2)
}

func TestTickReleasesLockOnStoreError(t *testing.T) {
	store := newFakeStore()
	store.jobsErr = assert.AnError
	locks := &fakeLockManager{}

	s := newTestScheduler(store, locks, &fakeDispatcher{}, baseTime)
	err := s.Tick(context.Background())

	require.Error(t, err)
	assert.Equal(t, 1, locks.acquired)
	assert.Equal(t, 1, locks.released)
}

func TestTickDisabledJobsIgnored(t *testing.T) {
	store := newFakeStore()
	job := enabledJob("j1", "* * * * *", "a1")
	job.Enabled = false
	store.jobs = []objects.Job{job}
	store.actions["a1"] = objects.Action{ID: "a1", Path: "/run"}
	locks := &fakeLockManager{}
	disp := &fakeDispatcher{}

	s := newTestScheduler(store, locks, disp, baseTime)
	require.NoError(t, s.Tick(context.Background()))

	assert.Empty(t, store.logs)
	assert.Zero(t, disp.callCount())
}

func TestRunLogMessageTruncated(t *testing.T) {
	store := newFakeStore()
	store.jobs = []objects.Job{enabledJob("j1", "* * * * *", "a1")}
	store.actions["a1"] = objects.Action{ID: "a1", Path: "/run"}
	locks := &fakeLockManager{}
	disp := &fakeDispatcher{fn: func(objects.Action, map[string]any) dispatch.Outcome {
		return dispatch.Outcome{OK: false, Status: 500, Err: strings.Repeat("x", 5000)}
	}}

	s := newTestScheduler(store, locks, disp, baseTime)
	require.NoError(t, s.Tick(context.Background()))

	logs := store.logsFor("j1")
	require.Len(t, logs, 1)
	assert.LessOrEqual(t, len(logs[0].Message), objects.MaxRunLogMessage)
}

func TestRunJobNow(t *testing.T) {
	store := newFakeStore()
	// schedule 不命中也能手动触发
	store.jobs = []objects.Job{enabledJob("j1", "30 3 * * *", "a1")}
	store.actions["a1"] = objects.Action{ID: "a1", Path: "/run"}
	disp := &fakeDispatcher{}

	s := newTestScheduler(store, &fakeLockManager{}, disp, baseTime)
	require.NoError(t, s.RunJobNow(context.Background(), "j1"))
	assert.Equal(t, 1, disp.callCount())
	assert.Len(t, store.logsFor("j1"), 1)

	assert.Error(t, s.RunJobNow(context.Background(), "missing"))
}

func TestStartImmediateTickAndStop(t *testing.T) {
	store := newFakeStore()
	locks := &fakeLockManager{}

	s := newTestScheduler(store, locks, &fakeDispatcher{}, baseTime, WithInterval(20*time.Millisecond))
	s.Start()
	time.Sleep(70 * time.Millisecond)
	s.Stop()

	locks.mu.Lock()
	acquired := locks.acquired
	locks.mu.Unlock()
	// 启动即一跳，之后按间隔
	assert.GreaterOrEqual(t, acquired, 2)

	// Stop 幂等
	s.Stop()
}
