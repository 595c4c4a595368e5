package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nidhogg/mister-handy/internal/diag"
	"go.uber.org/zap"
)

// recordingSink collects delivered runs.
type recordingSink struct {
	mu   sync.Mutex
	runs []*ScheduledRun
}

func (s *recordingSink) Consume(ctx context.Context, run *ScheduledRun) {
	s.mu.Lock()
	s.runs = append(s.runs, run)
	s.mu.Unlock()
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

func schedulerAgent(t *testing.T, name string, task *diag.Task) diag.Agent {
	t.Helper()
	a := diag.NewBaseAgent(name, "Testing", "scheduler test agent", zap.NewNop())
	a.MustRegister(task)
	return a
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestSchedulerDispatchesDueTasks(t *testing.T) {
	o := New(Config{Tick: 10 * time.Millisecond, PoolSize: 4}, zap.NewNop())
	var runs atomic.Int32
	o.Register(schedulerAgent(t, "periodic", &diag.Task{
		ID:       "beat",
		Type:     diag.TaskMonitoring,
		Interval: time.Millisecond,
		Handler: func(ctx context.Context) (*diag.Result, error) {
			runs.Add(1)
			return diag.Healthy("beat"), nil
		},
	}))
	sink := &recordingSink{}
	o.Scheduler().AddSink(sink)

	o.Scheduler().Start()
	defer o.Scheduler().Stop()

	waitFor(t, 2*time.Second, func() bool { return runs.Load() >= 2 })
	waitFor(t, 2*time.Second, func() bool { return sink.count() >= 2 })

	sink.mu.Lock()
	run := sink.runs[0]
	sink.mu.Unlock()
	if run.Agent != "periodic" || run.TaskID != "beat" {
		t.Errorf("sink got run for %s/%s", run.Agent, run.TaskID)
	}
	if run.Result == nil || !run.Result.Success {
		t.Error("sink run missing its result")
	}
}

func TestSchedulerSkipsOnDemandTasks(t *testing.T) {
	o := New(Config{Tick: 5 * time.Millisecond, PoolSize: 2}, zap.NewNop())
	var runs atomic.Int32
	o.Register(schedulerAgent(t, "manual", &diag.Task{
		ID:   "fix",
		Type: diag.TaskErrorFix,
		Handler: func(ctx context.Context) (*diag.Result, error) {
			runs.Add(1)
			return diag.Healthy("ok"), nil
		},
	}))

	o.Scheduler().Start()
	time.Sleep(50 * time.Millisecond)
	o.Scheduler().Stop()

	if runs.Load() != 0 {
		t.Errorf("interval-0 task ran %d times under the scheduler", runs.Load())
	}
}

func TestSchedulerNoOverlappingRuns(t *testing.T) {
	o := New(Config{Tick: 5 * time.Millisecond, PoolSize: 8}, zap.NewNop())

	var concurrent, peak atomic.Int32
	o.Register(schedulerAgent(t, "slow", &diag.Task{
		ID:       "crawl",
		Type:     diag.TaskMonitoring,
		Interval: time.Millisecond, // always due, slower than the tick
		Handler: func(ctx context.Context) (*diag.Result, error) {
			n := concurrent.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(40 * time.Millisecond)
			concurrent.Add(-1)
			return diag.Healthy("done"), nil
		},
	}))

	o.Scheduler().Start()
	time.Sleep(300 * time.Millisecond)
	o.Scheduler().Stop()

	if peak.Load() > 1 {
		t.Errorf("same task had %d concurrent scheduled runs", peak.Load())
	}
}

func TestSchedulerIntervalRespect(t *testing.T) {
	o := New(Config{Tick: 5 * time.Millisecond, PoolSize: 2}, zap.NewNop())
	var runs atomic.Int32
	o.Register(schedulerAgent(t, "rare", &diag.Task{
		ID:       "hourly",
		Type:     diag.TaskMonitoring,
		Interval: time.Hour,
		Handler: func(ctx context.Context) (*diag.Result, error) {
			runs.Add(1)
			return diag.Healthy("ok"), nil
		},
	}))

	o.Scheduler().Start()
	waitFor(t, 2*time.Second, func() bool { return runs.Load() >= 1 })
	time.Sleep(60 * time.Millisecond) // many ticks within the interval
	o.Scheduler().Stop()

	if got := runs.Load(); got != 1 {
		t.Errorf("task ran %d times inside one interval, want 1", got)
	}
}

func TestSchedulerStartIdempotentStopDrains(t *testing.T) {
	o := New(Config{Tick: 5 * time.Millisecond, PoolSize: 2}, zap.NewNop())
	var started, finished atomic.Int32
	o.Register(schedulerAgent(t, "drainer", &diag.Task{
		ID:       "slow-finish",
		Type:     diag.TaskMonitoring,
		Interval: time.Millisecond,
		Handler: func(ctx context.Context) (*diag.Result, error) {
			started.Add(1)
			time.Sleep(30 * time.Millisecond)
			finished.Add(1)
			return diag.Healthy("ok"), nil
		},
	}))

	s := o.Scheduler()
	s.Start()
	s.Start() // no-op
	if !s.Running() {
		t.Fatal("scheduler should be running")
	}

	waitFor(t, 2*time.Second, func() bool { return started.Load() >= 1 })
	s.Stop()

	if s.Running() {
		t.Error("scheduler should be stopped")
	}
	if started.Load() != finished.Load() {
		t.Errorf("stop returned with %d/%d runs unfinished",
			finished.Load(), started.Load())
	}
	s.Stop() // no-op on stopped scheduler
}

func TestScheduledFixesAreDryRuns(t *testing.T) {
	o := New(Config{Tick: 5 * time.Millisecond, PoolSize: 2}, zap.NewNop())
	var sawApply atomic.Bool
	var runs atomic.Int32
	o.Register(schedulerAgent(t, "fixer", &diag.Task{
		ID:       "auto-fix",
		Type:     diag.TaskErrorFix,
		Interval: time.Millisecond,
		Handler: func(ctx context.Context) (*diag.Result, error) {
			runs.Add(1)
			if diag.ApplyEnabled(ctx) {
				sawApply.Store(true)
			}
			return diag.Warn("would fix"), nil
		},
	}))

	o.Scheduler().Start()
	waitFor(t, 2*time.Second, func() bool { return runs.Load() >= 1 })
	o.Scheduler().Stop()

	if sawApply.Load() {
		t.Error("scheduled fix ran with apply enabled")
	}
}
