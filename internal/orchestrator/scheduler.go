package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/nidhogg/mister-handy/internal/diag"
	"go.uber.org/zap"
)

const (
	defaultTick     = 30 * time.Second
	defaultPoolSize = 10
)

// ScheduledRun couples a finished scheduled invocation with its origin.
type ScheduledRun struct {
	Agent    string        `json:"agent"`
	TaskID   string        `json:"task_id"`
	TaskName string        `json:"task_name"`
	Type     diag.TaskType `json:"type"`
	Result   *diag.Result  `json:"result"`
}

// ResultSink consumes results of scheduled runs. The scheduler itself
// never persists results; sinks (logging, alerting, history) decide what
// to keep.
type ResultSink interface {
	Consume(ctx context.Context, run *ScheduledRun)
}

// SchedulerStatus is a read-only snapshot for introspection.
type SchedulerStatus struct {
	Running  bool          `json:"running"`
	Tick     time.Duration `json:"tick"`
	InFlight int           `json:"in_flight"`
}

// Scheduler walks every agent's tasks on a fixed tick and dispatches the
// due ones concurrently through a bounded pool. A task's next eligible
// run is lastRun+interval; lastRun advances at dispatch time and an
// in-flight guard keeps at most one scheduled run of a task alive.
type Scheduler struct {
	orch  *Orchestrator
	tick  time.Duration
	pool  chan struct{}
	sinks []ResultSink

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	inFlight int

	wg     sync.WaitGroup // tracks dispatched tasks
	logger *zap.Logger
}

func newScheduler(orch *Orchestrator, cfg Config, logger *zap.Logger) *Scheduler {
	tick := cfg.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	return &Scheduler{
		orch:   orch,
		tick:   tick,
		pool:   make(chan struct{}, poolSize),
		logger: logger,
	}
}

// AddSink registers a consumer for scheduled run results. Sinks are added
// during startup, before Start.
func (s *Scheduler) AddSink(sink ResultSink) {
	s.sinks = append(s.sinks, sink)
}

// Status snapshots the scheduler state.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStatus{Running: s.running, Tick: s.tick, InFlight: s.inFlight}
}

// Running reports whether the tick loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start launches the tick loop. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.running = true
	go s.loop(ctx)
	s.logger.Info("scheduler started", zap.Duration("tick", s.tick))
}

// Stop halts the tick loop and waits for dispatched tasks to finish.
// In-flight handlers are never cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.loopDone
	s.mu.Unlock()

	cancel()
	<-done
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tickOnce(now)
		}
	}
}

// tickOnce dispatches every due task. It never waits on handler
// completion; each dispatched task runs independently.
func (s *Scheduler) tickOnce(now time.Time) {
	for _, a := range s.orch.snapshot() {
		for _, t := range a.Tasks() {
			if t.Claim(now) {
				s.dispatch(a, t)
			}
		}
	}
}

func (s *Scheduler) dispatch(a diag.Agent, t *diag.Task) {
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			t.Release()
			s.mu.Lock()
			s.inFlight--
			s.mu.Unlock()
		}()

		s.pool <- struct{}{} // acquire slot
		defer func() { <-s.pool }()

		// Scheduled fixes always run as dry runs; applying remediation
		// is an operator decision made through the control surface.
		ctx := diag.WithApply(context.Background(), false)
		res := t.Run(ctx)

		s.logger.Debug("scheduled task ran",
			zap.String("agent", a.Name()),
			zap.String("task", t.ID),
			zap.String("status", string(res.Status)),
			zap.Duration("duration", res.Duration))

		s.deliver(&ScheduledRun{
			Agent:    a.Name(),
			TaskID:   t.ID,
			TaskName: t.Name,
			Type:     t.Type,
			Result:   res,
		})
	}()
}

func (s *Scheduler) deliver(run *ScheduledRun) {
	for _, sink := range s.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sink.Consume(ctx, run)
		cancel()
	}
}
