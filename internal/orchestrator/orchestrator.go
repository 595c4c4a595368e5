package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/mister-handy/internal/diag"
	"go.uber.org/zap"
)

var (
	// ErrAgentNotFound is returned for pass-through calls naming an
	// unregistered agent.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrTaskNotFound is returned for on-demand runs naming an unknown task.
	ErrTaskNotFound = errors.New("task not found")
)

// Config tunes the orchestrator and its scheduler.
type Config struct {
	Tick     time.Duration // scheduler tick interval
	PoolSize int           // max concurrently running scheduled tasks
}

// Orchestrator owns the agent registry and hosts the scheduler. It is
// constructed once at startup and lives for the process lifetime; the
// registry is write-once (agents register during startup, never after),
// so reads during operation take no lock.
type Orchestrator struct {
	mu        sync.RWMutex
	agents    []diag.Agent
	index     map[string]diag.Agent
	scheduler *Scheduler
	logger    *zap.Logger
}

// New creates an orchestrator with an idle scheduler.
func New(cfg Config, logger *zap.Logger) *Orchestrator {
	o := &Orchestrator{
		index:  make(map[string]diag.Agent),
		logger: logger,
	}
	o.scheduler = newScheduler(o, cfg, logger)
	return o
}

// Scheduler returns the hosted scheduler.
func (o *Orchestrator) Scheduler() *Scheduler { return o.scheduler }

// Register adds an agent to the registry. Duplicate names are a startup
// configuration error.
func (o *Orchestrator) Register(a diag.Agent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.index[a.Name()]; exists {
		return fmt.Errorf("duplicate agent name %s", a.Name())
	}
	o.agents = append(o.agents, a)
	o.index[a.Name()] = a
	o.logger.Info("registered agent",
		zap.String("agent", a.Name()),
		zap.String("category", a.Category()),
		zap.Int("tasks", len(a.Tasks())))
	return nil
}

// Get looks up an agent by name.
func (o *Orchestrator) Get(name string) (diag.Agent, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.index[name]
	return a, ok
}

// List returns read-only descriptors for all agents in registration order.
func (o *Orchestrator) List() []diag.AgentInfo {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]diag.AgentInfo, len(o.agents))
	for i, a := range o.agents {
		out[i] = diag.Describe(a)
	}
	return out
}

// snapshot copies the registry slice for lock-free iteration.
func (o *Orchestrator) snapshot() []diag.Agent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	agents := make([]diag.Agent, len(o.agents))
	copy(agents, o.agents)
	return agents
}

// safeCall invokes one agent operation, converting a panic into a
// critical result so a broken agent cannot abort an aggregate call.
func (o *Orchestrator) safeCall(name string, fn func() *diag.Result) (res *diag.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("agent panicked",
				zap.String("agent", name),
				zap.Any("panic", rec))
			res = diag.Fail(diag.StatusCritical, "agent %s panicked: %v", name, rec)
		}
	}()
	res = fn()
	if res == nil {
		res = diag.Fail(diag.StatusCritical, "agent %s returned no result", name)
	}
	return res
}

// aggregate runs op on every agent concurrently and merges the results.
// Constituent order follows registration order.
func (o *Orchestrator) aggregate(op string, fn func(a diag.Agent) *diag.Result) *diag.Result {
	agents := o.snapshot()
	results := make([]*diag.Result, len(agents))

	var wg sync.WaitGroup
	for i, a := range agents {
		wg.Add(1)
		go func(i int, a diag.Agent) {
			defer wg.Done()
			results[i] = o.safeCall(a.Name(), func() *diag.Result { return fn(a) })
		}(i, a)
	}
	wg.Wait()

	constituents := make([]diag.Constituent, len(agents))
	for i, a := range agents {
		constituents[i] = diag.Constituent{Name: a.Name(), Result: results[i]}
	}
	merged := diag.Merge(constituents)
	o.logger.Info("aggregate operation finished",
		zap.String("op", op),
		zap.String("status", string(merged.Status)),
		zap.Bool("success", merged.Success),
		zap.Int("agents", len(agents)))
	return merged
}

// Status polls every agent's status checks.
func (o *Orchestrator) Status(ctx context.Context) *diag.Result {
	return o.aggregate("status", func(a diag.Agent) *diag.Result { return a.CheckStatus(ctx) })
}

// Diagnose runs every agent's diagnosis pass.
func (o *Orchestrator) Diagnose(ctx context.Context) *diag.Result {
	return o.aggregate("diagnose", func(a diag.Agent) *diag.Result { return a.Diagnose(ctx) })
}

// Fix runs every agent's error_fix tasks. apply=false is a dry run.
func (o *Orchestrator) Fix(ctx context.Context, apply bool) *diag.Result {
	return o.aggregate("fix", func(a diag.Agent) *diag.Result { return a.FixErrors(ctx, apply) })
}

// Develop collects every agent's development suggestions.
func (o *Orchestrator) Develop(ctx context.Context) *diag.Result {
	return o.aggregate("develop", func(a diag.Agent) *diag.Result { return a.DevelopmentSuggestions(ctx) })
}

// AgentStatus is the per-agent pass-through for CheckStatus.
func (o *Orchestrator) AgentStatus(ctx context.Context, name string) (*diag.Result, error) {
	a, ok := o.Get(name)
	if !ok {
		return nil, ErrAgentNotFound
	}
	return o.safeCall(name, func() *diag.Result { return a.CheckStatus(ctx) }), nil
}

// AgentDiagnose is the per-agent pass-through for Diagnose.
func (o *Orchestrator) AgentDiagnose(ctx context.Context, name string) (*diag.Result, error) {
	a, ok := o.Get(name)
	if !ok {
		return nil, ErrAgentNotFound
	}
	return o.safeCall(name, func() *diag.Result { return a.Diagnose(ctx) }), nil
}

// AgentFix is the per-agent pass-through for FixErrors.
func (o *Orchestrator) AgentFix(ctx context.Context, name string, apply bool) (*diag.Result, error) {
	a, ok := o.Get(name)
	if !ok {
		return nil, ErrAgentNotFound
	}
	return o.safeCall(name, func() *diag.Result { return a.FixErrors(ctx, apply) }), nil
}

// AgentDevelop is the per-agent pass-through for DevelopmentSuggestions.
func (o *Orchestrator) AgentDevelop(ctx context.Context, name string) (*diag.Result, error) {
	a, ok := o.Get(name)
	if !ok {
		return nil, ErrAgentNotFound
	}
	return o.safeCall(name, func() *diag.Result { return a.DevelopmentSuggestions(ctx) }), nil
}

// RunTask runs one task on demand, addressed by agent name and task id.
func (o *Orchestrator) RunTask(ctx context.Context, name, taskID string) (*diag.Result, error) {
	a, ok := o.Get(name)
	if !ok {
		return nil, ErrAgentNotFound
	}
	for _, t := range a.Tasks() {
		if t.ID == taskID {
			task := t
			return o.safeCall(name, func() *diag.Result {
				task.Touch(time.Now())
				return task.Run(ctx)
			}), nil
		}
	}
	return nil, ErrTaskNotFound
}

// AgentSummary is one agent's row in the dashboard summary.
type AgentSummary struct {
	Name     string           `json:"name"`
	Category string           `json:"category"`
	Status   diag.AgentStatus `json:"status"`
	Success  bool             `json:"success"`
	Message  string           `json:"message"`
	Tasks    int              `json:"tasks"`
}

// Summary is the denormalized all-agents view for dashboards.
type Summary struct {
	Status    diag.AgentStatus `json:"status"`
	Success   bool             `json:"success"`
	Agents    []AgentSummary   `json:"agents"`
	Scheduler SchedulerStatus  `json:"scheduler"`
	Timestamp time.Time        `json:"timestamp"`
}

// Summarize polls every agent concurrently and combines aggregate status
// with a per-agent breakdown.
func (o *Orchestrator) Summarize(ctx context.Context) *Summary {
	agents := o.snapshot()
	rows := make([]AgentSummary, len(agents))

	var wg sync.WaitGroup
	for i, a := range agents {
		wg.Add(1)
		go func(i int, a diag.Agent) {
			defer wg.Done()
			res := o.safeCall(a.Name(), func() *diag.Result { return a.CheckStatus(ctx) })
			rows[i] = AgentSummary{
				Name:     a.Name(),
				Category: a.Category(),
				Status:   res.Status,
				Success:  res.Success,
				Message:  res.Message,
				Tasks:    len(a.Tasks()),
			}
		}(i, a)
	}
	wg.Wait()

	status := diag.StatusHealthy
	success := true
	for _, row := range rows {
		status = status.Worse(row.Status)
		success = success && row.Success
	}
	if len(rows) == 0 {
		status = diag.StatusUnknown
	}
	return &Summary{
		Status:    status,
		Success:   success,
		Agents:    rows,
		Scheduler: o.scheduler.Status(),
		Timestamp: time.Now(),
	}
}
