package diag

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Agent is the capability contract every agent variant implements. The
// four lifecycle methods always return a well-formed result; per-task
// failures are carried inside it, never as errors.
type Agent interface {
	Name() string
	Category() string
	Description() string
	Tasks() []*Task

	// CheckStatus runs all status_check tasks for routine health polling.
	CheckStatus(ctx context.Context) *Result
	// Diagnose runs checks plus deeper inspection tasks. A successful
	// diagnosis means the inspection completed; problems found are
	// reported via status, data and suggestions.
	Diagnose(ctx context.Context) *Result
	// FixErrors runs all error_fix tasks. With apply=false the run is a
	// dry run: handlers report what would change without mutating
	// anything. Per-task outcomes are always broken out in data.
	FixErrors(ctx context.Context, apply bool) *Result
	// DevelopmentSuggestions runs development tasks to surface
	// non-urgent, read-only improvement ideas.
	DevelopmentSuggestions(ctx context.Context) *Result
}

// AgentInfo is a read-only descriptor of an agent and its tasks.
type AgentInfo struct {
	Name        string     `json:"name"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Tasks       []TaskInfo `json:"tasks"`
}

// Describe snapshots an agent's descriptor.
func Describe(a Agent) AgentInfo {
	tasks := a.Tasks()
	infos := make([]TaskInfo, len(tasks))
	for i, t := range tasks {
		infos[i] = t.Info()
	}
	return AgentInfo{
		Name:        a.Name(),
		Category:    a.Category(),
		Description: a.Description(),
		Tasks:       infos,
	}
}

// BaseAgent carries the task registry and default lifecycle behavior.
// Concrete agents embed it and register their tasks at construction;
// the task set is immutable afterwards.
type BaseAgent struct {
	name        string
	category    string
	description string
	tasks       []*Task
	index       map[string]*Task
	logger      *zap.Logger
}

// NewBaseAgent creates an agent shell with an empty task registry.
func NewBaseAgent(name, category, description string, logger *zap.Logger) *BaseAgent {
	return &BaseAgent{
		name:        name,
		category:    category,
		description: description,
		index:       make(map[string]*Task),
		logger:      logger.Named(name),
	}
}

func (a *BaseAgent) Name() string        { return a.name }
func (a *BaseAgent) Category() string    { return a.category }
func (a *BaseAgent) Description() string { return a.description }

// Tasks returns the registered tasks in registration order.
func (a *BaseAgent) Tasks() []*Task {
	out := make([]*Task, len(a.tasks))
	copy(out, a.tasks)
	return out
}

// Task looks up a task by id.
func (a *BaseAgent) Task(id string) (*Task, bool) {
	t, ok := a.index[id]
	return t, ok
}

// Register adds a task to the agent. Duplicate ids and invalid
// descriptors are configuration errors.
func (a *BaseAgent) Register(t *Task) error {
	if err := t.validate(); err != nil {
		return fmt.Errorf("agent %s: %w", a.name, err)
	}
	if _, exists := a.index[t.ID]; exists {
		return fmt.Errorf("agent %s: duplicate task id %s", a.name, t.ID)
	}
	a.tasks = append(a.tasks, t)
	a.index[t.ID] = t
	return nil
}

// MustRegister registers a task and panics on configuration errors.
// Registration happens during process startup; failing fast is the point.
func (a *BaseAgent) MustRegister(t *Task) {
	if err := a.Register(t); err != nil {
		panic(err)
	}
}

// RunTask runs a single task on demand, outside the scheduler. On-demand
// runs are not protected by the scheduled-overlap guard.
func (a *BaseAgent) RunTask(ctx context.Context, id string) (*Result, error) {
	t, ok := a.index[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: unknown task %s", a.name, id)
	}
	t.Touch(time.Now())
	res := t.Run(ctx)
	a.logger.Debug("task ran",
		zap.String("task", t.ID),
		zap.String("status", string(res.Status)))
	return res, nil
}

// RunTypes runs every registered task matching any of the given types
// concurrently and merges the results. Constituent order follows
// registration order regardless of completion order.
func (a *BaseAgent) RunTypes(ctx context.Context, types ...TaskType) *Result {
	match := make(map[TaskType]bool, len(types))
	for _, tt := range types {
		match[tt] = true
	}

	var selected []*Task
	for _, t := range a.tasks {
		if match[t.Type] {
			selected = append(selected, t)
		}
	}

	results := make([]*Result, len(selected))
	var wg sync.WaitGroup
	for i, t := range selected {
		wg.Add(1)
		go func(i int, t *Task) {
			defer wg.Done()
			t.Touch(time.Now())
			results[i] = t.Run(ctx)
		}(i, t)
	}
	wg.Wait()

	constituents := make([]Constituent, len(selected))
	for i, t := range selected {
		constituents[i] = Constituent{Name: t.ID, Result: results[i]}
	}
	return Merge(constituents)
}

// CheckStatus implements Agent.
func (a *BaseAgent) CheckStatus(ctx context.Context) *Result {
	return a.RunTypes(ctx, TaskStatusCheck)
}

// Diagnose implements Agent: routine checks plus monitoring tasks as the
// deeper inspection pass.
func (a *BaseAgent) Diagnose(ctx context.Context) *Result {
	return a.RunTypes(ctx, TaskStatusCheck, TaskMonitoring)
}

// FixErrors implements Agent. The apply flag travels to handlers through
// the context; the batch never fails atomically, per-task outcomes stay
// in the merged data.
func (a *BaseAgent) FixErrors(ctx context.Context, apply bool) *Result {
	return a.RunTypes(WithApply(ctx, apply), TaskErrorFix)
}

// DevelopmentSuggestions implements Agent.
func (a *BaseAgent) DevelopmentSuggestions(ctx context.Context) *Result {
	return a.RunTypes(ctx, TaskDevelopment)
}
