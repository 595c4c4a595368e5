package diag

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds a single handler invocation when the task does not
// set its own.
const DefaultTimeout = 30 * time.Second

// HandlerFunc performs a task's actual check or fix work. Returning an
// error (or panicking) is converted by the run wrapper into a failed
// Result; neither crosses the agent boundary.
type HandlerFunc func(ctx context.Context) (*Result, error)

// applyKey carries the fix-apply capability through the context. Fix
// handlers must treat a missing or false value as a dry run and compute,
// but not apply, their remediation.
type applyKey struct{}

// WithApply marks the context as permitting state-changing remediation.
func WithApply(ctx context.Context, apply bool) context.Context {
	return context.WithValue(ctx, applyKey{}, apply)
}

// ApplyEnabled reports whether fix handlers may mutate external state.
// Defaults to false: dry run.
func ApplyEnabled(ctx context.Context) bool {
	v, _ := ctx.Value(applyKey{}).(bool)
	return v
}

// Task is one unit of recurring work owned by an agent. Interval zero
// means the task is never scheduled and only runs on demand.
type Task struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Type        TaskType      `json:"type"`
	Description string        `json:"description"`
	Interval    time.Duration `json:"interval"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	Handler     HandlerFunc   `json:"-"`

	mu       sync.Mutex
	lastRun  time.Time
	inFlight bool
}

// LastRun returns the dispatch time of the most recent run.
func (t *Task) LastRun() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRun
}

// Claim atomically checks whether the task is due for scheduling at now
// and, if so, marks it dispatched: lastRun advances at dispatch time (not
// completion) and an in-flight flag blocks a second concurrent scheduled
// run. Release must be called when the run finishes.
func (t *Task) Claim(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Interval <= 0 || t.inFlight {
		return false
	}
	if !t.lastRun.IsZero() && now.Sub(t.lastRun) < t.Interval {
		return false
	}
	t.lastRun = now
	t.inFlight = true
	return true
}

// Release clears the in-flight flag after a scheduled run completes.
func (t *Task) Release() {
	t.mu.Lock()
	t.inFlight = false
	t.mu.Unlock()
}

// Touch records a direct (on-demand) invocation. Manual runs do not take
// the in-flight guard and may overlap a scheduled run of the same task.
func (t *Task) Touch(now time.Time) {
	t.mu.Lock()
	t.lastRun = now
	t.mu.Unlock()
}

// Run executes the handler with panic recovery and a timeout bound. A
// handler that outlives its deadline is reported as errored and left to
// finish in the background; its late result is discarded.
func (t *Task) Run(ctx context.Context) *Result {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan *Result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- Fail(StatusCritical, "task %s panicked: %v", t.ID, rec)
			}
		}()
		res, err := t.Handler(ctx)
		switch {
		case err != nil:
			done <- Fail(StatusError, "task %s: %v", t.ID, err)
		case res == nil:
			done <- Fail(StatusError, "task %s returned no result", t.ID)
		default:
			done <- res
		}
	}()

	var res *Result
	select {
	case res = <-done:
	case <-ctx.Done():
		res = Fail(StatusError, "task %s timed out after %s", t.ID, timeout)
	}

	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = start
	}
	if res.Status.Failing() {
		res.Success = false
	}
	res.Duration = time.Since(start)
	return res
}

// TaskInfo is a read-only snapshot of a task descriptor for listings.
type TaskInfo struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Type        TaskType      `json:"type"`
	Description string        `json:"description"`
	Interval    time.Duration `json:"interval"`
	LastRun     time.Time     `json:"last_run"`
}

// Info snapshots the task descriptor.
func (t *Task) Info() TaskInfo {
	return TaskInfo{
		ID:          t.ID,
		Name:        t.Name,
		Type:        t.Type,
		Description: t.Description,
		Interval:    t.Interval,
		LastRun:     t.LastRun(),
	}
}

// validate checks the configuration invariants enforced at registration.
func (t *Task) validate() error {
	if t.ID == "" {
		return fmt.Errorf("task has no id")
	}
	if t.Handler == nil {
		return fmt.Errorf("task %s has no handler", t.ID)
	}
	if t.Interval < 0 {
		return fmt.Errorf("task %s has negative interval %s", t.ID, t.Interval)
	}
	return nil
}
