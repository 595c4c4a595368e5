package diag

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

func newTestAgent(t *testing.T) *BaseAgent {
	t.Helper()
	return NewBaseAgent("test", "Testing", "agent under test", zap.NewNop())
}

func staticTask(id string, tt TaskType, res *Result) *Task {
	return &Task{
		ID:      id,
		Name:    id,
		Type:    tt,
		Handler: func(ctx context.Context) (*Result, error) { return res, nil },
	}
}

func TestRegisterDuplicateID(t *testing.T) {
	a := newTestAgent(t)
	if err := a.Register(staticTask("dup", TaskStatusCheck, Healthy("ok"))); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := a.Register(staticTask("dup", TaskMonitoring, Healthy("ok")))
	if err == nil {
		t.Fatal("duplicate task id must be rejected at registration")
	}
	if !strings.Contains(err.Error(), "dup") {
		t.Errorf("error does not name the offending id: %v", err)
	}
}

func TestTasksPreserveRegistrationOrder(t *testing.T) {
	a := newTestAgent(t)
	for _, id := range []string{"zeta", "alpha", "mid"} {
		a.MustRegister(staticTask(id, TaskStatusCheck, Healthy("ok")))
	}
	tasks := a.Tasks()
	want := []string{"zeta", "alpha", "mid"}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Errorf("tasks[%d] = %s, want %s", i, tasks[i].ID, id)
		}
	}
}

func TestCheckStatusMergesMatchingType(t *testing.T) {
	a := newTestAgent(t)
	a.MustRegister(staticTask("ping", TaskStatusCheck, Healthy("reachable")))
	a.MustRegister(staticTask("disk", TaskStatusCheck, Warn("disk 91%%")))
	a.MustRegister(staticTask("fix-perms", TaskErrorFix, Healthy("unused")))

	res := a.CheckStatus(context.Background())
	if res.Status != StatusWarning {
		t.Errorf("status = %s, want warning", res.Status)
	}
	if !strings.Contains(res.Message, "disk 91%") {
		t.Errorf("warning message dropped: %q", res.Message)
	}
	if strings.Contains(res.Message, "unused") {
		t.Error("error_fix task leaked into check_status")
	}
}

func TestFixErrorsPartialFailure(t *testing.T) {
	a := newTestAgent(t)
	a.MustRegister(staticTask("fix-a", TaskErrorFix, Healthy("repaired")))
	a.MustRegister(&Task{
		ID:   "fix-b",
		Type: TaskErrorFix,
		Handler: func(ctx context.Context) (*Result, error) {
			return nil, errors.New("permission denied")
		},
	})

	res := a.FixErrors(context.Background(), true)
	if res.Success {
		t.Error("aggregate success should be false with one failed fix")
	}
	if res.Status != StatusError {
		t.Errorf("status = %s, want error", res.Status)
	}
	constituents, ok := res.Data["constituents"].([]Constituent)
	if !ok || len(constituents) != 2 {
		t.Fatalf("expected 2 per-task outcomes in data, got %v", res.Data["constituents"])
	}
	if !constituents[0].Result.Success {
		t.Error("succeeding fix hidden by the failing one")
	}
	if constituents[1].Result.Success {
		t.Error("failing fix not reported as failed")
	}
}

func TestFixErrorsDryRunFlag(t *testing.T) {
	a := newTestAgent(t)
	var applied atomic.Int32
	a.MustRegister(&Task{
		ID:   "fix",
		Type: TaskErrorFix,
		Handler: func(ctx context.Context) (*Result, error) {
			if ApplyEnabled(ctx) {
				applied.Add(1)
				return Healthy("applied"), nil
			}
			return Warn("would remove 3 stale entries").
				WithSuggestions("re-run with apply to remove them"), nil
		},
	})

	// Dry run twice: no state change, structurally equivalent results.
	first := a.FixErrors(context.Background(), false)
	second := a.FixErrors(context.Background(), false)
	if applied.Load() != 0 {
		t.Fatal("dry run mutated state")
	}
	if first.Status != second.Status || first.Message != second.Message ||
		len(first.Suggestions) != len(second.Suggestions) {
		t.Error("repeated dry runs are not structurally equivalent")
	}

	res := a.FixErrors(context.Background(), true)
	if applied.Load() != 1 || !res.Success {
		t.Errorf("apply run: applied=%d success=%v", applied.Load(), res.Success)
	}
}

func TestDiagnoseIncludesMonitoring(t *testing.T) {
	a := newTestAgent(t)
	a.MustRegister(staticTask("ping", TaskStatusCheck, Healthy("ok")))
	a.MustRegister(staticTask("deep-scan", TaskMonitoring, Warn("fragmentation high")))

	res := a.Diagnose(context.Background())
	if !res.Success {
		t.Error("diagnosis completed, success should be true despite findings")
	}
	if res.Status != StatusWarning {
		t.Errorf("status = %s, want warning", res.Status)
	}
	if !strings.Contains(res.Message, "fragmentation high") {
		t.Errorf("monitoring finding dropped: %q", res.Message)
	}
}

func TestRunTaskUnknown(t *testing.T) {
	a := newTestAgent(t)
	if _, err := a.RunTask(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown task id")
	}
}

func TestRunTaskUpdatesLastRun(t *testing.T) {
	a := newTestAgent(t)
	task := staticTask("ping", TaskStatusCheck, Healthy("ok"))
	a.MustRegister(task)

	if !task.LastRun().IsZero() {
		t.Fatal("last run should start zero")
	}
	if _, err := a.RunTask(context.Background(), "ping"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if task.LastRun().IsZero() {
		t.Error("direct invocation did not update last run")
	}
}
