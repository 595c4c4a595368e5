package agents

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nidhogg/mister-handy/internal/diag"
	"go.uber.org/zap"
)

func TestThreshold(t *testing.T) {
	cases := []struct {
		pct    float64
		status diag.AgentStatus
	}{
		{10, diag.StatusHealthy},
		{85, diag.StatusWarning},
		{97, diag.StatusCritical},
	}
	for _, c := range cases {
		res := threshold("cpu", c.pct, 85, 97)
		if res.Status != c.status {
			t.Errorf("threshold(%.0f%%) = %s, want %s", c.pct, res.Status, c.status)
		}
	}
}

// writeAgedFile creates a file and backdates its mtime.
func writeAgedFile(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-age)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTempCleanDryRunAndApply(t *testing.T) {
	dir := t.TempDir()
	stale := writeAgedFile(t, dir, "stale.tmp", 48*time.Hour)
	fresh := writeAgedFile(t, dir, "fresh.tmp", time.Hour)

	sys := NewSystem(SystemConfig{TempDir: dir, TempMaxAge: 24 * time.Hour}, zap.NewNop())

	// Dry run twice: reports the candidate, touches nothing, stays
	// structurally identical.
	first := sys.FixErrors(context.Background(), false)
	second := sys.FixErrors(context.Background(), false)
	if first.Status != diag.StatusWarning {
		t.Errorf("dry run status = %s, want warning", first.Status)
	}
	if first.Message != second.Message {
		t.Errorf("repeated dry runs differ: %q vs %q", first.Message, second.Message)
	}
	if _, err := os.Stat(stale); err != nil {
		t.Fatal("dry run removed a file")
	}

	applied := sys.FixErrors(context.Background(), true)
	if !applied.Success {
		t.Fatalf("apply failed: %s", applied.Message)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale file survived an applied fix")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh file was removed")
	}
}

func TestTempCleanNothingToDo(t *testing.T) {
	sys := NewSystem(SystemConfig{TempDir: t.TempDir(), TempMaxAge: 24 * time.Hour}, zap.NewNop())
	res := sys.FixErrors(context.Background(), false)
	if !res.Success || res.Status != diag.StatusHealthy {
		t.Errorf("got %s/%v, want healthy/true", res.Status, res.Success)
	}
}

func TestSystemTaskRegistry(t *testing.T) {
	sys := NewSystem(SystemConfig{}, zap.NewNop())
	byType := make(map[diag.TaskType]int)
	for _, task := range sys.Tasks() {
		byType[task.Type]++
	}
	if byType[diag.TaskStatusCheck] != 3 {
		t.Errorf("got %d status checks, want 3", byType[diag.TaskStatusCheck])
	}
	if byType[diag.TaskErrorFix] != 1 || byType[diag.TaskDevelopment] != 1 {
		t.Error("fix or development task missing")
	}
	// Scheduled checks carry intervals; the fix is on-demand only.
	if task, ok := sys.Task("sys-temp-clean"); !ok || task.Interval != 0 {
		t.Error("temp cleanup must be on-demand only")
	}
	if task, ok := sys.Task("sys-cpu"); !ok || task.Interval == 0 {
		t.Error("cpu check should be scheduled")
	}
}
