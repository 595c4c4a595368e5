package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/mister-handy/internal/diag"
	"github.com/nidhogg/mister-handy/internal/orchestrator"
	"go.uber.org/zap"
)

type fakeSink struct {
	name   string
	alerts []*Alert
	err    error
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Send(_ context.Context, a *Alert) error {
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, a)
	return nil
}

func scheduledRun(agent, taskID string, status diag.AgentStatus, msg string) *orchestrator.ScheduledRun {
	return &orchestrator.ScheduledRun{
		Agent:    agent,
		TaskID:   taskID,
		TaskName: taskID,
		Type:     diag.TaskStatusCheck,
		Result:   diag.NewResult(status == diag.StatusHealthy, status, msg),
	}
}

func TestNotifierFiltersBelowThreshold(t *testing.T) {
	n := New(diag.StatusWarning, zap.NewNop())
	sink := &fakeSink{name: "fake"}
	n.Register(sink)

	ctx := context.Background()
	n.Consume(ctx, scheduledRun("system", "sys-cpu", diag.StatusHealthy, "cpu fine"))
	n.Consume(ctx, scheduledRun("system", "sys-cpu", diag.StatusWarning, "cpu high"))
	n.Consume(ctx, scheduledRun("database", "db-ping", diag.StatusCritical, "unreachable"))

	if len(sink.alerts) != 2 {
		t.Fatalf("expected 2 alerts past the filter, got %d", len(sink.alerts))
	}
	if sink.alerts[0].Status != diag.StatusWarning || sink.alerts[1].Status != diag.StatusCritical {
		t.Fatalf("unexpected alert statuses: %v, %v", sink.alerts[0].Status, sink.alerts[1].Status)
	}
	if sink.alerts[1].Agent != "database" || sink.alerts[1].Task != "db-ping" {
		t.Fatalf("alert lost run identity: %+v", sink.alerts[1])
	}
}

func TestNotifierIgnoresNilResult(t *testing.T) {
	n := New(diag.StatusWarning, zap.NewNop())
	sink := &fakeSink{name: "fake"}
	n.Register(sink)

	n.Consume(context.Background(), &orchestrator.ScheduledRun{Agent: "system", TaskID: "sys-cpu"})

	if len(sink.alerts) != 0 {
		t.Fatalf("expected no alerts for nil result, got %d", len(sink.alerts))
	}
}

func TestNotifierFailingSinkDoesNotBlockOthers(t *testing.T) {
	n := New(diag.StatusWarning, zap.NewNop())
	broken := &fakeSink{name: "broken", err: errors.New("webhook down")}
	working := &fakeSink{name: "working"}
	n.Register(broken)
	n.Register(working)

	n.Consume(context.Background(), scheduledRun("cache", "cache-ping", diag.StatusError, "connection refused"))

	if len(working.alerts) != 1 {
		t.Fatalf("working sink should still receive the alert, got %d", len(working.alerts))
	}
}

func TestAlertText(t *testing.T) {
	a := &Alert{
		Agent:       "security",
		Task:        "sec-secrets",
		Status:      diag.StatusCritical,
		Message:     "missing required secrets",
		Suggestions: []string{"set DATABASE_URL", "set REDIS_URL"},
		Timestamp:   time.Now(),
	}
	text := a.Text()
	if !strings.HasPrefix(text, "[CRITICAL] security/sec-secrets:") {
		t.Fatalf("unexpected alert header: %q", text)
	}
	for _, want := range []string{"missing required secrets", "set DATABASE_URL", "set REDIS_URL"} {
		if !strings.Contains(text, want) {
			t.Fatalf("alert text missing %q: %q", want, text)
		}
	}
}
