// Package notify pushes scheduled-run results to external channels.
// The scheduler itself discards results; sinks registered here decide
// which ones an operator should hear about.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/mister-handy/internal/diag"
	"github.com/nidhogg/mister-handy/internal/orchestrator"
	"go.uber.org/zap"
)

// Alert is a normalized alert message for any channel.
type Alert struct {
	Agent       string           `json:"agent"`
	Task        string           `json:"task"`
	Status      diag.AgentStatus `json:"status"`
	Message     string           `json:"message"`
	Suggestions []string         `json:"suggestions,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Text renders the alert as a plain one-liner with suggestions attached.
func (a *Alert) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s/%s: %s", strings.ToUpper(string(a.Status)), a.Agent, a.Task, a.Message)
	for _, s := range a.Suggestions {
		b.WriteString("\n• ")
		b.WriteString(s)
	}
	return b.String()
}

// Sink delivers one alert to an external channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, alert *Alert) error
}

// Notifier fans scheduled-run results out to sinks once they reach the
// configured severity. It implements orchestrator.ResultSink.
type Notifier struct {
	sinks  []Sink
	min    diag.AgentStatus
	logger *zap.Logger
}

// New creates a notifier that forwards runs at or above min severity.
func New(min diag.AgentStatus, logger *zap.Logger) *Notifier {
	if min == "" {
		min = diag.StatusWarning
	}
	return &Notifier{min: min, logger: logger}
}

// Register adds a delivery channel. Sinks are registered at startup.
func (n *Notifier) Register(s Sink) {
	n.sinks = append(n.sinks, s)
	n.logger.Info("registered alert sink", zap.String("sink", s.Name()))
}

// Consume implements orchestrator.ResultSink.
func (n *Notifier) Consume(ctx context.Context, run *orchestrator.ScheduledRun) {
	if run.Result == nil || !run.Result.Status.AtLeast(n.min) {
		return
	}
	alert := &Alert{
		Agent:       run.Agent,
		Task:        run.TaskID,
		Status:      run.Result.Status,
		Message:     run.Result.Message,
		Suggestions: run.Result.Suggestions,
		Timestamp:   run.Result.Timestamp,
	}
	for _, sink := range n.sinks {
		if err := sink.Send(ctx, alert); err != nil {
			n.logger.Warn("alert delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("agent", run.Agent),
				zap.Error(err))
		}
	}
}
