package diag

import (
	"strings"
	"testing"
)

func TestSeverityOrdering(t *testing.T) {
	cases := []struct {
		worse, better AgentStatus
	}{
		{StatusRunning, StatusHealthy},
		{StatusWarning, StatusRunning},
		{StatusError, StatusWarning},
		{StatusCritical, StatusError},
		{StatusUnknown, StatusHealthy},
		{StatusStopped, StatusRunning},
	}
	for _, c := range cases {
		if got := c.better.Worse(c.worse); got != c.worse {
			t.Errorf("Worse(%s, %s) = %s, want %s", c.better, c.worse, got, c.worse)
		}
		if got := c.worse.Worse(c.better); got != c.worse {
			t.Errorf("Worse(%s, %s) = %s, want %s", c.worse, c.better, got, c.worse)
		}
	}
}

func TestNewResultForcesFailureOnSevereStatus(t *testing.T) {
	r := NewResult(true, StatusCritical, "broken")
	if r.Success {
		t.Error("success=true must not co-occur with critical status")
	}
	r = NewResult(true, StatusError, "broken")
	if r.Success {
		t.Error("success=true must not co-occur with error status")
	}
	if r.ID == "" || r.Timestamp.IsZero() {
		t.Error("result missing id or timestamp")
	}
}

func TestMergeSeverity(t *testing.T) {
	merged := Merge([]Constituent{
		{Name: "a", Result: Healthy("fine")},
		{Name: "b", Result: Warn("getting full")},
		{Name: "c", Result: Fail(StatusCritical, "down")},
	})
	if merged.Status != StatusCritical {
		t.Errorf("status = %s, want critical", merged.Status)
	}
	if merged.Success {
		t.Error("merged success should be false when any constituent failed")
	}

	merged = Merge([]Constituent{
		{Name: "a", Result: Healthy("fine")},
		{Name: "b", Result: Healthy("also fine")},
	})
	if merged.Status != StatusHealthy || !merged.Success {
		t.Errorf("got %s/%v, want healthy/true", merged.Status, merged.Success)
	}
}

func TestMergeKeepsFailingMessages(t *testing.T) {
	merged := Merge([]Constituent{
		{Name: "auth", Result: Fail(StatusCritical, "auth misconfigured")},
		{Name: "db", Result: Healthy("connected")},
		{Name: "disk", Result: Warn("87%% used")},
	})
	if !strings.Contains(merged.Message, "auth misconfigured") {
		t.Errorf("merged message dropped a failing constituent: %q", merged.Message)
	}
	if !strings.Contains(merged.Message, "87% used") {
		t.Errorf("merged message dropped a warning constituent: %q", merged.Message)
	}
	if !strings.Contains(merged.Message, "1/3 healthy") {
		t.Errorf("merged message missing summary: %q", merged.Message)
	}
	if _, ok := merged.Data["constituents"]; !ok {
		t.Error("merged data missing per-constituent breakdown")
	}
}

func TestMergeSuggestionUnion(t *testing.T) {
	merged := Merge([]Constituent{
		{Name: "a", Result: Healthy("ok").WithSuggestions("rotate keys")},
		{Name: "b", Result: Warn("old index").WithSuggestions("add index", "rotate keys")},
	})
	want := []string{"rotate keys", "add index", "rotate keys"}
	if len(merged.Suggestions) != len(want) {
		t.Fatalf("got %d suggestions, want %d", len(merged.Suggestions), len(want))
	}
	for i, s := range want {
		if merged.Suggestions[i] != s {
			t.Errorf("suggestion[%d] = %q, want %q", i, merged.Suggestions[i], s)
		}
	}
}

func TestMergeEmpty(t *testing.T) {
	merged := Merge(nil)
	if !merged.Success || merged.Status != StatusHealthy {
		t.Errorf("empty merge = %s/%v, want healthy/true", merged.Status, merged.Success)
	}
}
