package diag

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Result is the outcome of one task run or lifecycle call. Values are
// treated as immutable once returned across the agent boundary.
type Result struct {
	ID          string         `json:"id"`
	Success     bool           `json:"success"`
	Status      AgentStatus    `json:"status"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Duration    time.Duration  `json:"duration,omitempty"`
}

// NewResult creates a result with an ID and timestamp. Success is forced
// to false for error and critical statuses.
func NewResult(success bool, status AgentStatus, message string) *Result {
	if status.Failing() {
		success = false
	}
	return &Result{
		ID:        uuid.New().String(),
		Success:   success,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Healthy returns a successful healthy result.
func Healthy(format string, args ...any) *Result {
	return NewResult(true, StatusHealthy, fmt.Sprintf(format, args...))
}

// Warn returns a successful result with warning status. The call itself
// completed; the warning is carried in status and message.
func Warn(format string, args ...any) *Result {
	return NewResult(true, StatusWarning, fmt.Sprintf(format, args...))
}

// Fail returns a failed result with the given severity.
func Fail(status AgentStatus, format string, args ...any) *Result {
	return NewResult(false, status, fmt.Sprintf(format, args...))
}

// WithData attaches a data entry and returns the result for chaining.
func (r *Result) WithData(key string, value any) *Result {
	if r.Data == nil {
		r.Data = make(map[string]any)
	}
	r.Data[key] = value
	return r
}

// WithSuggestions appends suggestion strings.
func (r *Result) WithSuggestions(suggestions ...string) *Result {
	r.Suggestions = append(r.Suggestions, suggestions...)
	return r
}

// Constituent pairs a result with the name of the task or agent that
// produced it, for aggregation.
type Constituent struct {
	Name   string  `json:"name"`
	Result *Result `json:"result"`
}

// Merge combines constituent results into one aggregate result: success is
// the AND of all successes, status the most severe, suggestions the ordered
// union, and every non-healthy constituent is enumerated in the message and
// data so no failure is silently dropped.
func Merge(constituents []Constituent) *Result {
	if len(constituents) == 0 {
		return Healthy("no tasks to run")
	}

	success := true
	status := StatusHealthy
	healthy := 0
	var suggestions []string
	var problems []string

	for _, c := range constituents {
		r := c.Result
		if r == nil {
			r = Fail(StatusUnknown, "no result")
		}
		success = success && r.Success
		status = status.Worse(r.Status)
		suggestions = append(suggestions, r.Suggestions...)
		if r.Status == StatusHealthy {
			healthy++
		} else {
			problems = append(problems, fmt.Sprintf("%s: [%s] %s", c.Name, r.Status, r.Message))
		}
	}

	message := fmt.Sprintf("%d/%d healthy", healthy, len(constituents))
	if len(problems) > 0 {
		message += "; " + strings.Join(problems, "; ")
	}

	merged := NewResult(success, status, message)
	merged.Suggestions = suggestions
	return merged.WithData("constituents", constituents)
}
