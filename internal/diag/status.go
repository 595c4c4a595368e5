package diag

// TaskType determines which lifecycle call a task is invoked under.
type TaskType string

const (
	TaskStatusCheck TaskType = "status_check"
	TaskErrorFix    TaskType = "error_fix"
	TaskDevelopment TaskType = "development"
	TaskMaintenance TaskType = "maintenance"
	TaskMonitoring  TaskType = "monitoring"
)

// AgentStatus reports the health of an agent or a single task run.
type AgentStatus string

const (
	StatusUnknown  AgentStatus = "unknown"
	StatusHealthy  AgentStatus = "healthy"
	StatusRunning  AgentStatus = "running"
	StatusWarning  AgentStatus = "warning"
	StatusError    AgentStatus = "error"
	StatusCritical AgentStatus = "critical"
	StatusStopped  AgentStatus = "stopped"
)

// severity ranks statuses for aggregation. Unknown and Stopped rank with
// Warning: an agent that cannot report is not assumed healthy.
func (s AgentStatus) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusRunning:
		return 1
	case StatusWarning, StatusUnknown, StatusStopped:
		return 2
	case StatusError:
		return 3
	case StatusCritical:
		return 4
	}
	return 2
}

// Worse returns the more severe of s and other.
func (s AgentStatus) Worse(other AgentStatus) AgentStatus {
	if other.severity() > s.severity() {
		return other
	}
	return s
}

// AtLeast reports whether s is at least as severe as other.
func (s AgentStatus) AtLeast(other AgentStatus) bool {
	return s.severity() >= other.severity()
}

// Failing reports whether the status represents a failed run.
func (s AgentStatus) Failing() bool {
	return s == StatusError || s == StatusCritical
}
