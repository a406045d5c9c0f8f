package model

import "time"

// Execution status constants.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusQueued: {
		StatusRunning:   true,
		StatusFailed:    true,
		StatusAbandoned: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusAbandoned: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is a final execution status.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusAbandoned
}

// Execution records one run of a module triggered by a notification.
type Execution struct {
	ID             string     `json:"id"`
	ModuleID       int64      `json:"module_id"`
	ModuleName     string     `json:"module_name"`
	NotificationID string     `json:"notification_id"`
	Status         string     `json:"status"`
	ExitCode       *int       `json:"exit_code,omitempty"`
	Error          string     `json:"error,omitempty"`
	DurationMS     *int       `json:"duration_ms,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}
