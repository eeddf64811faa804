package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// TaskStatus enumerates the lifecycle states of a task. Transitions are
// unconstrained: any state may follow any other.
type TaskStatus string

const (
	StatusPending       TaskStatus = "pending"
	StatusHalfCompleted TaskStatus = "half-completed"
	StatusCompleted     TaskStatus = "completed"
)

// ValidStatus reports whether s is one of the known task statuses.
func ValidStatus(s TaskStatus) bool {
	switch s {
	case StatusPending, StatusHalfCompleted, StatusCompleted:
		return true
	}
	return false
}

// AlertNextDebrief is the sentinel alert value meaning "surface this task
// at the next debrief" rather than at a concrete time.
const AlertNextDebrief = "next_debrief"

// Task is a single tracked task or opportunity. Alert is either empty (no
// alert), the AlertNextDebrief sentinel, or an RFC3339 timestamp.
type Task struct {
	ID          int64
	Description string
	Urgency     int // 1..5, 5 most urgent
	Status      TaskStatus
	Alert       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Profile is the singleton user profile row: an append-only raw-input
// journal plus the current structured document as JSON text.
type Profile struct {
	RawInput   string
	Structured string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Conversation records one completed exchange with the assistant.
type Conversation struct {
	ID            string
	UserInput     string
	AgentResponse string
	ModelUsed     string
	CreatedAt     time.Time
}
