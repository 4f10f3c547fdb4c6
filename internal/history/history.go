package history

import (
	"context"
	"time"
)

// EventType defines the kind of history event.
type EventType string

const (
	// EventSpawnFinished is sent once per spawn after its session is torn down.
	EventSpawnFinished EventType = "spawn_finished"
)

// Record summarizes one spawn attempt.
type Record struct {
	SessionID  string        `json:"session_id"`
	Workload   string        `json:"workload"`
	Outcome    string        `json:"outcome"`
	Status     string        `json:"status"`
	TimedOut   bool          `json:"timed_out"`
	Heartbeats int           `json:"heartbeats"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Event represents a spawn event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Nullable returns nil for an empty error string so SQL sinks store NULL.
func Nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
