package spawner

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/loykin/askterm/internal/heartbeat"
)

// Request describes one spawn.
type Request struct {
	Workload string          // registered workload name the child runs
	Input    json.RawMessage // passed to the workload verbatim
	TTL      time.Duration   // zero uses the spawner default
}

// Result is the outcome of a spawn. IsSuccess holds only when the child
// completed and left well-formed output.
type Result struct {
	SessionID  string
	Output     json.RawMessage
	Status     heartbeat.Status
	Outcome    Outcome
	TimedOut   bool
	IsSuccess  bool
	Err        error
	Heartbeats int
	StartedAt  time.Time
	Duration   time.Duration
}

// Decode unmarshals the output into v.
func (r Result) Decode(v any) error {
	if len(r.Output) == 0 {
		return errors.New("result has no output")
	}
	return json.Unmarshal(r.Output, v)
}
