package heartbeat

// Status is the liveness of a heartbeat emitter as seen by a Watcher.
type Status int32

const (
	StatusUnknown Status = iota
	StatusAlive
	StatusDead
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusAlive:
		return "alive"
	case StatusDead:
		return "dead"
	case StatusCompleted:
		return "completed"
	default:
		return "invalid"
	}
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusDead || s == StatusCompleted
}
