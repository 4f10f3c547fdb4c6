package spawner

import (
	"errors"
	"fmt"
)

// Error kinds of a spawn. Exactly one applies to a failed call.
var (
	ErrSetup           = errors.New("session setup failed")
	ErrLaunchFailed    = errors.New("launching child process failed")
	ErrNeverAlive      = errors.New("spawned process never came alive")
	ErrTimeout         = errors.New("spawned process timed out")
	ErrOutputCorrupted = errors.New("output data is missing or corrupted")
	ErrCancelled       = errors.New("spawn cancelled")

	// ErrProcessDied is a timeout kind reached by a stalled heartbeat rather
	// than the deadline.
	ErrProcessDied = fmt.Errorf("%w: process stopped sending heartbeats", ErrTimeout)
)

// Outcome labels a finished spawn for metrics and history.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeSetupFailed     Outcome = "setup_failed"
	OutcomeLaunchFailed    Outcome = "launch_failed"
	OutcomeNeverAlive      Outcome = "never_alive"
	OutcomeTimeout         Outcome = "timeout"
	OutcomeDied            Outcome = "died"
	OutcomeOutputCorrupted Outcome = "output_corrupted"
	OutcomeCancelled       Outcome = "cancelled"
)
