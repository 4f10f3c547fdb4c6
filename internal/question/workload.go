package question

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"

	"github.com/loykin/askterm/internal/spawner"
	"github.com/loykin/askterm/internal/workload"
)

// WorkloadName is the registry name of the questionnaire workload.
const WorkloadName = "questionnaire"

var (
	ErrTimedOut  = errors.New("questionnaire timed out waiting for user input")
	ErrCancelled = errors.New("questionnaire was cancelled by the user")
	ErrFailed    = errors.New("questionnaire failed")
)

// Workload runs the questionnaire on the child's terminal. goos selects the
// closing message.
func Workload(goos string) workload.Workload {
	return workload.Workload{
		Name: WorkloadName,
		Run: func(ctx context.Context, input json.RawMessage, term workload.IO) (any, error) {
			q, err := Parse(input)
			if err != nil {
				return nil, err
			}
			p := NewPrompter(term.In, term.Out)
			res, err := p.Ask(ctx, q)
			if err != nil {
				return nil, err
			}
			if !res.Cancelled && !res.TimedOut {
				p.Done(goos)
			}
			return res, nil
		},
		Fallback: func(error) any {
			return Response{Responses: []Answer{}}
		},
	}
}

// Register adds the questionnaire workload for the running platform.
func Register(r *workload.Registry) error {
	return r.Register(Workload(runtime.GOOS))
}

// Interpret maps a finished spawn to the questionnaire answers.
func Interpret(res spawner.Result) (Response, error) {
	if res.TimedOut {
		return Response{}, fmt.Errorf("%w: %w", ErrTimedOut, res.Err)
	}
	if !res.IsSuccess {
		return Response{}, fmt.Errorf("%w: %w", ErrFailed, res.Err)
	}
	var out Response
	if err := res.Decode(&out); err != nil {
		return Response{}, fmt.Errorf("%w: decode answers: %w", ErrFailed, err)
	}
	if out.TimedOut {
		return out, ErrTimedOut
	}
	if out.Cancelled {
		return out, ErrCancelled
	}
	return out, nil
}

// Spawner runs a request in a detached child. *spawner.Spawner implements it.
type Spawner interface {
	Spawn(ctx context.Context, req spawner.Request) (spawner.Result, error)
}

// Ask spawns the questionnaire on a new terminal and waits for the answers.
func Ask(ctx context.Context, sp Spawner, q Questionnaire, req spawner.Request) (Response, error) {
	raw, err := json.Marshal(q)
	if err != nil {
		return Response{}, err
	}
	if err := Validate(raw); err != nil {
		return Response{}, err
	}
	req.Workload = WorkloadName
	req.Input = raw
	res, _ := sp.Spawn(ctx, req)
	return Interpret(res)
}
