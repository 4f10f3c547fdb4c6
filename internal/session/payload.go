package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrNoOutput is returned by ReadOutput when the child never wrote a result.
var ErrNoOutput = errors.New("output file missing")

// Input is the payload the parent hands to the child.
type Input struct {
	Workload string          `json:"workload"`
	Input    json.RawMessage `json:"input"`
	TTLMS    int64           `json:"ttl_ms,omitempty"`
}

// WriteInput stores the spawn input in the session.
func (s Session) WriteInput(in Input) error {
	if len(in.Input) == 0 {
		in.Input = json.RawMessage("null")
	}
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}
	return writeAtomic(s.InputPath(), b)
}

// ReadInput loads the spawn input from the session.
func (s Session) ReadInput() (Input, error) {
	var in Input
	b, err := os.ReadFile(s.InputPath())
	if err != nil {
		return in, fmt.Errorf("read input: %w", err)
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return in, fmt.Errorf("decode input: %w", err)
	}
	return in, nil
}

// WriteOutput encodes v as JSON and stores it as the session result.
func (s Session) WriteOutput(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return writeAtomic(s.OutputPath(), b)
}

// ReadOutput returns the raw result. The content must be well-formed JSON.
func (s Session) ReadOutput() (json.RawMessage, error) {
	b, err := os.ReadFile(s.OutputPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoOutput
		}
		return nil, fmt.Errorf("read output: %w", err)
	}
	if !json.Valid(b) {
		return nil, errors.New("output is not valid JSON")
	}
	return json.RawMessage(b), nil
}

func writeAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
