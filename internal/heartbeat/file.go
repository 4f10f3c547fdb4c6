package heartbeat

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileName is the heartbeat file inside a session directory.
const FileName = "heartbeat.txt"

// Path returns the heartbeat file path for a session directory.
func Path(dir string) string { return filepath.Join(dir, FileName) }

// Observation is one read of the heartbeat file.
type Observation struct {
	Present bool  // file exists
	Valid   bool  // content parsed as base-10 epoch milliseconds
	Value   int64 // parsed value when Valid
}

// Observe reads the heartbeat file at path. Read errors other than
// "not exist" are reported as a present but invalid value.
func Observe(path string) Observation {
	b, err := os.ReadFile(path) // #nosec G304 -- path is derived from the session directory
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Observation{}
		}
		return Observation{Present: true}
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return Observation{Present: true}
	}
	return Observation{Present: true, Valid: true, Value: v}
}

// writeValue replaces the heartbeat file atomically so readers never see a
// partial value.
func writeValue(path string, v int64) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(v, 10)), 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
