package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/askterm/internal/heartbeat"
)

const (
	DefaultPrefix = "askterm-session"

	InputFile  = "input.json"
	OutputFile = "output.json"
)

// Session is the working directory shared by a parent and one detached child.
type Session struct {
	ID  string
	Dir string
}

func (s Session) InputPath() string     { return filepath.Join(s.Dir, InputFile) }
func (s Session) OutputPath() string    { return filepath.Join(s.Dir, OutputFile) }
func (s Session) HeartbeatPath() string { return heartbeat.Path(s.Dir) }

// HasOutput reports whether the child has left an output file.
func (s Session) HasOutput() bool {
	_, err := os.Stat(s.OutputPath())
	return err == nil
}

// Store allocates and removes session directories under Root.
type Store struct {
	Root   string // parent directory (default os.TempDir())
	Prefix string // directory name prefix (default DefaultPrefix)
}

func (st Store) root() string {
	if st.Root != "" {
		return st.Root
	}
	return os.TempDir()
}

func (st Store) prefix() string {
	if st.Prefix != "" {
		return st.Prefix
	}
	return DefaultPrefix
}

func (st Store) dirFor(id string) string {
	return filepath.Join(st.root(), st.prefix()+"-"+id)
}

// Create allocates a new, empty session directory.
func (st Store) Create() (Session, error) {
	if err := os.MkdirAll(st.root(), 0o750); err != nil {
		return Session{}, fmt.Errorf("create session root: %w", err)
	}
	id := uuid.New().String()
	dir := st.dirFor(id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return Session{}, fmt.Errorf("create session dir: %w", err)
	}
	return Session{ID: id, Dir: dir}, nil
}

// Open resolves an existing session by id. The id must be a UUID so it can
// never point outside Root.
func (st Store) Open(id string) (Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Session{}, fmt.Errorf("invalid session id %q: %w", id, err)
	}
	dir := st.dirFor(id)
	fi, err := os.Stat(dir)
	if err != nil {
		return Session{}, fmt.Errorf("open session: %w", err)
	}
	if !fi.IsDir() {
		return Session{}, fmt.Errorf("open session: %s is not a directory", dir)
	}
	return Session{ID: id, Dir: dir}, nil
}

// Destroy removes the session directory recursively. A directory that is
// already gone is not an error.
func (st Store) Destroy(s Session) error {
	if s.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(s.Dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session %s: %w", s.ID, err)
	}
	return nil
}

// Prune removes session directories under Root whose modification time is
// older than maxAge. It returns the ids that were removed. Sessions with a
// running emitter are never old: each heartbeat rename touches the directory.
func (st Store) Prune(maxAge time.Duration, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(st.root())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list session root: %w", err)
	}
	pfx := st.prefix() + "-"
	var removed []string
	var errs []error
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), pfx) {
			continue
		}
		id := strings.TrimPrefix(e.Name(), pfx)
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := st.Destroy(Session{ID: id, Dir: filepath.Join(st.root(), e.Name())}); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, id)
	}
	return removed, errors.Join(errs...)
}
