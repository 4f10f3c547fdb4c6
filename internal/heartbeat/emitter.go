package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultInterval is the beat period used when none is configured.
const DefaultInterval = time.Second

// EmitterConfig configures an Emitter.
type EmitterConfig struct {
	Dir      string        // session directory; created on Start if missing
	Interval time.Duration // beat period (default 1s)
	Clock    Clock         // nil uses the real clock
	Logger   *slog.Logger  // nil uses slog.Default()
}

// Emitter periodically writes the current epoch milliseconds into the
// heartbeat file of a session directory. Stopping it removes the file, which
// a Watcher interprets as completion.
type Emitter struct {
	path     string
	dir      string
	interval time.Duration
	clock    Clock
	log      *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	last    int64
}

func NewEmitter(cfg EmitterConfig) *Emitter {
	iv := cfg.Interval
	if iv <= 0 {
		iv = DefaultInterval
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Emitter{
		path:     Path(cfg.Dir),
		dir:      cfg.Dir,
		interval: iv,
		clock:    clockOr(cfg.Clock),
		log:      lg,
	}
}

// Path returns the heartbeat file this emitter writes.
func (e *Emitter) Path() string { return e.path }

// Start writes the first beat synchronously and then keeps beating in a
// background goroutine until Stop is called or ctx is cancelled.
func (e *Emitter) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("heartbeat emitter already started")
	}
	if e.stopped {
		return errors.New("heartbeat emitter already stopped")
	}
	if err := os.MkdirAll(e.dir, 0o700); err != nil {
		return fmt.Errorf("create heartbeat dir: %w", err)
	}
	if err := e.beat(); err != nil {
		return fmt.Errorf("write first heartbeat: %w", err)
	}
	lctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.started = true
	go e.loop(lctx)
	return nil
}

func (e *Emitter) loop(ctx context.Context) {
	defer close(e.done)
	t := e.clock.NewTicker(e.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if err := e.beat(); err != nil {
				e.log.Warn("heartbeat write failed", "path", e.path, "error", err)
			}
		}
	}
}

// beat writes a value strictly greater than the previous one so a fast
// clock tick never reads as stale.
func (e *Emitter) beat() error {
	v := e.clock.Now().UnixMilli()
	if v <= e.last {
		v = e.last + 1
	}
	if err := writeValue(e.path, v); err != nil {
		return err
	}
	e.last = v
	return nil
}

// Stop halts the beat loop and deletes the heartbeat file. It is safe to
// call more than once and before Start.
func (e *Emitter) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if err := os.Remove(e.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove heartbeat: %w", err)
	}
	return nil
}
