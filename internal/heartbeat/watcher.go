package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

const (
	DefaultGraceMultiplier = 5
	DefaultMissThreshold   = 2
)

// WatcherConfig configures a Watcher. Zero values take the defaults.
type WatcherConfig struct {
	Dir             string        // session directory holding the heartbeat file
	Interval        time.Duration // poll period (default 1s)
	GraceMultiplier int           // initial wait is GraceMultiplier*Interval (default 5)
	MissThreshold   int           // consecutive stale reads tolerated before Dead (default 2)
	Clock           Clock
	Logger          *slog.Logger
	// OnTransition, when set, is called after every status change.
	OnTransition func(from, to Status)
}

// Watcher derives a liveness Status from periodic reads of a heartbeat file.
//
// After a grace period it polls every interval:
//   - absent, never advanced: Dead
//   - absent after advancing: Completed
//   - value greater than the last seen: Alive, misses reset
//   - anything else: one miss; more than MissThreshold misses is Dead
//
// Dead and Completed are terminal.
type Watcher struct {
	path      string
	interval  time.Duration
	grace     time.Duration
	threshold int
	clock     Clock
	log       *slog.Logger
	onTrans   func(from, to Status)
	observe   func() Observation

	status atomic.Int32
	last   int64
	misses int
	beats  int
}

func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	iv := cfg.Interval
	if iv <= 0 {
		iv = DefaultInterval
	}
	gm := cfg.GraceMultiplier
	if gm == 0 {
		gm = DefaultGraceMultiplier
	}
	th := cfg.MissThreshold
	if th == 0 {
		th = DefaultMissThreshold
	}
	if gm < 0 {
		return nil, fmt.Errorf("grace multiplier must be >= 0, got %d", gm)
	}
	if th < 0 {
		return nil, fmt.Errorf("miss threshold must be >= 0, got %d", th)
	}
	if cfg.Dir == "" {
		return nil, errors.New("heartbeat watcher requires a directory")
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	p := Path(cfg.Dir)
	w := &Watcher{
		path:      p,
		interval:  iv,
		grace:     time.Duration(gm) * iv,
		threshold: th,
		clock:     clockOr(cfg.Clock),
		log:       lg,
		onTrans:   cfg.OnTransition,
	}
	w.observe = func() Observation { return Observe(p) }
	return w, nil
}

// Status returns the current status. It is safe to call concurrently with Watch.
func (w *Watcher) Status() Status { return Status(w.status.Load()) }

// Advanced reports whether at least one fresh heartbeat was observed.
func (w *Watcher) Advanced() bool { return w.beats > 0 }

// Beats returns the number of fresh heartbeats observed.
func (w *Watcher) Beats() int { return w.beats }

// Misses returns the current count of consecutive stale reads.
func (w *Watcher) Misses() int { return w.misses }

// Step applies one observation and returns the resulting status. Once the
// status is terminal further observations are ignored.
func (w *Watcher) Step(o Observation) Status {
	cur := w.Status()
	if cur.Terminal() {
		return cur
	}
	switch {
	case !o.Present && w.last == 0:
		w.set(cur, StatusDead)
	case !o.Present:
		w.set(cur, StatusCompleted)
	case o.Valid && o.Value > w.last:
		w.last = o.Value
		w.misses = 0
		w.beats++
		w.set(cur, StatusAlive)
	default:
		w.misses++
		if w.misses > w.threshold {
			w.set(cur, StatusDead)
		}
	}
	return w.Status()
}

func (w *Watcher) set(from, to Status) {
	if from == to {
		return
	}
	w.status.Store(int32(to))
	w.log.Debug("heartbeat status changed", "path", w.path, "from", from.String(), "to", to.String())
	if w.onTrans != nil {
		w.onTrans(from, to)
	}
}

// Watch blocks until a terminal status is reached or ctx is done. A done
// context ends the loop without changing the status; callers inspect ctx.Err()
// to tell a deadline from a terminal result. The returned error is non-nil
// only when the session directory cannot be accessed at start.
func (w *Watcher) Watch(ctx context.Context) (Status, error) {
	if _, err := os.Stat(filepath.Dir(w.path)); err != nil {
		return w.Status(), fmt.Errorf("heartbeat dir: %w", err)
	}

	select {
	case <-ctx.Done():
		return w.Status(), nil
	case <-w.clock.After(w.grace):
	}

	t := w.clock.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return w.Status(), nil
		case <-t.C():
			if st := w.Step(w.observe()); st.Terminal() {
				return st, nil
			}
		}
	}
}
