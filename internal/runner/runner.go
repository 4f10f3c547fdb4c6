// Package runner is the entry point of the detached child process: it serves
// one session by running its workload while emitting heartbeats.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/askterm/internal/heartbeat"
	"github.com/loykin/askterm/internal/session"
	"github.com/loykin/askterm/internal/workload"
)

// ErrUnknownWorkload is returned when the session names a workload that is
// not registered in this binary.
var ErrUnknownWorkload = errors.New("unknown workload")

type Config struct {
	Store    session.Store
	Registry *workload.Registry
	Interval time.Duration // heartbeat period
	Clock    heartbeat.Clock
	Term     workload.IO
	Logger   *slog.Logger
}

type Runner struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) *Runner {
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Runner{cfg: cfg, log: lg}
}

// Run serves the session with the given id. The heartbeat starts before the
// workload and is removed when Run returns, whatever the outcome; the output
// file is always written before that removal. Cancelling ctx reaches the
// workload, which decides what to report.
func (r *Runner) Run(ctx context.Context, sessionID string) (err error) {
	sess, err := r.cfg.Store.Open(sessionID)
	if err != nil {
		return err
	}
	log := r.log.With("session", sess.ID)

	in, err := sess.ReadInput()
	if err != nil {
		return err
	}
	log = log.With("workload", in.Workload)

	// an unknown workload never beats, so the parent sees a child that
	// never came alive
	w, ok := r.lookup(in.Workload)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownWorkload, in.Workload)
	}

	em := heartbeat.NewEmitter(heartbeat.EmitterConfig{
		Dir:      sess.Dir,
		Interval: r.cfg.Interval,
		Clock:    r.cfg.Clock,
		Logger:   log,
	})
	if err := em.Start(ctx); err != nil {
		return fmt.Errorf("start heartbeat: %w", err)
	}
	defer func() {
		if serr := em.Stop(); serr != nil {
			log.Warn("heartbeat stop failed", "error", serr)
			if err == nil {
				err = serr
			}
		}
	}()

	if in.TTLMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(in.TTLMS)*time.Millisecond)
		defer cancel()
	}

	log.Info("workload started")
	out, runErr := w.Run(ctx, in.Input, r.cfg.Term)
	if runErr != nil {
		log.Error("workload failed", "error", runErr)
		if w.Fallback != nil {
			if werr := sess.WriteOutput(w.Fallback(runErr)); werr != nil {
				log.Warn("fallback output not written", "error", werr)
			}
		}
		return fmt.Errorf("workload %s: %w", in.Workload, runErr)
	}
	if err := sess.WriteOutput(out); err != nil {
		return err
	}
	log.Info("workload finished")
	return nil
}

func (r *Runner) lookup(name string) (workload.Workload, bool) {
	if r.cfg.Registry == nil {
		return workload.Workload{}, false
	}
	return r.cfg.Registry.Lookup(name)
}
