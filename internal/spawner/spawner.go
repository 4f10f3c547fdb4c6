// Package spawner runs a workload in a detached child process and waits for
// its result, using a session directory and heartbeat file as the only
// channel between the two processes.
package spawner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/askterm/internal/heartbeat"
	"github.com/loykin/askterm/internal/history"
	"github.com/loykin/askterm/internal/launcher"
	"github.com/loykin/askterm/internal/metrics"
	"github.com/loykin/askterm/internal/session"
)

// DefaultTTL bounds how long a spawn waits for its child.
const DefaultTTL = 5 * time.Minute

// HeartbeatConfig tunes liveness detection. Zero values take the heartbeat
// package defaults.
type HeartbeatConfig struct {
	Interval        time.Duration
	GraceMultiplier int
	MissThreshold   int
}

// Config wires a Spawner.
type Config struct {
	Store      session.Store
	Launcher   launcher.Launcher
	Heartbeat  HeartbeatConfig
	DefaultTTL time.Duration
	Clock      heartbeat.Clock
	History    history.Sink // optional
	Logger     *slog.Logger
}

// Spawner is safe for concurrent use; every Spawn owns its own session.
type Spawner struct {
	store    session.Store
	launcher launcher.Launcher
	hb       HeartbeatConfig
	ttl      time.Duration
	clock    heartbeat.Clock
	history  history.Sink
	log      *slog.Logger
	remove   func(session.Session) error
}

func New(cfg Config) (*Spawner, error) {
	if cfg.Launcher == nil {
		return nil, errors.New("spawner requires a launcher")
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Spawner{
		store:    cfg.Store,
		launcher: cfg.Launcher,
		hb:       cfg.Heartbeat,
		ttl:      ttl,
		clock:    cfg.Clock,
		history:  cfg.History,
		log:      lg,
		remove:   cfg.Store.Destroy,
	}, nil
}

// Spawn creates a session, launches the child, watches its heartbeat until a
// terminal status or the TTL, and collects the output. The session is
// removed before Spawn returns. The returned error equals Result.Err.
func (s *Spawner) Spawn(ctx context.Context, req Request) (res Result, _ error) {
	res.StartedAt = time.Now()
	metrics.IncSpawn(req.Workload)
	defer func() {
		res.Duration = time.Since(res.StartedAt)
		s.report(ctx, req, res)
	}()

	if req.Workload == "" {
		res.fail(OutcomeSetupFailed, fmt.Errorf("%w: workload is required", ErrSetup))
		return res, res.Err
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}

	sess, err := s.store.Create()
	if err != nil {
		res.fail(OutcomeSetupFailed, fmt.Errorf("%w: %w", ErrSetup, err))
		return res, res.Err
	}
	res.SessionID = sess.ID
	defer s.destroy(sess)

	log := s.log.With("session", sess.ID, "workload", req.Workload)

	in := session.Input{Workload: req.Workload, Input: req.Input, TTLMS: ttl.Milliseconds()}
	if err := sess.WriteInput(in); err != nil {
		res.fail(OutcomeSetupFailed, fmt.Errorf("%w: %w", ErrSetup, err))
		return res, res.Err
	}

	w, err := heartbeat.NewWatcher(heartbeat.WatcherConfig{
		Dir:             sess.Dir,
		Interval:        s.hb.Interval,
		GraceMultiplier: s.hb.GraceMultiplier,
		MissThreshold:   s.hb.MissThreshold,
		Clock:           s.clock,
		Logger:          log,
		OnTransition: func(from, to heartbeat.Status) {
			metrics.RecordTransition(from.String(), to.String())
			log.Info("child status", "from", from.String(), "to", to.String())
		},
	})
	if err != nil {
		res.fail(OutcomeSetupFailed, fmt.Errorf("%w: %w", ErrSetup, err))
		return res, res.Err
	}

	if err := ctx.Err(); err != nil {
		res.fail(OutcomeCancelled, fmt.Errorf("%w: %w", ErrCancelled, err))
		return res, res.Err
	}
	launched, err := s.launcher.Launch(ctx, sess.ID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			res.fail(OutcomeCancelled, fmt.Errorf("%w: %w", ErrCancelled, err))
		} else {
			res.fail(OutcomeLaunchFailed, fmt.Errorf("%w: %w", ErrLaunchFailed, err))
		}
		return res, res.Err
	}
	log.Info("child launched", "strategy", launched.Strategy, "pid", launched.PID, "ttl", ttl)

	wctx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()
	status, err := w.Watch(wctx)
	res.Status = status
	res.Heartbeats = w.Beats()
	if err != nil {
		res.fail(OutcomeSetupFailed, fmt.Errorf("%w: %w", ErrSetup, err))
		return res, res.Err
	}

	// a child that finishes between two polls leaves output but no heartbeat
	if !w.Advanced() && !errors.Is(ctx.Err(), context.Canceled) && sess.HasOutput() {
		log.Info("child finished before its first observed heartbeat", "status", status.String())
		status = heartbeat.StatusCompleted
		res.Status = status
	}

	switch {
	case status == heartbeat.StatusCompleted:
		out, err := sess.ReadOutput()
		if err != nil {
			res.fail(OutcomeOutputCorrupted, fmt.Errorf("%w: %w", ErrOutputCorrupted, err))
			return res, res.Err
		}
		res.Output = out
		res.IsSuccess = true
		res.Outcome = OutcomeSuccess
		return res, nil
	case status == heartbeat.StatusDead && !w.Advanced():
		res.TimedOut = true
		res.fail(OutcomeNeverAlive, ErrNeverAlive)
	case status == heartbeat.StatusDead:
		res.fail(OutcomeDied, ErrProcessDied)
	case errors.Is(ctx.Err(), context.Canceled):
		res.fail(OutcomeCancelled, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err()))
	case !w.Advanced():
		res.TimedOut = true
		res.fail(OutcomeNeverAlive, fmt.Errorf("%w: no heartbeat within %s", ErrNeverAlive, ttl))
	default:
		res.TimedOut = true
		res.fail(OutcomeTimeout, fmt.Errorf("%w: still %s after %s", ErrTimeout, status, ttl))
	}
	return res, res.Err
}

func (r *Result) fail(o Outcome, err error) {
	r.Outcome = o
	r.Err = err
	r.IsSuccess = false
}

// destroy removes the session. Failures are reported, never returned.
func (s *Spawner) destroy(sess session.Session) {
	if err := s.remove(sess); err != nil {
		metrics.IncCleanupFailure()
		s.log.Warn("session cleanup failed", "session", sess.ID, "dir", sess.Dir, "error", err)
	}
}

func (s *Spawner) report(ctx context.Context, req Request, res Result) {
	metrics.ObserveOutcome(req.Workload, string(res.Outcome), res.Duration.Seconds())
	lvl := slog.LevelInfo
	if res.Err != nil {
		lvl = slog.LevelWarn
	}
	s.log.Log(ctx, lvl, "spawn finished",
		"session", res.SessionID, "workload", req.Workload, "outcome", string(res.Outcome),
		"status", res.Status.String(), "heartbeats", res.Heartbeats, "duration", res.Duration)

	if s.history == nil {
		return
	}
	rec := history.Record{
		SessionID:  res.SessionID,
		Workload:   req.Workload,
		Outcome:    string(res.Outcome),
		Status:     res.Status.String(),
		TimedOut:   res.TimedOut,
		Heartbeats: res.Heartbeats,
		StartedAt:  res.StartedAt,
		Duration:   res.Duration,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	// the caller's context may already be cancelled; history is best effort
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.history.Send(hctx, history.Event{Type: history.EventSpawnFinished, OccurredAt: time.Now(), Record: rec}); err != nil {
		s.log.Warn("history send failed", "session", res.SessionID, "error", err)
	}
}
