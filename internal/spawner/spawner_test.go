package spawner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/askterm/internal/heartbeat"
	"github.com/loykin/askterm/internal/history"
	"github.com/loykin/askterm/internal/launcher"
	"github.com/loykin/askterm/internal/metrics"
	"github.com/loykin/askterm/internal/session"
)

const tick = 10 * time.Millisecond

type harness struct {
	t     *testing.T
	store session.Store
	wg    sync.WaitGroup
}

func newHarness(t *testing.T) *harness {
	h := &harness{t: t, store: session.Store{Root: t.TempDir()}}
	t.Cleanup(h.wg.Wait)
	return h
}

// child returns a launcher that runs fn in a goroutine as if it were the
// detached process serving the session.
func (h *harness) child(fn func(s session.Session, in session.Input)) launcher.Launcher {
	return launcher.Func(func(ctx context.Context, id string) (launcher.Launched, error) {
		s, err := h.store.Open(id)
		if err != nil {
			return launcher.Launched{}, err
		}
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			in, err := s.ReadInput()
			if err != nil {
				return
			}
			fn(s, in)
		}()
		return launcher.Launched{Strategy: "inproc"}, nil
	})
}

func (h *harness) spawner(l launcher.Launcher, opts ...func(*Config)) *Spawner {
	cfg := Config{
		Store:     h.store,
		Launcher:  l,
		Heartbeat: HeartbeatConfig{Interval: tick},
	}
	for _, o := range opts {
		o(&cfg)
	}
	s, err := New(cfg)
	require.NoError(h.t, err)
	return s
}

func (h *harness) requireNoSessions() {
	h.t.Helper()
	entries, err := os.ReadDir(h.store.Root)
	require.NoError(h.t, err)
	assert.Empty(h.t, entries, "session directories must be removed")
}

func emitFor(s session.Session, d time.Duration) *heartbeat.Emitter {
	em := heartbeat.NewEmitter(heartbeat.EmitterConfig{Dir: s.Dir, Interval: tick / 2})
	_ = em.Start(context.Background())
	time.Sleep(d)
	return em
}

func TestSpawnSuccess(t *testing.T) {
	h := newHarness(t)
	sp := h.spawner(h.child(func(s session.Session, in session.Input) {
		em := emitFor(s, 100*time.Millisecond)
		_ = s.WriteOutput(map[string]string{"answer": "42"})
		_ = em.Stop()
	}))

	res, err := sp.Spawn(context.Background(), Request{Workload: "echo", TTL: 5 * time.Second})
	require.NoError(t, err)
	assert.True(t, res.IsSuccess)
	assert.False(t, res.TimedOut)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, heartbeat.StatusCompleted, res.Status)
	assert.JSONEq(t, `{"answer":"42"}`, string(res.Output))
	assert.Positive(t, res.Heartbeats)

	var out struct{ Answer string }
	require.NoError(t, res.Decode(&out))
	assert.Equal(t, "42", out.Answer)
	h.requireNoSessions()
}

func TestSpawnInputRoundTrip(t *testing.T) {
	h := newHarness(t)
	var got session.Input
	sp := h.spawner(h.child(func(s session.Session, in session.Input) {
		got = in
		em := emitFor(s, 80*time.Millisecond)
		_ = s.WriteOutput(in.Input)
		_ = em.Stop()
	}))

	input := json.RawMessage(`{"questions":[{"id":"q1","type":"open","prompt":"name?"}],"n":1.5}`)
	res, err := sp.Spawn(context.Background(), Request{Workload: "echo", Input: input, TTL: 3 * time.Second})
	require.NoError(t, err)
	h.wg.Wait()
	assert.Equal(t, "echo", got.Workload)
	assert.Equal(t, int64(3000), got.TTLMS)
	assert.JSONEq(t, string(input), string(got.Input))
	assert.JSONEq(t, string(input), string(res.Output))
}

func TestSpawnNeverAliveAfterGrace(t *testing.T) {
	h := newHarness(t)
	sp := h.spawner(launcher.Func(func(context.Context, string) (launcher.Launched, error) {
		return launcher.Launched{}, nil
	}))

	start := time.Now()
	res, err := sp.Spawn(context.Background(), Request{Workload: "echo", TTL: 5 * time.Second})
	require.ErrorIs(t, err, ErrNeverAlive)
	assert.Less(t, time.Since(start), 2*time.Second, "must not wait for the full ttl")
	assert.False(t, res.IsSuccess)
	assert.True(t, res.TimedOut)
	assert.Equal(t, OutcomeNeverAlive, res.Outcome)
	assert.Equal(t, heartbeat.StatusDead, res.Status)
	h.requireNoSessions()
}

func TestSpawnNeverAliveDeadlineBeforeGrace(t *testing.T) {
	h := newHarness(t)
	// grace is 5*40ms, longer than the ttl
	sp := h.spawner(launcher.Func(func(context.Context, string) (launcher.Launched, error) {
		return launcher.Launched{}, nil
	}), func(c *Config) { c.Heartbeat.Interval = 40 * time.Millisecond })

	res, err := sp.Spawn(context.Background(), Request{Workload: "echo", TTL: 60 * time.Millisecond})
	require.ErrorIs(t, err, ErrNeverAlive)
	assert.True(t, res.TimedOut)
	assert.Equal(t, heartbeat.StatusUnknown, res.Status)
	h.requireNoSessions()
}

func TestSpawnChildFinishedBeforeFirstPoll(t *testing.T) {
	h := newHarness(t)
	sp := h.spawner(h.child(func(s session.Session, in session.Input) {
		em := heartbeat.NewEmitter(heartbeat.EmitterConfig{Dir: s.Dir, Interval: tick})
		_ = em.Start(context.Background())
		_ = s.WriteOutput(map[string]string{"answer": "fast"})
		_ = em.Stop()
	}))

	res, err := sp.Spawn(context.Background(), Request{Workload: "echo", TTL: 5 * time.Second})
	require.NoError(t, err)
	assert.True(t, res.IsSuccess)
	assert.Equal(t, heartbeat.StatusCompleted, res.Status)
	assert.JSONEq(t, `{"answer":"fast"}`, string(res.Output))
	h.requireNoSessions()
}

func TestSpawnStallIsDeadNotTimedOut(t *testing.T) {
	h := newHarness(t)
	sp := h.spawner(h.child(func(s session.Session, in session.Input) {
		// beat by hand for a while, then stop updating without deleting
		v := time.Now().UnixMilli()
		for i := 0; i < 10; i++ {
			v++
			_ = os.WriteFile(s.HeartbeatPath(), []byte(strconv.FormatInt(v, 10)), 0o600)
			time.Sleep(tick / 2)
		}
	}))

	res, err := sp.Spawn(context.Background(), Request{Workload: "echo", TTL: 5 * time.Second})
	require.ErrorIs(t, err, ErrProcessDied)
	require.ErrorIs(t, err, ErrTimeout)
	assert.False(t, res.IsSuccess)
	assert.False(t, res.TimedOut)
	assert.Equal(t, OutcomeDied, res.Outcome)
	assert.Positive(t, res.Heartbeats)
	h.requireNoSessions()
}

func TestSpawnDeadlineWhileAlive(t *testing.T) {
	h := newHarness(t)
	stop := make(chan struct{})
	sp := h.spawner(h.child(func(s session.Session, in session.Input) {
		em := heartbeat.NewEmitter(heartbeat.EmitterConfig{Dir: s.Dir, Interval: tick / 2})
		_ = em.Start(context.Background())
		<-stop
		_ = em.Stop()
	}))

	res, err := sp.Spawn(context.Background(), Request{Workload: "echo", TTL: 200 * time.Millisecond})
	close(stop)
	require.ErrorIs(t, err, ErrTimeout)
	require.NotErrorIs(t, err, ErrProcessDied)
	assert.True(t, res.TimedOut)
	assert.False(t, res.IsSuccess)
	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.Equal(t, heartbeat.StatusAlive, res.Status)
}

func TestSpawnMissingOutput(t *testing.T) {
	h := newHarness(t)
	sp := h.spawner(h.child(func(s session.Session, in session.Input) {
		em := emitFor(s, 80*time.Millisecond)
		_ = em.Stop()
	}))

	res, err := sp.Spawn(context.Background(), Request{Workload: "echo", TTL: 3 * time.Second})
	require.ErrorIs(t, err, ErrOutputCorrupted)
	require.ErrorIs(t, err, session.ErrNoOutput)
	assert.False(t, res.IsSuccess)
	assert.False(t, res.TimedOut)
	assert.Equal(t, heartbeat.StatusCompleted, res.Status)
	h.requireNoSessions()
}

func TestSpawnMalformedOutput(t *testing.T) {
	h := newHarness(t)
	sp := h.spawner(h.child(func(s session.Session, in session.Input) {
		em := emitFor(s, 80*time.Millisecond)
		_ = os.WriteFile(s.OutputPath(), []byte(`{"answer":`), 0o600)
		_ = em.Stop()
	}))

	_, err := sp.Spawn(context.Background(), Request{Workload: "echo", TTL: 3 * time.Second})
	require.ErrorIs(t, err, ErrOutputCorrupted)
	h.requireNoSessions()
}

func TestSpawnLaunchFailure(t *testing.T) {
	h := newHarness(t)
	sp := h.spawner(launcher.NewDirect(launcher.Config{Executable: filepath.Join(t.TempDir(), "missing")}))

	res, err := sp.Spawn(context.Background(), Request{Workload: "echo"})
	require.ErrorIs(t, err, ErrLaunchFailed)
	require.ErrorIs(t, err, launcher.ErrLaunch)
	assert.Equal(t, OutcomeLaunchFailed, res.Outcome)
	assert.False(t, res.TimedOut)
	h.requireNoSessions()
}

func TestSpawnSetupFailure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(root, nil, 0o600))
	sp, err := New(Config{Store: session.Store{Root: root}, Launcher: launcher.Func(func(context.Context, string) (launcher.Launched, error) {
		t.Fatal("launch must not be attempted")
		return launcher.Launched{}, nil
	})})
	require.NoError(t, err)

	res, err := sp.Spawn(context.Background(), Request{Workload: "echo"})
	require.ErrorIs(t, err, ErrSetup)
	assert.Equal(t, OutcomeSetupFailed, res.Outcome)

	_, err = sp.Spawn(context.Background(), Request{})
	require.ErrorIs(t, err, ErrSetup)
}

func TestSpawnCancelled(t *testing.T) {
	h := newHarness(t)
	stop := make(chan struct{})
	sp := h.spawner(h.child(func(s session.Session, in session.Input) {
		em := heartbeat.NewEmitter(heartbeat.EmitterConfig{Dir: s.Dir, Interval: tick / 2})
		_ = em.Start(context.Background())
		<-stop
		_ = em.Stop()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()
	res, err := sp.Spawn(ctx, Request{Workload: "echo", TTL: 5 * time.Second})
	close(stop)
	require.ErrorIs(t, err, ErrCancelled)
	assert.False(t, res.TimedOut)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	h.requireNoSessions()
}

func TestSpawnCancelledBeforeLaunch(t *testing.T) {
	h := newHarness(t)
	sp := h.spawner(launcher.Func(func(context.Context, string) (launcher.Launched, error) {
		t.Fatal("launch must not be attempted")
		return launcher.Launched{}, nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := sp.Spawn(ctx, Request{Workload: "echo", TTL: time.Second})
	require.ErrorIs(t, err, ErrCancelled)
	assert.NotErrorIs(t, err, ErrLaunchFailed)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.False(t, res.TimedOut)
	h.requireNoSessions()
}

func TestSpawnLauncherCancelled(t *testing.T) {
	h := newHarness(t)
	sp := h.spawner(launcher.Func(func(context.Context, string) (launcher.Launched, error) {
		return launcher.Launched{}, fmt.Errorf("osascript: %w", context.Canceled)
	}))

	res, err := sp.Spawn(context.Background(), Request{Workload: "echo", TTL: time.Second})
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	h.requireNoSessions()
}

// cleanupFailures reads the process-wide cleanup failure counter.
func cleanupFailures(t *testing.T) float64 {
	t.Helper()
	require.NoError(t, metrics.Register(prometheus.DefaultRegisterer))
	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == "askterm_session_cleanup_failures_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestSpawnCleanupFailureKeepsSuccess(t *testing.T) {
	h := newHarness(t)
	sp := h.spawner(h.child(func(s session.Session, in session.Input) {
		em := emitFor(s, 60*time.Millisecond)
		_ = s.WriteOutput(map[string]string{"answer": "42"})
		_ = em.Stop()
	}))
	var attempted []string
	sp.remove = func(s session.Session) error {
		attempted = append(attempted, s.ID)
		return errors.New("device or resource busy")
	}
	before := cleanupFailures(t)

	res, err := sp.Spawn(context.Background(), Request{Workload: "echo", TTL: 5 * time.Second})
	require.NoError(t, err)
	assert.True(t, res.IsSuccess)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.JSONEq(t, `{"answer":"42"}`, string(res.Output))
	assert.Equal(t, []string{res.SessionID}, attempted)
	assert.Equal(t, before+1, cleanupFailures(t))
}

type memSink struct {
	mu     sync.Mutex
	events []history.Event
	err    error
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func TestSpawnRecordsHistory(t *testing.T) {
	h := newHarness(t)
	sink := &memSink{err: errors.New("sink down")}
	sp := h.spawner(launcher.Func(func(context.Context, string) (launcher.Launched, error) {
		return launcher.Launched{}, errors.New("no terminal")
	}), func(c *Config) { c.History = sink })

	res, err := sp.Spawn(context.Background(), Request{Workload: "questionnaire"})
	require.ErrorIs(t, err, ErrLaunchFailed)

	require.Len(t, sink.events, 1)
	rec := sink.events[0].Record
	assert.Equal(t, history.EventSpawnFinished, sink.events[0].Type)
	assert.Equal(t, res.SessionID, rec.SessionID)
	assert.Equal(t, "questionnaire", rec.Workload)
	assert.Equal(t, string(OutcomeLaunchFailed), rec.Outcome)
	assert.Contains(t, rec.Error, "no terminal")
}

func TestNewRequiresLauncher(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
