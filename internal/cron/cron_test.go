package cron

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/askterm/internal/session"
)

func TestParseEvery(t *testing.T) {
	d, err := parseEvery(" @every 250ms ")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	for _, bad := range []string{"every 1s", "@every -1s", "@every soon", "*/5 * * * *"} {
		_, err := parseEvery(bad)
		assert.Error(t, err, bad)
	}
}

func TestSchedulerAddValidation(t *testing.T) {
	s := NewScheduler(nil)
	noop := func(context.Context) error { return nil }

	require.Error(t, s.Add(&Job{Schedule: "@every 1s", Run: noop}))
	require.Error(t, s.Add(&Job{Name: "a", Schedule: "@every 1s"}))
	require.Error(t, s.Add(&Job{Name: "a", Schedule: "hourly", Run: noop}))
	require.NoError(t, s.Add(&Job{Name: "a", Schedule: "@every 1s", Run: noop}))
	require.Error(t, s.Add(&Job{Name: "a", Schedule: "@every 1s", Run: noop}))
}

func TestSchedulerRunsAndStops(t *testing.T) {
	s := NewScheduler(nil)
	var runs atomic.Int32
	require.NoError(t, s.Add(&Job{Name: "tick", Schedule: "@every 5ms", Run: func(context.Context) error {
		runs.Add(1)
		return errors.New("logged, not fatal")
	}}))
	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, time.Millisecond)
	s.Stop()
	n := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, runs.Load(), "no runs after Stop")
	s.Stop()
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	s := NewScheduler(nil)
	var active, maxActive atomic.Int32
	require.NoError(t, s.Add(&Job{Name: "slow", Schedule: "@every 2ms", Run: func(ctx context.Context) error {
		n := active.Add(1)
		defer active.Add(-1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		select {
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	}}))
	require.NoError(t, s.Start(context.Background()))
	time.Sleep(60 * time.Millisecond)
	s.Stop()
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestPrune(t *testing.T) {
	store := session.Store{Root: t.TempDir()}
	old, err := store.Create()
	require.NoError(t, err)
	fresh, err := store.Create()
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old.Dir, past, past))

	n, err := Prune(store, time.Hour, slogDiscard())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = os.Stat(old.Dir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh.Dir)
	assert.NoError(t, err)

	job := PruneJob(store, time.Hour, "@every 1h", nil)
	assert.Equal(t, "session-prune", job.Name)
	require.NoError(t, job.Run(context.Background()))

	entries, err := os.ReadDir(filepath.Clean(store.Root))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
