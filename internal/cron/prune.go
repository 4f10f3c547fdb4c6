package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/askterm/internal/metrics"
	"github.com/loykin/askterm/internal/session"
)

// PruneJob removes session directories left behind by crashed parents.
func PruneJob(store session.Store, maxAge time.Duration, schedule string, log *slog.Logger) *Job {
	if log == nil {
		log = slog.Default()
	}
	return &Job{
		Name:     "session-prune",
		Schedule: schedule,
		Run: func(context.Context) error {
			_, err := Prune(store, maxAge, log)
			return err
		},
	}
}

// Prune runs one pruning pass, records it and returns how many sessions
// were removed.
func Prune(store session.Store, maxAge time.Duration, log *slog.Logger) (int, error) {
	removed, err := store.Prune(maxAge, time.Now())
	metrics.AddPruned(len(removed))
	if len(removed) > 0 {
		log.Info("stale sessions removed", "count", len(removed), "root", store.Root)
	}
	return len(removed), err
}
