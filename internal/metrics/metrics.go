package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	spawnsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "askterm",
			Subsystem: "spawn",
			Name:      "started_total",
			Help:      "Number of spawn attempts.",
		}, []string{"workload"},
	)
	spawnOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "askterm",
			Subsystem: "spawn",
			Name:      "outcomes_total",
			Help:      "Number of finished spawns by outcome.",
		}, []string{"workload", "outcome"},
	)
	spawnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "askterm",
			Subsystem: "spawn",
			Name:      "duration_seconds",
			Help:      "Wall time from session creation to teardown.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"workload", "outcome"},
	)
	inflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "askterm",
			Subsystem: "spawn",
			Name:      "inflight",
			Help:      "Spawns currently waiting on a child.",
		}, []string{"workload"},
	)
	heartbeatTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "askterm",
			Subsystem: "heartbeat",
			Name:      "transitions_total",
			Help:      "Number of liveness status transitions.",
		}, []string{"from", "to"},
	)
	cleanupFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "askterm",
			Subsystem: "session",
			Name:      "cleanup_failures_total",
			Help:      "Session directories that could not be removed.",
		},
	)
	sessionsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "askterm",
			Subsystem: "session",
			Name:      "pruned_total",
			Help:      "Orphaned session directories removed by the janitor.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{spawnsStarted, spawnOutcomes, spawnDuration, inflight, heartbeatTransitions, cleanupFailures, sessionsPruned}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncSpawn(workload string) {
	if regOK.Load() {
		spawnsStarted.WithLabelValues(workload).Inc()
		inflight.WithLabelValues(workload).Inc()
	}
}

func ObserveOutcome(workload, outcome string, seconds float64) {
	if regOK.Load() {
		inflight.WithLabelValues(workload).Dec()
		spawnOutcomes.WithLabelValues(workload, outcome).Inc()
		spawnDuration.WithLabelValues(workload, outcome).Observe(seconds)
	}
}

func RecordTransition(from, to string) {
	if regOK.Load() {
		heartbeatTransitions.WithLabelValues(from, to).Inc()
	}
}

func IncCleanupFailure() {
	if regOK.Load() {
		cleanupFailures.Inc()
	}
}

func AddPruned(n int) {
	if regOK.Load() && n > 0 {
		sessionsPruned.Add(float64(n))
	}
}
