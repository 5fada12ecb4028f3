package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "benchd",
		Subsystem: "engine",
		Name:      "runs_started_total",
		Help:      "Test runs accepted by the engine.",
	})
	runsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "benchd",
		Subsystem: "engine",
		Name:      "runs_completed_total",
		Help:      "Test runs that finished with every item passing.",
	})
	runsStopped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "benchd",
		Subsystem: "engine",
		Name:      "runs_stopped_total",
		Help:      "Test runs stopped by operator request.",
	})
	runsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "benchd",
		Subsystem: "engine",
		Name:      "runs_failed_total",
		Help:      "Test runs that finished with failures or aborted on error.",
	})
	eventsBroadcast = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "benchd",
		Subsystem: "engine",
		Name:      "events_broadcast_total",
		Help:      "Events broadcast to connected sessions, by status.",
	}, []string{"status"})
	testRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "benchd",
		Subsystem: "engine",
		Name:      "test_running",
		Help:      "1 while a test sequence is executing.",
	})
	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "benchd",
		Subsystem: "engine",
		Name:      "run_duration_seconds",
		Help:      "Wall time of finished test runs.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	})
)

func init() {
	prometheus.MustRegister(
		runsStarted,
		runsCompleted,
		runsStopped,
		runsFailed,
		eventsBroadcast,
		testRunning,
		runDuration,
	)
}
