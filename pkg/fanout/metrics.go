package fanout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FanoutInFlight tracks provider calls currently running
	FanoutInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "learnforge_fanout_in_flight",
		Help: "Number of provider calls currently in flight",
	})

	// FanoutAttempts tracks provider call attempts
	FanoutAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "learnforge_fanout_attempts_total",
		Help: "Total number of provider call attempts",
	})

	// FanoutRetries tracks retries by error class
	FanoutRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "learnforge_fanout_retries_total",
		Help: "Total number of retries by error class",
	}, []string{"error_class"})

	// FanoutRetryExhausted tracks items that failed after MaxAttempts
	FanoutRetryExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "learnforge_fanout_retry_exhausted_total",
		Help: "Total number of items whose retry attempts were exhausted by error class",
	}, []string{"error_class"})

	// FanoutRetryBackoff tracks the wait before each retry
	FanoutRetryBackoff = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "learnforge_fanout_retry_backoff_seconds",
		Help:    "Backoff duration before retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	// FanoutTaskDuration tracks item duration by final state
	FanoutTaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "learnforge_fanout_task_duration_seconds",
		Help:    "Item duration in seconds by final state",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"state"})

	// FanoutRuns tracks Submit calls by status
	FanoutRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "learnforge_fanout_runs_total",
		Help: "Total number of fan-out runs by status",
	}, []string{"status"})
)
