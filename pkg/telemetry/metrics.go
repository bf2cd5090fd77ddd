package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks served requests by operation and status
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "learnforge_requests_total",
		Help: "Total requests by operation and status",
	}, []string{"operation", "status"})

	// RequestDuration tracks end-to-end request latency by operation
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "learnforge_request_duration_seconds",
		Help:    "Request duration in seconds by operation",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"operation"})
)
