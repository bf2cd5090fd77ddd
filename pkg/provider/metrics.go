package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderRequests tracks provider calls by outcome (ok or error class)
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "learnforge_provider_requests_total",
		Help: "Total provider requests by outcome",
	}, []string{"outcome"})

	// ProviderRequestDuration tracks provider call latency
	ProviderRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "learnforge_provider_request_duration_seconds",
		Help:    "Provider request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	// ProviderThrottleWait tracks time spent waiting for the client-side limiter
	ProviderThrottleWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "learnforge_provider_throttle_wait_seconds",
		Help:    "Time spent waiting for the provider rate limiter",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)
