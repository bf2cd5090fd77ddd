// Package metrics exposes the Prometheus registry used by learnforge.
// All metrics are defined in their respective packages (admission, cache,
// fanout, provider, ratelimit, telemetry) to maintain modularity and avoid circular
// dependencies.
//
// This package provides the /metrics handler and the reference for all
// available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registerer all learnforge metrics are
// registered with via promauto.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler serving Registry in the Prometheus
// exposition format.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		Registry,
		promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}),
	)
}

// Metrics Documentation
//
// Admission Metrics (pkg/admission):
//   - learnforge_admission_decisions_total{tier, decision} (Counter): Admission decisions
//   - learnforge_admission_denials_total{reason} (Counter): Denials by exceeded ceiling
//   - learnforge_admission_evictions_total (Counter): Identities evicted from the quota table
//
// Cache Metrics (pkg/cache):
//   - learnforge_cache_hits_total{layer} (Counter): Cache hits by layer (local, durable)
//   - learnforge_cache_misses_total (Counter): Cache misses
//   - learnforge_cache_stale_total{layer} (Counter): Entries hidden by a namespace version bump
//   - learnforge_cache_evictions_total (Counter): Local LRU evictions
//   - learnforge_cache_local_entries (Gauge): Entries in the local tier
//   - learnforge_cache_invalidations_total{scope} (Counter): Namespace and key invalidations
//   - learnforge_cache_errors_total{operation} (Counter): Durable tier errors
//   - learnforge_cache_durable_bypassed_total (Counter): Operations that skipped the durable tier
//
// Fan-Out Metrics (pkg/fanout):
//   - learnforge_fanout_in_flight (Gauge): Provider calls in flight
//   - learnforge_fanout_attempts_total (Counter): Call attempts
//   - learnforge_fanout_retries_total{error_class} (Counter): Retries by error class
//   - learnforge_fanout_retry_exhausted_total{error_class} (Counter): Items that exhausted their attempts
//   - learnforge_fanout_retry_backoff_seconds (Histogram): Backoff waits
//   - learnforge_fanout_task_duration_seconds{state} (Histogram): Item duration by final state
//   - learnforge_fanout_runs_total{status} (Counter): Submit calls by status
//
// Provider Metrics (pkg/provider):
//   - learnforge_provider_requests_total{outcome} (Counter): Provider requests by outcome
//   - learnforge_provider_request_duration_seconds (Histogram): Provider latency
//   - learnforge_provider_throttle_wait_seconds (Histogram): Time spent in the client-side throttle
//
// Upstream Budget Metrics (pkg/ratelimit):
//   - learnforge_upstream_requests_remaining (Gauge): Requests left in the provider's window
//   - learnforge_upstream_blocks_total (Counter): Calls blocked on a critical budget
//   - learnforge_upstream_throttles_total (Counter): Calls delayed on a low budget
//
// Request Metrics (pkg/telemetry):
//   - learnforge_requests_total{operation, status} (Counter): Requests by operation and status
//   - learnforge_request_duration_seconds{operation} (Histogram): End-to-end request latency
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(learnforge_cache_hits_total[5m])) /
//   (sum(rate(learnforge_cache_hits_total[5m])) + sum(rate(learnforge_cache_misses_total[5m])))
//
//   # Denial Rate by Tier
//   sum by (tier) (rate(learnforge_admission_decisions_total{decision="denied"}[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(learnforge_request_duration_seconds_bucket[5m]))
//
//   # Retry Pressure
//   sum by (error_class) (rate(learnforge_fanout_retries_total[5m]))
