// Package telemetry aggregates request outcomes in bounded memory.
//
// Counters and the latency histogram are pre-aggregated atomics, so Record
// never grows memory; only the two rings of recent samples take a lock, for
// an O(1) append.
package telemetry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Request statuses recorded by the gateway.
const (
	StatusOK             = "ok"
	StatusDenied         = "denied"
	StatusPartialFailure = "partial_failure"
	StatusError          = "error"
)

// Event is one finished request.
type Event struct {
	Time          time.Time
	RequestID     string
	Operation     string
	Identity      string
	Tier          string
	Status        string
	Latency       time.Duration
	CacheHits     int
	CacheMisses   int
	ProviderCalls int
	Attempts      int
	Retries       int
	Denied        bool

	// ErrorClass and Error describe a failed or partially failed request.
	ErrorClass string
	Error      string
}

// Sample is the retained form of a recent event.
type Sample struct {
	Time          time.Time `json:"time"`
	RequestID     string    `json:"request_id"`
	Operation     string    `json:"operation"`
	Tier          string    `json:"tier"`
	Status        string    `json:"status"`
	LatencyMillis float64   `json:"latency_ms"`
	CacheHits     int       `json:"cache_hits"`
	ProviderCalls int       `json:"provider_calls"`
}

// ErrorSample is the retained form of a recent failure.
type ErrorSample struct {
	Time       time.Time `json:"time"`
	RequestID  string    `json:"request_id"`
	Operation  string    `json:"operation"`
	ErrorClass string    `json:"error_class"`
	Message    string    `json:"message"`
}

// Config holds the recorder configuration.
type Config struct {
	// SampleCapacity bounds the ring of recent requests
	SampleCapacity int `yaml:"sample_capacity"`

	// ErrorCapacity bounds the ring of recent errors
	ErrorCapacity int `yaml:"error_capacity"`
}

// DefaultConfig returns the default telemetry configuration.
func DefaultConfig() Config {
	return Config{
		SampleCapacity: 256,
		ErrorCapacity:  64,
	}
}

// TierUsage counts admission outcomes of one tier.
type TierUsage struct {
	Allowed uint64 `json:"allowed"`
	Denied  uint64 `json:"denied"`
}

type tierCounters struct {
	allowed atomic.Uint64
	denied  atomic.Uint64
}

// RequestCounts counts requests by status.
type RequestCounts struct {
	Total          uint64 `json:"total"`
	OK             uint64 `json:"ok"`
	Denied         uint64 `json:"denied"`
	PartialFailure uint64 `json:"partial_failure"`
	Error          uint64 `json:"error"`
}

// Stats is the snapshot served by the telemetry endpoint.
type Stats struct {
	HitRate          float64              `json:"hitRate"`
	Requests         RequestCounts        `json:"requests"`
	QuotaByTier      map[string]TierUsage `json:"quotaByTier"`
	LatencyHistogram HistogramSnapshot    `json:"latencyHistogram"`
	ErrorCounts      map[string]uint64    `json:"errorCounts"`
	CacheHits        uint64               `json:"cacheHits"`
	CacheMisses      uint64               `json:"cacheMisses"`
	ProviderCalls    uint64               `json:"providerCalls"`
	RetryTotal       uint64               `json:"retryTotal"`
	RecentSamples    []Sample             `json:"recentSamples"`
	RecentErrors     []ErrorSample        `json:"recentErrors"`
	UptimeSeconds    float64              `json:"uptimeSeconds"`
}

// Recorder aggregates events. It is safe for concurrent use.
type Recorder struct {
	start time.Time

	ok, denied, partial, failed atomic.Uint64

	cacheHits     atomic.Uint64
	cacheMisses   atomic.Uint64
	providerCalls atomic.Uint64
	retries       atomic.Uint64

	// tier name -> *tierCounters, error class -> *atomic.Uint64. Both key
	// sets are small and fixed by configuration and code.
	tiers  sync.Map
	errors sync.Map

	latency *Histogram
	samples *Ring[Sample]
	recent  *Ring[ErrorSample]
}

// NewRecorder creates a recorder.
func NewRecorder(cfg Config) *Recorder {
	def := DefaultConfig()
	if cfg.SampleCapacity <= 0 {
		cfg.SampleCapacity = def.SampleCapacity
	}
	if cfg.ErrorCapacity <= 0 {
		cfg.ErrorCapacity = def.ErrorCapacity
	}

	return &Recorder{
		start:   time.Now(),
		latency: NewHistogram(DefaultLatencyBounds),
		samples: NewRing[Sample](cfg.SampleCapacity),
		recent:  NewRing[ErrorSample](cfg.ErrorCapacity),
	}
}

// Record adds one event.
func (r *Recorder) Record(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	switch e.Status {
	case StatusOK:
		r.ok.Add(1)
	case StatusDenied:
		r.denied.Add(1)
	case StatusPartialFailure:
		r.partial.Add(1)
	default:
		r.failed.Add(1)
	}

	if e.Tier != "" {
		tc := r.tierCounters(e.Tier)
		if e.Denied {
			tc.denied.Add(1)
		} else {
			tc.allowed.Add(1)
		}
	}

	r.cacheHits.Add(uint64(max(e.CacheHits, 0)))
	r.cacheMisses.Add(uint64(max(e.CacheMisses, 0)))
	r.providerCalls.Add(uint64(max(e.ProviderCalls, 0)))
	r.retries.Add(uint64(max(e.Retries, 0)))

	if e.ErrorClass != "" {
		r.errorCounter(e.ErrorClass).Add(1)
		r.recent.Push(ErrorSample{
			Time:       e.Time,
			RequestID:  e.RequestID,
			Operation:  e.Operation,
			ErrorClass: e.ErrorClass,
			Message:    e.Error,
		})
	}

	// Denials never reach the provider; their latency says nothing about it.
	if !e.Denied {
		r.latency.Observe(e.Latency)
	}

	r.samples.Push(Sample{
		Time:          e.Time,
		RequestID:     e.RequestID,
		Operation:     e.Operation,
		Tier:          e.Tier,
		Status:        e.Status,
		LatencyMillis: millis(e.Latency),
		CacheHits:     e.CacheHits,
		ProviderCalls: e.ProviderCalls,
	})

	RequestsTotal.WithLabelValues(e.Operation, e.Status).Inc()
	RequestDuration.WithLabelValues(e.Operation).Observe(e.Latency.Seconds())
}

func (r *Recorder) tierCounters(tier string) *tierCounters {
	if v, ok := r.tiers.Load(tier); ok {
		return v.(*tierCounters)
	}
	v, _ := r.tiers.LoadOrStore(tier, &tierCounters{})
	return v.(*tierCounters)
}

func (r *Recorder) errorCounter(class string) *atomic.Uint64 {
	if v, ok := r.errors.Load(class); ok {
		return v.(*atomic.Uint64)
	}
	v, _ := r.errors.LoadOrStore(class, &atomic.Uint64{})
	return v.(*atomic.Uint64)
}

// Snapshot returns the current aggregates.
func (r *Recorder) Snapshot() Stats {
	s := Stats{
		Requests: RequestCounts{
			OK:             r.ok.Load(),
			Denied:         r.denied.Load(),
			PartialFailure: r.partial.Load(),
			Error:          r.failed.Load(),
		},
		QuotaByTier:      make(map[string]TierUsage),
		LatencyHistogram: r.latency.Snapshot(),
		ErrorCounts:      make(map[string]uint64),
		CacheHits:        r.cacheHits.Load(),
		CacheMisses:      r.cacheMisses.Load(),
		ProviderCalls:    r.providerCalls.Load(),
		RetryTotal:       r.retries.Load(),
		RecentSamples:    r.samples.Snapshot(),
		RecentErrors:     r.recent.Snapshot(),
		UptimeSeconds:    time.Since(r.start).Seconds(),
	}
	s.Requests.Total = s.Requests.OK + s.Requests.Denied + s.Requests.PartialFailure + s.Requests.Error

	if lookups := s.CacheHits + s.CacheMisses; lookups > 0 {
		s.HitRate = float64(s.CacheHits) / float64(lookups)
	}

	r.tiers.Range(func(k, v any) bool {
		tc := v.(*tierCounters)
		s.QuotaByTier[k.(string)] = TierUsage{
			Allowed: tc.allowed.Load(),
			Denied:  tc.denied.Load(),
		}
		return true
	})
	r.errors.Range(func(k, v any) bool {
		s.ErrorCounts[k.(string)] = v.(*atomic.Uint64).Load()
		return true
	})

	return s
}

// TierNames returns the tiers seen so far, sorted.
func (s Stats) TierNames() []string {
	names := make([]string, 0, len(s.QuotaByTier))
	for name := range s.QuotaByTier {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
