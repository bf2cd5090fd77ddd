package telemetry

import (
	"sort"
	"strconv"
	"sync/atomic"
	"time"
)

// DefaultLatencyBounds are the upper bounds of the latency buckets. A final
// +Inf bucket is implied.
var DefaultLatencyBounds = []time.Duration{
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// Histogram is a pre-aggregated latency histogram with fixed buckets.
// Observe is lock-free; Snapshot is O(bucket count).
type Histogram struct {
	bounds    []time.Duration
	counts    []atomic.Uint64
	count     atomic.Uint64
	sumMicros atomic.Uint64
}

// NewHistogram creates a histogram with the given ascending upper bounds.
func NewHistogram(bounds []time.Duration) *Histogram {
	b := append([]time.Duration(nil), bounds...)
	sort.Slice(b, func(i, j int) bool { return b[i] < b[j] })
	return &Histogram{
		bounds: b,
		counts: make([]atomic.Uint64, len(b)+1),
	}
}

// Observe records one duration. Negative durations count as zero.
func (h *Histogram) Observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	i := sort.Search(len(h.bounds), func(i int) bool { return d <= h.bounds[i] })
	h.counts[i].Add(1)
	h.count.Add(1)
	h.sumMicros.Add(uint64(d / time.Microsecond))
}

// Bucket is one histogram bucket. LE is the upper bound in milliseconds,
// or "+Inf".
type Bucket struct {
	LE    string `json:"le"`
	Count uint64 `json:"count"`
}

// HistogramSnapshot is a point-in-time copy of a histogram. Percentiles are
// estimated by linear interpolation inside the bucket holding the rank.
type HistogramSnapshot struct {
	Buckets   []Bucket `json:"buckets"`
	Count     uint64   `json:"count"`
	SumMillis float64  `json:"sum_ms"`
	P50       float64  `json:"p50_ms"`
	P95       float64  `json:"p95_ms"`
	P99       float64  `json:"p99_ms"`
}

// Snapshot copies the bucket counters.
func (h *Histogram) Snapshot() HistogramSnapshot {
	counts := make([]uint64, len(h.counts))
	var total uint64
	for i := range h.counts {
		counts[i] = h.counts[i].Load()
		total += counts[i]
	}

	s := HistogramSnapshot{
		Buckets:   make([]Bucket, len(counts)),
		Count:     total,
		SumMillis: float64(h.sumMicros.Load()) / 1000,
	}
	for i, c := range counts {
		le := "+Inf"
		if i < len(h.bounds) {
			le = strconv.FormatFloat(millis(h.bounds[i]), 'f', -1, 64)
		}
		s.Buckets[i] = Bucket{LE: le, Count: c}
	}

	s.P50 = h.quantile(counts, total, 0.50)
	s.P95 = h.quantile(counts, total, 0.95)
	s.P99 = h.quantile(counts, total, 0.99)
	return s
}

// quantile estimates the q-quantile in milliseconds. Ranks landing in the
// +Inf bucket report the largest finite bound.
func (h *Histogram) quantile(counts []uint64, total uint64, q float64) float64 {
	if total == 0 || len(h.bounds) == 0 {
		return 0
	}
	rank := q * float64(total)

	var cumulative float64
	for i, c := range counts {
		if c == 0 {
			continue
		}
		prev := cumulative
		cumulative += float64(c)
		if cumulative < rank {
			continue
		}
		if i >= len(h.bounds) {
			return millis(h.bounds[len(h.bounds)-1])
		}
		lower := 0.0
		if i > 0 {
			lower = millis(h.bounds[i-1])
		}
		upper := millis(h.bounds[i])
		return lower + (upper-lower)*(rank-prev)/float64(c)
	}
	return millis(h.bounds[len(h.bounds)-1])
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
