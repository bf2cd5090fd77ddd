package admission

import (
	"sync/atomic"
	"time"
)

// limitKind names one of the four per-identity counters.
type limitKind int

const (
	requestsPerMinute limitKind = iota
	requestsPerDay
	tokensPerMinute
	tokensPerDay
	numLimits
)

func (k limitKind) String() string {
	switch k {
	case requestsPerMinute:
		return "requests_per_minute"
	case requestsPerDay:
		return "requests_per_day"
	case tokensPerMinute:
		return "tokens_per_minute"
	case tokensPerDay:
		return "tokens_per_day"
	default:
		return "unknown"
	}
}

func (k limitKind) period() int64 {
	if k == requestsPerDay || k == tokensPerDay {
		return secondsPerDay
	}
	return secondsPerMinute
}

func (k limitKind) amount(c Cost) int64 {
	if k == tokensPerMinute || k == tokensPerDay {
		return c.Tokens
	}
	return c.Requests
}

const (
	secondsPerMinute = 60
	secondsPerDay    = 24 * 60 * 60
)

// windowIndex returns the fixed window containing now. Minute windows start
// on the minute, day windows at UTC midnight.
func windowIndex(now time.Time, period int64) int64 {
	return now.Unix() / period
}

// untilReset returns the time left in the window containing now; always > 0.
func untilReset(now time.Time, period int64) time.Duration {
	end := time.Unix((windowIndex(now, period)+1)*period, 0)
	d := end.Sub(now)
	if d <= 0 {
		d = time.Nanosecond
	}
	return d
}

// counter is one fixed-window counter. A counter whose window is not the
// current one reads as zero.
type counter struct {
	window int64
	used   int64
}

func (c *counter) current(window int64) int64 {
	if c.window != window {
		return 0
	}
	return c.used
}

func (c *counter) add(window, n int64) {
	if c.window != window {
		c.window = window
		c.used = 0
	}
	c.used += n
}

// globalCounter is a lock-free fixed-window counter shared by all
// identities. The window index and the count are packed into one word so
// that a reset and an increment happen in the same CAS.
type globalCounter struct {
	word   atomic.Uint64
	limit  int64
	period int64
}

func pack(window uint32, count uint32) uint64 {
	return uint64(window)<<32 | uint64(count)
}

func unpack(w uint64) (window uint32, count uint32) {
	return uint32(w >> 32), uint32(w)
}

// used returns the count of the window containing now.
func (g *globalCounter) used(now time.Time) int64 {
	window := uint32(windowIndex(now, g.period))
	w, c := unpack(g.word.Load())
	if w != window {
		return 0
	}
	return int64(c)
}

// tryAdd adds n if the result stays within the limit.
func (g *globalCounter) tryAdd(now time.Time, n int64) bool {
	if g.limit <= 0 || n <= 0 {
		return true
	}
	window := uint32(windowIndex(now, g.period))
	for {
		old := g.word.Load()
		w, c := unpack(old)
		if w != window {
			c = 0
		}
		next := int64(c) + n
		if next > g.limit || next > int64(^uint32(0)) {
			return false
		}
		if g.word.CompareAndSwap(old, pack(window, uint32(next))) {
			return true
		}
	}
}

// undo takes back n added by tryAdd, unless the window moved on meanwhile.
func (g *globalCounter) undo(now time.Time, n int64) {
	if g.limit <= 0 || n <= 0 {
		return
	}
	window := uint32(windowIndex(now, g.period))
	for {
		old := g.word.Load()
		w, c := unpack(old)
		if w != window {
			return
		}
		next := int64(c) - n
		if next < 0 {
			next = 0
		}
		if g.word.CompareAndSwap(old, pack(window, uint32(next))) {
			return
		}
	}
}
