package fanout

import (
	"math/rand"
	"time"

	"github.com/Sternrassler/learnforge/pkg/provider"
)

// retryState is the bounded retry state machine of one item. It is owned by
// the worker running the item and never shared.
type retryState struct {
	cfg     Config
	attempt int
	lastErr error
	delay   time.Duration
}

func newRetryState(cfg Config) *retryState {
	return &retryState{
		cfg:   cfg,
		delay: cfg.InitialBackoff,
	}
}

// begin records the start of an attempt and returns its number (1-based).
func (r *retryState) begin() int {
	r.attempt++
	return r.attempt
}

// next records a failed attempt. It returns the wait before the next attempt,
// or again=false when the item must fail now.
func (r *retryState) next(err error, retryable bool) (wait time.Duration, again bool) {
	r.lastErr = err
	if !retryable || r.attempt >= r.cfg.MaxAttempts {
		return 0, false
	}

	wait = applyJitter(r.delay, r.cfg.Jitter)
	if hint := provider.RetryAfterHint(err); hint > wait {
		wait = hint
	}
	if r.cfg.MaxBackoff > 0 && wait > r.cfg.MaxBackoff {
		wait = r.cfg.MaxBackoff
	}

	r.delay = time.Duration(float64(r.delay) * r.cfg.Multiplier)
	if r.cfg.MaxBackoff > 0 && r.delay > r.cfg.MaxBackoff {
		r.delay = r.cfg.MaxBackoff
	}
	return wait, true
}

// applyJitter spreads d uniformly over d·(1±jitter).
func applyJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || d <= 0 {
		return d
	}
	return time.Duration(float64(d) * (1 - jitter + rand.Float64()*2*jitter))
}
