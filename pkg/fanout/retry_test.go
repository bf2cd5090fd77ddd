package fanout

import (
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/learnforge/pkg/provider"
)

func TestRetryState_ExponentialBackoff(t *testing.T) {
	cfg := Config{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     300 * time.Millisecond,
		Multiplier:     2,
	}
	rs := newRetryState(cfg)
	errTransient := errors.New("transient")

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		rs.begin()
		wait, again := rs.next(errTransient, true)
		if !again {
			t.Fatalf("attempt %d: again = false, want retry", i+1)
		}
		if wait != w {
			t.Errorf("attempt %d: wait = %v, want %v", i+1, wait, w)
		}
	}

	rs.begin()
	if _, again := rs.next(errTransient, true); again {
		t.Error("retry allowed after MaxAttempts")
	}
	if rs.attempt != 5 || rs.lastErr != errTransient {
		t.Errorf("state = attempt %d, lastErr %v", rs.attempt, rs.lastErr)
	}
}

func TestRetryState_TerminalStops(t *testing.T) {
	rs := newRetryState(DefaultConfig())
	rs.begin()

	if _, again := rs.next(provider.ErrInvalidInput, false); again {
		t.Error("terminal error should not be retried")
	}
}

func TestRetryState_HonoursRetryAfter(t *testing.T) {
	cfg := Config{
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2,
	}

	tests := []struct {
		name string
		hint time.Duration
		want time.Duration
	}{
		{"hint above backoff", time.Second, time.Second},
		{"hint capped", 10 * time.Second, 2 * time.Second},
		{"hint below backoff", time.Millisecond, 10 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := newRetryState(cfg)
			rs.begin()
			wait, again := rs.next(&provider.Error{Class: provider.ClassRateLimited, RetryAfter: tt.hint}, true)
			if !again {
				t.Fatal("rate limited error should be retried")
			}
			if wait != tt.want {
				t.Errorf("wait = %v, want %v", wait, tt.want)
			}
		})
	}
}

func TestApplyJitter(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		got := applyJitter(base, 0.2)
		if got < 80*time.Millisecond || got > 120*time.Millisecond {
			t.Fatalf("applyJitter() = %v, want within ±20%%", got)
		}
	}
	if got := applyJitter(base, 0); got != base {
		t.Errorf("applyJitter(no jitter) = %v, want %v", got, base)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StatePending, "pending"},
		{StateInFlight, "in_flight"},
		{StateSucceeded, "succeeded"},
		{StateFailed, "failed"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
