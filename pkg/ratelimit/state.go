// Package ratelimit tracks the request budget the generation provider
// advertises in its response headers and gates outgoing calls on it.
//
// The state is shared between replicas through Redis when a client is
// configured; otherwise each process keeps its own copy. The tracker
// complements the per-identity admission quotas: admission protects the
// service from its callers, the tracker protects the provider account from
// the service.
package ratelimit

import (
	"errors"
	"time"
)

// Response headers carrying the provider's budget. The request-scoped
// variants are preferred when a provider sends both.
const (
	HeaderRemainingRequests = "X-RateLimit-Remaining-Requests"
	HeaderResetRequests     = "X-RateLimit-Reset-Requests"
	HeaderRemaining         = "X-RateLimit-Remaining"
	HeaderReset             = "X-RateLimit-Reset"
)

// Level classifies a State against the configured thresholds.
type Level int

const (
	LevelHealthy Level = iota
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return "healthy"
	}
}

// Config holds the upstream budget thresholds.
type Config struct {
	// Enabled turns header tracking and request gating on
	Enabled bool `yaml:"enabled"`

	// CriticalBelow blocks provider calls while fewer requests remain
	CriticalBelow int `yaml:"critical_below"`

	// WarningBelow delays provider calls by ThrottleDelay while fewer
	// requests remain
	WarningBelow int `yaml:"warning_below"`

	// ThrottleDelay is the pause applied in the warning band
	ThrottleDelay time.Duration `yaml:"throttle_delay"`

	// MaxStaleness is how long a recorded state is trusted without a
	// fresh response
	MaxStaleness time.Duration `yaml:"max_staleness"`

	// KeyPrefix namespaces the Redis keys
	KeyPrefix string `yaml:"key_prefix"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		CriticalBelow: 2,
		WarningBelow:  10,
		ThrottleDelay: time.Second,
		MaxStaleness:  2 * time.Minute,
		KeyPrefix:     "learnforge:upstream",
	}
}

// Validate checks threshold ordering.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CriticalBelow < 0 || c.WarningBelow < c.CriticalBelow {
		return errors.New("thresholds must satisfy 0 <= critical_below <= warning_below")
	}
	if c.ThrottleDelay < 0 {
		return errors.New("throttle_delay must not be negative")
	}
	if c.MaxStaleness <= 0 {
		return errors.New("max_staleness must be positive")
	}
	return nil
}

// State is the last budget the provider reported.
type State struct {
	// Remaining is the number of requests the provider still accepts in the
	// current window
	Remaining int `json:"remaining"`

	// ResetAt is when the provider's window resets
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when the state was recorded
	LastUpdate time.Time `json:"last_update"`
}

// IsStale reports whether the state is older than maxAge, or its window
// has already reset.
func (s *State) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.LastUpdate) > maxAge || !now.Before(s.ResetAt)
}

// TimeUntilReset returns the duration until the window resets, or 0 if it
// already has.
func (s *State) TimeUntilReset(now time.Time) time.Duration {
	if d := s.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Level classifies the state against cfg.
func (c Config) Level(s *State) Level {
	switch {
	case s.Remaining < c.CriticalBelow:
		return LevelCritical
	case s.Remaining < c.WarningBelow:
		return LevelWarning
	default:
		return LevelHealthy
	}
}
