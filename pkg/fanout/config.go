package fanout

import (
	"fmt"
	"time"
)

// Config holds the executor configuration.
type Config struct {
	// Workers is the maximum number of concurrent provider calls
	Workers int `yaml:"workers"`

	// MaxAttempts is the maximum number of attempts per item (including the first)
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the wait before the first retry
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps every wait, including provider Retry-After hints
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// Multiplier is the exponential backoff factor
	Multiplier float64 `yaml:"multiplier"`

	// Jitter is the relative randomisation of each wait (0.2 = ±20%)
	Jitter float64 `yaml:"jitter"`

	// Timeout bounds a whole Submit call
	Timeout time.Duration `yaml:"timeout"`

	// CallTimeout bounds a single provider call
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		Workers:        5,
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
		Timeout:        60 * time.Second,
		CallTimeout:    30 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive (got %d)", c.Workers)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive (got %d)", c.MaxAttempts)
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1 (got %v)", c.Multiplier)
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1) (got %v)", c.Jitter)
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < 0 {
		return fmt.Errorf("backoff durations must not be negative")
	}
	return nil
}
