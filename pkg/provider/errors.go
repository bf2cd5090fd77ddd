package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors returned by providers.
var (
	// ErrProviderUnavailable is returned for network failures, 5xx responses
	// and empty content. Retryable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderRateLimited is returned when the provider throttles us. Retryable.
	ErrProviderRateLimited = errors.New("provider rate limited")

	// ErrInvalidInput is returned when the provider rejects the prompt. Terminal.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized is returned when the provider rejects our credentials. Terminal.
	ErrUnauthorized = errors.New("provider unauthorized")
)

// ErrorClass represents a classification of provider errors.
type ErrorClass string

const (
	// ClassNetwork represents transport errors and timeouts.
	ClassNetwork ErrorClass = "network"

	// ClassUnavailable represents 5xx responses and unusable content.
	ClassUnavailable ErrorClass = "unavailable"

	// ClassRateLimited represents 429 responses and local throttling.
	ClassRateLimited ErrorClass = "rate_limited"

	// ClassInvalidInput represents 400/404/413/422 responses.
	ClassInvalidInput ErrorClass = "invalid_input"

	// ClassUnauthorized represents 401/403 responses.
	ClassUnauthorized ErrorClass = "unauthorized"
)

// sentinel maps a class to the error it matches with errors.Is.
func (c ErrorClass) sentinel() error {
	switch c {
	case ClassNetwork, ClassUnavailable:
		return ErrProviderUnavailable
	case ClassRateLimited:
		return ErrProviderRateLimited
	case ClassInvalidInput:
		return ErrInvalidInput
	case ClassUnauthorized:
		return ErrUnauthorized
	default:
		return nil
	}
}

// Retryable reports whether errors of this class may succeed on another attempt.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ClassNetwork, ClassUnavailable, ClassRateLimited:
		return true
	default:
		return false
	}
}

// Error represents a provider error with additional context.
type Error struct {
	Class      ErrorClass
	StatusCode int
	Message    string

	// RetryAfter is the provider's own hint (Retry-After header), if any.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("provider %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrProviderRateLimited) and friends match on class.
func (e *Error) Is(target error) bool {
	s := e.Class.sentinel()
	return s != nil && s == target
}

// IsRetryable reports whether err may succeed on another attempt. Provider
// errors are retryable unless their class is terminal; caller cancellation
// is never retried. Unclassified errors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class.Retryable()
	}
	if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrUnauthorized) {
		return false
	}
	return true
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// RetryAfterHint returns the provider's Retry-After hint carried by err, or 0.
func RetryAfterHint(err error) time.Duration {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// ClassOf returns the error class label used in logs and telemetry.
func ClassOf(err error) string {
	if err == nil {
		return ""
	}

	var pe *Error
	switch {
	case errors.As(err, &pe):
		return string(pe.Class)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrProviderRateLimited):
		return string(ClassRateLimited)
	case errors.Is(err, ErrProviderUnavailable):
		return string(ClassUnavailable)
	case errors.Is(err, ErrInvalidInput):
		return string(ClassInvalidInput)
	case errors.Is(err, ErrUnauthorized):
		return string(ClassUnauthorized)
	default:
		return "unknown"
	}
}
