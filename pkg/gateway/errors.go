package gateway

import (
	"errors"

	"github.com/Sternrassler/learnforge/pkg/fanout"
	"github.com/Sternrassler/learnforge/pkg/provider"
)

var (
	// ErrInvalidInput is returned for malformed payloads. No quota is consumed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownOperation is returned for unsupported operations.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrGenerationFailed is returned when no item of a request succeeded.
	ErrGenerationFailed = errors.New("generation failed")
)

// errorClass labels a failed item for telemetry and responses.
func errorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, fanout.ErrTaskTimeout):
		return "timeout"
	case errors.Is(err, fanout.ErrCancelled):
		return "cancelled"
	case errors.Is(err, fanout.ErrCallPanicked):
		return "panic"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnknownOperation):
		return string(provider.ClassInvalidInput)
	default:
		return provider.ClassOf(err)
	}
}
