package fanout

import "errors"

var (
	// ErrRetryExhausted is returned when all attempts of an item failed.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrTaskTimeout marks items left unfinished when the run timed out.
	ErrTaskTimeout = errors.New("task timed out")

	// ErrCancelled marks items left unfinished when the caller gave up.
	ErrCancelled = errors.New("run cancelled")

	// ErrCallPanicked wraps a panic recovered from a CallFunc. Never retried.
	ErrCallPanicked = errors.New("call panicked")
)
