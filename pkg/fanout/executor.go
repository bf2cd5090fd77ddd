package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/learnforge/pkg/provider"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CallFunc performs one attempt for item. The context it receives is
// detached from the caller's cancellation and bounded by CallTimeout.
type CallFunc func(ctx context.Context, item Item) (string, error)

// Classifier reports whether a failed attempt is worth retrying.
type Classifier func(err error) bool

// Option configures an Executor.
type Option func(*Executor)

// WithClassifier replaces the default retry classifier (provider.IsRetryable).
func WithClassifier(c Classifier) Option {
	return func(e *Executor) {
		if c != nil {
			e.classify = c
		}
	}
}

// Executor runs items on a bounded pool of call slots.
type Executor struct {
	cfg      Config
	slots    chan struct{}
	classify Classifier
	logger   zerolog.Logger
}

// New creates an executor.
func New(cfg Config, logger zerolog.Logger, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fanout config: %w", err)
	}

	e := &Executor{
		cfg:      cfg,
		slots:    make(chan struct{}, cfg.Workers),
		classify: provider.IsRetryable,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Workers returns the configured call slot count.
func (e *Executor) Workers() int {
	return e.cfg.Workers
}

type completion struct {
	index   int
	outcome Outcome
}

// Submit runs fn for every item and returns the outcomes in input order.
// It returns as soon as every item finished, the overall Timeout elapsed or
// ctx was cancelled, whichever comes first.
func (e *Executor) Submit(ctx context.Context, items []Item, fn CallFunc) AggregateResult {
	start := time.Now()
	result := AggregateResult{
		RunID:    uuid.NewString(),
		Outcomes: make([]Outcome, len(items)),
		Status:   StatusComplete,
	}
	for i, item := range items {
		result.Outcomes[i] = Outcome{ItemID: item.ID, State: StatePending}
	}
	if len(items) == 0 {
		FanoutRuns.WithLabelValues(string(result.Status)).Inc()
		return result
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if e.cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	logger := e.logger.With().
		Str("run_id", result.RunID).
		Int("items", len(items)).
		Logger()

	queue := make(chan int, len(items))
	for i := range items {
		queue <- i
	}
	close(queue)

	// Buffered so workers never block once Submit has returned.
	completions := make(chan completion, len(items))
	attempts := make([]atomic.Int32, len(items))

	workers := min(e.cfg.Workers, len(items))
	for w := 0; w < workers; w++ {
		go e.worker(runCtx, logger, items, queue, completions, attempts, fn)
	}

	remaining := len(items)
collect:
	for remaining > 0 {
		select {
		case c := <-completions:
			result.Outcomes[c.index] = c.outcome
			remaining--
		case <-runCtx.Done():
			reason := stopReason(runCtx)
			for i := range result.Outcomes {
				if result.Outcomes[i].State == StatePending {
					result.Outcomes[i].State = StateFailed
					result.Outcomes[i].Err = reason
					result.Outcomes[i].Attempts = int(attempts[i].Load())
				}
			}
			logger.Warn().
				Err(reason).
				Int("unfinished", remaining).
				Dur("elapsed", time.Since(start)).
				Msg("Fan-out stopped before all items finished")
			break collect
		}
	}

	for _, o := range result.Outcomes {
		if o.State != StateSucceeded {
			result.Status = StatusPartialFailure
			break
		}
	}
	result.Duration = time.Since(start)
	FanoutRuns.WithLabelValues(string(result.Status)).Inc()

	logger.Info().
		Str("status", string(result.Status)).
		Int("succeeded", result.Succeeded()).
		Int("failed", result.Failed()).
		Dur("duration", result.Duration).
		Msg("Fan-out complete")

	return result
}

// worker processes items from the queue until it is empty or the run stops.
func (e *Executor) worker(runCtx context.Context, logger zerolog.Logger, items []Item, queue <-chan int, completions chan<- completion, attempts []atomic.Int32, fn CallFunc) {
	for idx := range queue {
		if runCtx.Err() != nil {
			return
		}
		out := e.runTask(runCtx, logger, items[idx], &attempts[idx], fn)
		completions <- completion{index: idx, outcome: out}
	}
}

// runTask drives one item through its retry state machine.
func (e *Executor) runTask(runCtx context.Context, logger zerolog.Logger, item Item, attempts *atomic.Int32, fn CallFunc) Outcome {
	start := time.Now()
	rs := newRetryState(e.cfg)
	out := Outcome{ItemID: item.ID, State: StatePending}

	finish := func(state State, value string, err error) Outcome {
		out.State = state
		out.Value = value
		out.Err = err
		out.Attempts = rs.attempt
		out.Duration = time.Since(start)
		FanoutTaskDuration.WithLabelValues(state.String()).Observe(out.Duration.Seconds())
		return out
	}

	for {
		if !e.acquire(runCtx) {
			return finish(StateFailed, "", abandonErr(runCtx, rs.lastErr))
		}
		attempt := rs.begin()
		attempts.Store(int32(attempt))

		logger.Debug().
			Str("item_id", item.ID).
			Int("attempt", attempt).
			Msg("Task in flight")

		value, err := e.call(runCtx, item, fn)
		e.release()

		if err == nil {
			if attempt > 1 {
				logger.Info().
					Str("item_id", item.ID).
					Int("attempt", attempt).
					Msg("Task succeeded after retry")
			}
			return finish(StateSucceeded, value, nil)
		}

		class := provider.ClassOf(err)
		retryable := !errors.Is(err, ErrCallPanicked) && e.classify(err)
		wait, again := rs.next(err, retryable)
		if !again {
			if !retryable {
				logger.Warn().
					Err(err).
					Str("item_id", item.ID).
					Str("error_class", class).
					Int("attempt", attempt).
					Msg("Task failed with terminal error")
				return finish(StateFailed, "", err)
			}

			FanoutRetryExhausted.WithLabelValues(class).Inc()
			logger.Error().
				Err(err).
				Str("item_id", item.ID).
				Str("error_class", class).
				Int("max_attempts", e.cfg.MaxAttempts).
				Msg("Retry attempts exhausted")
			return finish(StateFailed, "", fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, err))
		}

		FanoutRetries.WithLabelValues(class).Inc()
		FanoutRetryBackoff.Observe(wait.Seconds())
		logger.Warn().
			Err(err).
			Str("item_id", item.ID).
			Str("error_class", class).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying task after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-runCtx.Done():
			timer.Stop()
			return finish(StateFailed, "", abandonErr(runCtx, rs.lastErr))
		case <-timer.C:
		}
	}
}

// call runs one attempt on a context that survives caller cancellation.
func (e *Executor) call(runCtx context.Context, item Item, fn CallFunc) (value string, err error) {
	callCtx := context.WithoutCancel(runCtx)
	if e.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, e.cfg.CallTimeout)
		defer cancel()
	}

	FanoutAttempts.Inc()
	FanoutInFlight.Inc()
	defer FanoutInFlight.Dec()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCallPanicked, r)
		}
	}()
	return fn(callCtx, item)
}

func (e *Executor) acquire(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case e.slots <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	// Both cases may have been ready; never start a call after the run stopped.
	if ctx.Err() != nil {
		e.release()
		return false
	}
	return true
}

func (e *Executor) release() {
	<-e.slots
}

// stopReason maps the run context's error to the error reported for
// unfinished items.
func stopReason(runCtx context.Context) error {
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return ErrTaskTimeout
	}
	return ErrCancelled
}

func abandonErr(runCtx context.Context, lastErr error) error {
	reason := stopReason(runCtx)
	if lastErr != nil {
		return fmt.Errorf("%w: last error: %w", reason, lastErr)
	}
	return reason
}
