// Package fanout runs one logical request as many independent provider
// calls on a bounded worker pool.
//
// # Overview
//
// An Executor owns a fixed number of call slots (Workers). Submit queues the
// items of one request, runs each item as a task with its own bounded retry
// state machine and aggregates the outcomes in input order.
//
//	exec, err := fanout.New(fanout.DefaultConfig(), logger)
//	result := exec.Submit(ctx, items, func(ctx context.Context, item fanout.Item) (string, error) {
//		return prov.Generate(ctx, promptFor(item))
//	})
//	if result.Status == fanout.StatusPartialFailure { ... }
//
// # Guarantees
//
//   - Never more than Workers provider calls run at once, across all
//     concurrent Submit calls of the same Executor.
//   - A failing item never affects its siblings.
//   - Retryable errors are retried with exponential backoff and jitter up to
//     MaxAttempts; terminal errors fail the item immediately.
//   - When the caller cancels or the overall Timeout elapses, Submit returns
//     at once and every unfinished item is reported as Failed. Calls already
//     in flight run to completion on a detached context, so side effects of
//     the CallFunc (such as cache population) still happen.
//
// # Metrics
//
//   - learnforge_fanout_in_flight: calls currently running
//   - learnforge_fanout_attempts_total: provider call attempts
//   - learnforge_fanout_retries_total: retries by error class
//   - learnforge_fanout_retry_exhausted_total: items failed after MaxAttempts
//   - learnforge_fanout_retry_backoff_seconds: backoff before each retry
//   - learnforge_fanout_task_duration_seconds: item duration by final state
//   - learnforge_fanout_runs_total: Submit calls by status
package fanout
