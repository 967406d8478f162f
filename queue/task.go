package queue

import (
	"context"
	"time"
)

// Outcome classifies how a Task's Run call resolved.
type Outcome int

const (
	// OutcomeSuccess dequeues the job and continues scheduling.
	OutcomeSuccess Outcome = iota
	// OutcomeRetry increments attempts and delays the job by RetryDelay;
	// once MaxAttempts is reached (if nonzero) it is treated as success.
	OutcomeRetry
	// OutcomeRetryAlways leaves the job in place, unconditionally, and
	// moves on to the next ready job.
	OutcomeRetryAlways
	// OutcomeFailNever dequeues the job as failed, with no further retry.
	OutcomeFailNever
)

// Result is what a Task's Run call reports back to the queue.
type Result struct {
	Outcome     Outcome
	RetryDelay  time.Duration
	MaxAttempts int // 0 means unlimited retries
}

// Success is the zero-configuration OutcomeSuccess result.
func Success() Result { return Result{Outcome: OutcomeSuccess} }

// Retry requests a delayed re-attempt, cancelling after maxAttempts (0 for
// unlimited).
func Retry(delay time.Duration, maxAttempts int) Result {
	return Result{Outcome: OutcomeRetry, RetryDelay: delay, MaxAttempts: maxAttempts}
}

// RetryAlways leaves the job in place unconditionally.
func RetryAlways() Result { return Result{Outcome: OutcomeRetryAlways} }

// FailNever dequeues the job with no further retry.
func FailNever() Result { return Result{Outcome: OutcomeFailNever} }

// Task is a single unit of durable, outbound work.
type Task interface {
	// TaskKey names the decoder this task was produced by; it is stored
	// alongside the encoded payload so a restarted process can redecode it.
	TaskKey() string
	// RequiresConnectivity reports whether this task can only run while
	// the transport is authenticated.
	RequiresConnectivity() bool
	// Run executes the task body, returning how the queue should proceed.
	// A non-nil error is ignored by the queue; the Outcome alone drives
	// scheduling.
	Run(ctx context.Context) (Result, error)
	// OnDelayed is a best-effort notification invoked once for each
	// remaining job when the worker halts. It returns nothing, so it
	// cannot fail the run.
	OnDelayed(ctx context.Context)
	// IsBackgroundTask reports whether this task yields to any ready
	// foreground (non-background) task ahead of it in the queue.
	IsBackgroundTask() bool
}

// Connectivity reports whether the transport is currently authenticated.
// RequiresConnectivity tasks halt the queue with Offline when this is false.
type Connectivity interface {
	Authenticated() bool
}
