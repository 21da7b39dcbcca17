// Package executor performs single remote operations for jobs and classifies
// every outcome into exactly three buckets: success, retryable failure, or
// fatal failure. The scheduler never interprets raw errors; it acts only on
// this classification.
package executor

import (
	"context"

	"github.com/justaman045/Instagram-Content-Analyzer/internal/storage"
)

// ActionResult is the classified outcome of one execution attempt.
type ActionResult struct {
	Outcome storage.Outcome
	Summary string
	Err     error
}

// Success builds a successful result with a human-readable summary.
func Success(summary string) ActionResult {
	return ActionResult{Outcome: storage.OutcomeSuccess, Summary: summary}
}

// RetryableFailure marks a transient condition: rate limiting, network
// trouble, remote 5xx. The backoff policy governs what happens next.
func RetryableFailure(err error) ActionResult {
	return ActionResult{Outcome: storage.OutcomeRetryable, Err: err}
}

// FatalFailure marks a permanent condition that must never be retried:
// rejected content, a target that no longer exists, dead credentials.
func FatalFailure(err error) ActionResult {
	return ActionResult{Outcome: storage.OutcomeFatal, Err: err}
}

// Executor performs exactly one remote call for a job using a borrowed
// session. Implementations never mutate the session; invalidity is reported
// through the session store.
type Executor interface {
	Execute(ctx context.Context, job storage.Job, sess storage.Session) ActionResult
}
