// Package scheduler drives job selection and dispatch. A single scheduling
// loop claims due jobs and hands them to a bounded worker pool; retry versus
// terminal transitions are decided here and nowhere else, based solely on the
// backoff policy's verdict.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/justaman045/Instagram-Content-Analyzer/internal/backoff"
	"github.com/justaman045/Instagram-Content-Analyzer/internal/executor"
	"github.com/justaman045/Instagram-Content-Analyzer/internal/notify"
	"github.com/justaman045/Instagram-Content-Analyzer/internal/session"
	"github.com/justaman045/Instagram-Content-Analyzer/internal/storage"
)

// JobStore is the slice of the storage layer the scheduler mutates. Claiming
// a job (pending -> running in one transaction) is the exclusive marker that
// enforces at most one in-flight attempt per job id.
type JobStore interface {
	ClaimDueJob(now time.Time) (*storage.Job, error)
	AppendRunRecord(rec storage.RunRecord) error
	MarkSucceeded(id string, now time.Time) error
	MarkExhausted(id, lastError string, now time.Time) error
	RequeueForRetry(id string, attempts int, nextEligible time.Time, lastError string) error
	RescheduleRecurring(id string, next time.Time) error
}

// SessionSource supplies valid sessions for the automation account.
type SessionSource interface {
	Acquire(ctx context.Context, accountID string) (storage.Session, error)
}

// Config tunes the scheduling loop.
type Config struct {
	// Account is the automation account whose session backs all remote calls.
	Account string

	// Workers bounds concurrent attempts across distinct jobs.
	Workers int

	// PollInterval is the idle wait between claim attempts.
	PollInterval time.Duration
}

// Scheduler owns the dispatch loop.
type Scheduler struct {
	store    JobStore
	exec     executor.Executor
	sessions SessionSource
	notifier notify.Notifier // nil disables delivery of job events
	policy   backoff.Policy

	account string
	workers int64
	sem     *semaphore.Weighted
	poll    time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// New wires a scheduler. notifier may be nil.
func New(store JobStore, exec executor.Executor, sessions SessionSource, notifier notify.Notifier, policy backoff.Policy, cfg Config) *Scheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Scheduler{
		store:    store,
		exec:     exec,
		sessions: sessions,
		notifier: notifier,
		policy:   policy,
		account:  cfg.Account,
		workers:  int64(cfg.Workers),
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		poll:     cfg.PollInterval,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// Run drives the scheduling loop until ctx is cancelled, then waits for all
// in-flight attempts to finish so their outcomes are still recorded.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			break
		}

		dispatched, err := s.DispatchOnce(ctx)
		if err != nil {
			s.logger.Error("dispatch failed", "error", err)
		}
		if dispatched {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(s.poll):
		}
	}

	// Drain: reacquiring every worker slot blocks until in-flight attempts
	// have released theirs.
	if err := s.sem.Acquire(context.Background(), s.workers); err != nil {
		return err
	}
	s.sem.Release(s.workers)
	s.logger.Info("scheduler drained")
	return nil
}

// DispatchOnce claims at most one due job and starts processing it on the
// worker pool. Returns true when a job was claimed.
func (s *Scheduler) DispatchOnce(ctx context.Context) (bool, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return false, nil // shutting down
	}

	now := s.now().UTC()
	job, err := s.store.ClaimDueJob(now)
	if err != nil || job == nil {
		s.sem.Release(1)
		return false, err
	}

	// A recurring job whose boundary slipped by more than one interval (the
	// process was down) skips the missed run when configured to, instead of
	// firing immediately on restart.
	if job.Recurring() && job.SkipIfMissed && now.Sub(job.NextEligibleAt) > job.Interval {
		next := nextBoundary(job.NextEligibleAt, job.Interval, now)
		err := s.store.RescheduleRecurring(job.ID, next)
		s.sem.Release(1)
		if err != nil {
			return true, err
		}
		s.logger.Info("skipped missed run", "job", job.ID, "next", next)
		return true, nil
	}

	go func(job storage.Job) {
		defer s.sem.Release(1)
		s.process(ctx, job)
	}(*job)
	return true, nil
}

// process runs one attempt to completion. The attempt context is detached
// from shutdown cancellation: a running attempt is never forcibly
// interrupted, so its remote side effects always end up in the run history.
func (s *Scheduler) process(ctx context.Context, job storage.Job) {
	attemptCtx := context.WithoutCancel(ctx)
	attempt := job.AttemptCount + 1
	started := s.now().UTC()

	var result executor.ActionResult
	sess, err := s.sessions.Acquire(attemptCtx, s.account)
	switch {
	case err == nil:
		result = s.exec.Execute(attemptCtx, job, sess)
	case errors.Is(err, session.ErrAuthentication):
		// No session and no refresh path: fatal to this job.
		result = executor.FatalFailure(err)
	default:
		result = executor.RetryableFailure(err)
	}

	finished := s.now().UTC()
	record := storage.RunRecord{
		JobID:         job.ID,
		AttemptNumber: attempt,
		StartedAt:     started,
		FinishedAt:    finished,
		Outcome:       result.Outcome,
		ErrorDetail:   errDetail(result),
	}
	if err := s.store.AppendRunRecord(record); err != nil {
		// A conflict here means the at-most-one-attempt invariant was
		// violated somewhere; surface it loudly rather than swallowing.
		s.logger.Error("appending run record failed", "job", job.ID, "attempt", attempt, "error", err)
	}

	switch result.Outcome {
	case storage.OutcomeSuccess:
		if job.Recurring() {
			next := nextBoundary(job.NextEligibleAt, job.Interval, finished)
			if err := s.store.RescheduleRecurring(job.ID, next); err != nil {
				s.logger.Error("rescheduling recurring job failed", "job", job.ID, "error", err)
			}
		} else {
			if err := s.store.MarkSucceeded(job.ID, finished); err != nil {
				s.logger.Error("marking job succeeded failed", "job", job.ID, "error", err)
			}
		}
		s.logger.Info("job succeeded", "job", job.ID, "attempt", attempt, "summary", result.Summary)
		s.notify(attemptCtx, job, result)

	case storage.OutcomeRetryable:
		if s.policy.ShouldRetry(attempt, result.Outcome) {
			delay := s.policy.NextDelay(attempt)
			if err := s.store.RequeueForRetry(job.ID, attempt, finished.Add(delay), errDetail(result)); err != nil {
				s.logger.Error("requeueing job failed", "job", job.ID, "error", err)
			}
			s.logger.Warn("job attempt failed, will retry", "job", job.ID, "attempt", attempt, "delay", delay, "error", result.Err)
			return // intermediate retries are not notified
		}
		s.exhaust(attemptCtx, job, attempt, result, finished)

	case storage.OutcomeFatal:
		s.exhaust(attemptCtx, job, attempt, result, finished)
	}
}

func (s *Scheduler) exhaust(ctx context.Context, job storage.Job, attempt int, result executor.ActionResult, now time.Time) {
	if err := s.store.MarkExhausted(job.ID, errDetail(result), now); err != nil {
		s.logger.Error("marking job exhausted failed", "job", job.ID, "error", err)
	}
	s.logger.Error("job exhausted", "job", job.ID, "attempt", attempt, "error", result.Err)
	s.notify(ctx, job, result)
}

// notify delivers a completed-job event. Notification failures are logged,
// never escalated into job failures.
func (s *Scheduler) notify(ctx context.Context, job storage.Job, result executor.ActionResult) {
	if s.notifier == nil {
		return
	}
	ev := notify.Event{
		JobID:   job.ID,
		Kind:    job.Kind,
		Target:  job.Target,
		Outcome: result.Outcome,
		Summary: summaryFor(result),
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.Warn("notification failed", "job", job.ID, "error", err)
	}
}

func summaryFor(result executor.ActionResult) string {
	if result.Summary != "" {
		return result.Summary
	}
	return errDetail(result)
}

func errDetail(result executor.ActionResult) string {
	if result.Err == nil {
		return ""
	}
	return result.Err.Error()
}

// nextBoundary advances from the last boundary by whole intervals until the
// result is in the future. A run that fired late therefore reschedules to the
// next real boundary instead of replaying every missed one.
func nextBoundary(last time.Time, interval time.Duration, now time.Time) time.Time {
	next := last.Add(interval)
	if next.After(now) {
		return next
	}
	missed := now.Sub(last)/interval + 1
	return last.Add(interval * missed)
}
