package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestJob(id string) Job {
	return Job{
		ID:          id,
		Kind:        KindMonitor,
		Target:      "natgeo",
		MaxAttempts: 3,
	}
}

func TestCreateJobDuplicateID(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateJob(newTestJob("job-1")); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	err := s.CreateJob(newTestJob("job-1"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate CreateJob: got %v, want ErrConflict", err)
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetJob("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetJob: got %v, want ErrNotFound", err)
	}
}

// TestClaimDueJobFIFO verifies that among jobs due at the same time, the
// earliest-created one is claimed first.
func TestClaimDueJobFIFO(t *testing.T) {
	s := openTestStore(t)

	eligible := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	for _, id := range []string{"job-a", "job-b", "job-c"} {
		job := newTestJob(id)
		job.NextEligibleAt = eligible
		if err := s.CreateJob(job); err != nil {
			t.Fatalf("CreateJob(%s): %v", id, err)
		}
	}

	now := eligible.Add(time.Minute)
	var order []string
	for {
		job, err := s.ClaimDueJob(now)
		if err != nil {
			t.Fatalf("ClaimDueJob: %v", err)
		}
		if job == nil {
			break
		}
		order = append(order, job.ID)
	}

	want := []string{"job-a", "job-b", "job-c"}
	if len(order) != len(want) {
		t.Fatalf("claimed %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("claimed %v, want %v", order, want)
		}
	}
}

func TestClaimDueJobOrdering(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	late := newTestJob("late")
	late.NextEligibleAt = base.Add(time.Hour)
	if err := s.CreateJob(late); err != nil {
		t.Fatalf("CreateJob(late): %v", err)
	}
	early := newTestJob("early")
	early.NextEligibleAt = base
	if err := s.CreateJob(early); err != nil {
		t.Fatalf("CreateJob(early): %v", err)
	}

	job, err := s.ClaimDueJob(base.Add(2 * time.Hour))
	if err != nil {
		t.Fatalf("ClaimDueJob: %v", err)
	}
	if job == nil || job.ID != "early" {
		t.Fatalf("claimed %+v, want job early", job)
	}
	if job.State != StateRunning {
		t.Errorf("claimed job state = %q, want running", job.State)
	}
}

// TestClaimDueJobSkipsIneligible verifies that running, terminal, and
// not-yet-due jobs are never claimed.
func TestClaimDueJobSkipsIneligible(t *testing.T) {
	s := openTestStore(t)

	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	future := newTestJob("future")
	future.NextEligibleAt = now.Add(time.Hour)
	if err := s.CreateJob(future); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	done := newTestJob("done")
	done.NextEligibleAt = now.Add(-time.Hour)
	if err := s.CreateJob(done); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job, err := s.ClaimDueJob(now); err != nil || job == nil || job.ID != "done" {
		t.Fatalf("first claim = %+v, %v", job, err)
	}
	if err := s.MarkSucceeded("done", now); err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}

	job, err := s.ClaimDueJob(now)
	if err != nil {
		t.Fatalf("ClaimDueJob: %v", err)
	}
	if job != nil {
		t.Fatalf("claimed %s, want nothing due", job.ID)
	}
}

// TestClaimDueJobExclusive verifies a claimed job cannot be claimed again
// until it is requeued.
func TestClaimDueJobExclusive(t *testing.T) {
	s := openTestStore(t)

	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	job := newTestJob("job-1")
	job.NextEligibleAt = now
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	first, err := s.ClaimDueJob(now)
	if err != nil || first == nil {
		t.Fatalf("first claim = %+v, %v", first, err)
	}
	second, err := s.ClaimDueJob(now)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second != nil {
		t.Fatal("running job was claimed a second time")
	}

	retryAt := now.Add(30 * time.Second)
	if err := s.RequeueForRetry("job-1", 1, retryAt, "boom"); err != nil {
		t.Fatalf("RequeueForRetry: %v", err)
	}

	// Not yet eligible again.
	if job, _ := s.ClaimDueJob(now); job != nil {
		t.Fatal("requeued job claimed before its backoff elapsed")
	}

	third, err := s.ClaimDueJob(retryAt)
	if err != nil || third == nil {
		t.Fatalf("claim after backoff = %+v, %v", third, err)
	}
	if third.AttemptCount != 1 {
		t.Errorf("attempt_count = %d, want 1", third.AttemptCount)
	}
	if third.LastError != "boom" {
		t.Errorf("last_error = %q, want boom", third.LastError)
	}
}

func TestMarkExhausted(t *testing.T) {
	s := openTestStore(t)

	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	job := newTestJob("job-1")
	job.NextEligibleAt = now
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := s.ClaimDueJob(now); err != nil {
		t.Fatalf("ClaimDueJob: %v", err)
	}
	if err := s.MarkExhausted("job-1", "remote kept failing", now); err != nil {
		t.Fatalf("MarkExhausted: %v", err)
	}

	got, err := s.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != StateExhausted {
		t.Errorf("state = %q, want exhausted", got.State)
	}
	if got.LastError != "remote kept failing" {
		t.Errorf("last_error = %q", got.LastError)
	}
	if !got.State.Terminal() {
		t.Error("exhausted not reported terminal")
	}
}

// TestRescheduleRecurring verifies a recurring job returns to pending with a
// fresh attempt budget and a new eligibility boundary.
func TestRescheduleRecurring(t *testing.T) {
	s := openTestStore(t)

	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	job := newTestJob("job-1")
	job.Interval = time.Hour
	job.NextEligibleAt = now
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := s.ClaimDueJob(now); err != nil {
		t.Fatalf("ClaimDueJob: %v", err)
	}
	if err := s.RequeueForRetry("job-1", 1, now, "transient"); err != nil {
		t.Fatalf("RequeueForRetry: %v", err)
	}
	if _, err := s.ClaimDueJob(now); err != nil {
		t.Fatalf("reclaim: %v", err)
	}

	next := now.Add(time.Hour)
	if err := s.RescheduleRecurring("job-1", next); err != nil {
		t.Fatalf("RescheduleRecurring: %v", err)
	}

	got, err := s.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != StatePending {
		t.Errorf("state = %q, want pending", got.State)
	}
	if got.AttemptCount != 0 {
		t.Errorf("attempt_count = %d, want 0 after reschedule", got.AttemptCount)
	}
	if got.LastError != "" {
		t.Errorf("last_error = %q, want empty", got.LastError)
	}
	if !got.NextEligibleAt.Equal(next) {
		t.Errorf("next_eligible_at = %v, want %v", got.NextEligibleAt, next)
	}
}

func TestCancelJob(t *testing.T) {
	s := openTestStore(t)

	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	job := newTestJob("job-1")
	job.NextEligibleAt = now
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.CancelJob("job-1", now); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	got, _ := s.GetJob("job-1")
	if got.State != StateCancelled {
		t.Errorf("state = %q, want cancelled", got.State)
	}

	// Cancelled jobs are never claimed.
	if claimed, _ := s.ClaimDueJob(now.Add(time.Hour)); claimed != nil {
		t.Error("cancelled job was claimed")
	}
}

func TestCancelJobNonPending(t *testing.T) {
	s := openTestStore(t)

	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	job := newTestJob("job-1")
	job.NextEligibleAt = now
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := s.ClaimDueJob(now); err != nil {
		t.Fatalf("ClaimDueJob: %v", err)
	}

	if err := s.CancelJob("job-1", now); err == nil {
		t.Fatal("cancelling a running job succeeded, want error")
	}
	if err := s.CancelJob("ghost", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancelling missing job: got %v, want ErrNotFound", err)
	}
}

func TestJobStats(t *testing.T) {
	s := openTestStore(t)

	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		job := newTestJob(fmt.Sprintf("job-%d", i))
		job.NextEligibleAt = now
		if err := s.CreateJob(job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}
	if _, err := s.ClaimDueJob(now); err != nil {
		t.Fatalf("ClaimDueJob: %v", err)
	}

	stats, err := s.JobStats()
	if err != nil {
		t.Fatalf("JobStats: %v", err)
	}
	if stats[StatePending] != 2 || stats[StateRunning] != 1 {
		t.Errorf("stats = %v, want 2 pending and 1 running", stats)
	}
}

func TestPruneTerminalJobs(t *testing.T) {
	s := openTestStore(t)

	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	old := newTestJob("old")
	old.NextEligibleAt = now.Add(-48 * time.Hour)
	if err := s.CreateJob(old); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := s.ClaimDueJob(now.Add(-48 * time.Hour)); err != nil {
		t.Fatalf("ClaimDueJob: %v", err)
	}
	if err := s.MarkSucceeded("old", now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}
	rec := RunRecord{JobID: "old", AttemptNumber: 1, StartedAt: now.Add(-48 * time.Hour), FinishedAt: now.Add(-48 * time.Hour), Outcome: OutcomeSuccess}
	if err := s.AppendRunRecord(rec); err != nil {
		t.Fatalf("AppendRunRecord: %v", err)
	}

	fresh := newTestJob("fresh")
	fresh.NextEligibleAt = now
	if err := s.CreateJob(fresh); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	n, err := s.PruneTerminalJobs(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("PruneTerminalJobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d jobs, want 1", n)
	}
	if _, err := s.GetJob("old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("pruned job still present: %v", err)
	}
	if _, err := s.GetJob("fresh"); err != nil {
		t.Errorf("pending job was pruned: %v", err)
	}
	records, err := s.RunRecords("old")
	if err != nil {
		t.Fatalf("RunRecords: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("run records survived prune: %d", len(records))
	}
}

func TestAppendRunRecordConflict(t *testing.T) {
	s := openTestStore(t)

	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	if err := s.CreateJob(newTestJob("job-1")); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	rec := RunRecord{
		JobID:         "job-1",
		AttemptNumber: 1,
		StartedAt:     now,
		FinishedAt:    now.Add(time.Second),
		Outcome:       OutcomeRetryable,
		ErrorDetail:   "timeout",
	}
	if err := s.AppendRunRecord(rec); err != nil {
		t.Fatalf("AppendRunRecord: %v", err)
	}

	replay := rec
	replay.Outcome = OutcomeSuccess
	if err := s.AppendRunRecord(replay); !errors.Is(err, ErrConflict) {
		t.Fatalf("replayed AppendRunRecord: got %v, want ErrConflict", err)
	}

	// The original record is untouched.
	records, err := s.RunRecords("job-1")
	if err != nil {
		t.Fatalf("RunRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Outcome != OutcomeRetryable {
		t.Errorf("outcome mutated by replay: %q", records[0].Outcome)
	}
}

func TestRunRecordsOrdered(t *testing.T) {
	s := openTestStore(t)

	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	if err := s.CreateJob(newTestJob("job-1")); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	for _, attempt := range []int{3, 1, 2} {
		rec := RunRecord{
			JobID:         "job-1",
			AttemptNumber: attempt,
			StartedAt:     now.Add(time.Duration(attempt) * time.Minute),
			FinishedAt:    now.Add(time.Duration(attempt)*time.Minute + time.Second),
			Outcome:       OutcomeRetryable,
		}
		if err := s.AppendRunRecord(rec); err != nil {
			t.Fatalf("AppendRunRecord(%d): %v", attempt, err)
		}
	}

	records, err := s.RunRecords("job-1")
	if err != nil {
		t.Fatalf("RunRecords: %v", err)
	}
	for i, rec := range records {
		if rec.AttemptNumber != i+1 {
			t.Fatalf("record %d has attempt_number %d", i, rec.AttemptNumber)
		}
	}
}

func TestLastSuccessfulRun(t *testing.T) {
	s := openTestStore(t)

	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	if err := s.CreateJob(newTestJob("job-1")); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if _, err := s.LastSuccessfulRun("job-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LastSuccessfulRun with no runs: got %v, want ErrNotFound", err)
	}

	runs := []RunRecord{
		{JobID: "job-1", AttemptNumber: 1, StartedAt: now, FinishedAt: now, Outcome: OutcomeRetryable},
		{JobID: "job-1", AttemptNumber: 2, StartedAt: now.Add(time.Minute), FinishedAt: now.Add(time.Minute), Outcome: OutcomeSuccess},
	}
	for _, rec := range runs {
		if err := s.AppendRunRecord(rec); err != nil {
			t.Fatalf("AppendRunRecord: %v", err)
		}
	}

	got, err := s.LastSuccessfulRun("job-1")
	if err != nil {
		t.Fatalf("LastSuccessfulRun: %v", err)
	}
	if got.AttemptNumber != 2 {
		t.Errorf("attempt_number = %d, want 2", got.AttemptNumber)
	}
}
