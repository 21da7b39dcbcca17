package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const jobColumns = `seq, id, kind, target, payload, interval_secs, skip_if_missed,
	state, attempt_count, max_attempts, next_eligible_at, last_error, created_at, updated_at`

// CreateJob inserts a new pending job. Returns ErrConflict if the id is taken.
func (s *Store) CreateJob(job Job) error {
	now := time.Now().UTC()
	if job.NextEligibleAt.IsZero() {
		job.NextEligibleAt = now
	}
	if job.State == "" {
		job.State = StatePending
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, kind, target, payload, interval_secs, skip_if_missed,
			state, attempt_count, max_attempts, next_eligible_at, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Kind), job.Target, job.Payload,
		int64(job.Interval/time.Second), boolInt(job.SkipIfMissed),
		string(job.State), job.AttemptCount, job.MaxAttempts,
		encodeTime(job.NextEligibleAt), job.LastError, encodeTime(now), encodeTime(now),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("job %s already exists: %w", job.ID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("inserting job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns the job with the given id, or ErrNotFound.
func (s *Store) GetJob(id string) (Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("loading job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns jobs in creation order, optionally filtered by state.
func (s *Store) ListJobs(state JobState, limit int) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY seq ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimDueJob atomically selects the oldest pending job whose next_eligible_at
// has passed and marks it running. The pending -> running transition inside a
// single transaction is the exclusive marker guaranteeing at most one in-flight
// attempt per job id. Ties on next_eligible_at break FIFO by creation order.
// Returns (nil, nil) when nothing is due.
func (s *Store) ClaimDueJob(now time.Time) (*Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	row := tx.QueryRow(`SELECT `+jobColumns+` FROM jobs
		WHERE state = ? AND next_eligible_at <= ?
		ORDER BY next_eligible_at ASC, seq ASC
		LIMIT 1`, string(StatePending), encodeTime(now))

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting due job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		string(StateRunning), encodeTime(now), job.ID, string(StatePending))
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("marking job %s running: %w", job.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking claimed rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	job.State = StateRunning
	return &job, nil
}

// MarkSucceeded finishes a one-shot job.
func (s *Store) MarkSucceeded(id string, now time.Time) error {
	return s.setState(id, StateSucceeded, "", now)
}

// MarkExhausted moves a job to its terminal failure state with last_error set.
func (s *Store) MarkExhausted(id, lastError string, now time.Time) error {
	return s.setState(id, StateExhausted, lastError, now)
}

func (s *Store) setState(id string, state JobState, lastError string, now time.Time) error {
	res, err := s.db.Exec(`UPDATE jobs SET state = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(state), lastError, encodeTime(now), id)
	if err != nil {
		return fmt.Errorf("updating job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RequeueForRetry returns a running job to pending with its new attempt count
// and backoff-computed eligibility time.
func (s *Store) RequeueForRetry(id string, attempts int, nextEligible time.Time, lastError string) error {
	res, err := s.db.Exec(`UPDATE jobs
		SET state = ?, attempt_count = ?, next_eligible_at = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		string(StatePending), attempts, encodeTime(nextEligible), lastError,
		encodeTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("requeueing job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RescheduleRecurring resets a recurring job to a fresh pending instance at
// the next interval boundary: attempt count back to zero, last_error cleared.
func (s *Store) RescheduleRecurring(id string, next time.Time) error {
	res, err := s.db.Exec(`UPDATE jobs
		SET state = ?, attempt_count = 0, next_eligible_at = ?, last_error = '', updated_at = ?
		WHERE id = ?`,
		string(StatePending), encodeTime(next), encodeTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("rescheduling job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelJob cancels a pending job. Running jobs are not interrupted, so
// cancelling one fails; retry once its current attempt finishes.
func (s *Store) CancelJob(id string, now time.Time) error {
	res, err := s.db.Exec(`UPDATE jobs SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		string(StateCancelled), encodeTime(now), id, string(StatePending))
	if err != nil {
		return fmt.Errorf("cancelling job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		job, getErr := s.GetJob(id)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("job %s is %s, only pending jobs can be cancelled", id, job.State)
	}
	return nil
}

// JobStats returns a count of jobs per state.
func (s *Store) JobStats() (map[JobState]int, error) {
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()

	stats := make(map[JobState]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[JobState(state)] = count
	}
	return stats, rows.Err()
}

// PruneTerminalJobs deletes terminal jobs (and their run records) whose last
// update is older than the cutoff. Returns the number of jobs removed.
func (s *Store) PruneTerminalJobs(cutoff time.Time) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning prune transaction: %w", err)
	}
	defer tx.Rollback()

	terminal := []any{
		string(StateSucceeded), string(StateExhausted), string(StateCancelled),
		encodeTime(cutoff),
	}

	if _, err := tx.Exec(`DELETE FROM run_records WHERE job_id IN (
		SELECT id FROM jobs WHERE state IN (?, ?, ?) AND updated_at < ?)`, terminal...); err != nil {
		return 0, fmt.Errorf("pruning run records: %w", err)
	}

	res, err := tx.Exec(`DELETE FROM jobs WHERE state IN (?, ?, ?) AND updated_at < ?`, terminal...)
	if err != nil {
		return 0, fmt.Errorf("pruning jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (Job, error) {
	var j Job
	var kind, state, nextEligible, createdAt, updatedAt string
	var intervalSecs int64
	var skipIfMissed int
	err := r.Scan(&j.Seq, &j.ID, &kind, &j.Target, &j.Payload, &intervalSecs, &skipIfMissed,
		&state, &j.AttemptCount, &j.MaxAttempts, &nextEligible, &j.LastError, &createdAt, &updatedAt)
	if err != nil {
		return Job{}, err
	}
	j.Kind = JobKind(kind)
	j.State = JobState(state)
	j.Interval = time.Duration(intervalSecs) * time.Second
	j.SkipIfMissed = skipIfMissed != 0
	if j.NextEligibleAt, err = decodeTime(nextEligible); err != nil {
		return Job{}, fmt.Errorf("parsing next_eligible_at: %w", err)
	}
	if j.CreatedAt, err = decodeTime(createdAt); err != nil {
		return Job{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if j.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return Job{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return j, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
