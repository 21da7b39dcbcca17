package storage

import (
	"database/sql"
	"fmt"
)

// AppendRunRecord is the sole write path for the run history. It fails with
// ErrConflict when (job_id, attempt_number) already exists, leaving the store
// unchanged; records are never updated after insert.
func (s *Store) AppendRunRecord(rec RunRecord) error {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO run_records (job_id, attempt_number, started_at, finished_at, outcome, error_detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.JobID, rec.AttemptNumber, encodeTime(rec.StartedAt), encodeTime(rec.FinishedAt),
		string(rec.Outcome), rec.ErrorDetail,
	)
	if err != nil {
		return fmt.Errorf("appending run record for job %s: %w", rec.JobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run record (%s, %d) already exists: %w", rec.JobID, rec.AttemptNumber, ErrConflict)
	}
	return nil
}

// RunRecords returns the audit trail for a job in attempt order.
func (s *Store) RunRecords(jobID string) ([]RunRecord, error) {
	rows, err := s.db.Query(`
		SELECT job_id, attempt_number, started_at, finished_at, outcome, error_detail
		FROM run_records WHERE job_id = ? ORDER BY attempt_number ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("querying run records for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var startedAt, finishedAt, outcome string
		if err := rows.Scan(&rec.JobID, &rec.AttemptNumber, &startedAt, &finishedAt, &outcome, &rec.ErrorDetail); err != nil {
			return nil, fmt.Errorf("scanning run record: %w", err)
		}
		if rec.StartedAt, err = decodeTime(startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if rec.FinishedAt, err = decodeTime(finishedAt); err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		rec.Outcome = Outcome(outcome)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LastSuccessfulRun returns the most recent successful record for a job, or
// ErrNotFound. Used for delivery dedup ("was this already posted today").
func (s *Store) LastSuccessfulRun(jobID string) (RunRecord, error) {
	row := s.db.QueryRow(`
		SELECT job_id, attempt_number, started_at, finished_at, outcome, error_detail
		FROM run_records WHERE job_id = ? AND outcome = ?
		ORDER BY attempt_number DESC LIMIT 1`, jobID, string(OutcomeSuccess))

	var rec RunRecord
	var startedAt, finishedAt, outcome string
	err := row.Scan(&rec.JobID, &rec.AttemptNumber, &startedAt, &finishedAt, &outcome, &rec.ErrorDetail)
	if err == sql.ErrNoRows {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("querying last success for job %s: %w", jobID, err)
	}
	if rec.StartedAt, err = decodeTime(startedAt); err != nil {
		return RunRecord{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if rec.FinishedAt, err = decodeTime(finishedAt); err != nil {
		return RunRecord{}, fmt.Errorf("parsing finished_at: %w", err)
	}
	rec.Outcome = Outcome(outcome)
	return rec, nil
}
