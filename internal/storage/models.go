package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert collides with an existing record,
// e.g. a duplicate job id or a replayed (job_id, attempt_number) run record.
var ErrConflict = errors.New("conflict")

// JobKind identifies what a job does against the remote service.
type JobKind string

const (
	KindPost         JobKind = "post"
	KindMonitor      JobKind = "monitor"
	KindFetchMetrics JobKind = "fetch_metrics"
)

// ValidKind reports whether k is a known job kind.
func ValidKind(k JobKind) bool {
	switch k {
	case KindPost, KindMonitor, KindFetchMetrics:
		return true
	}
	return false
}

// JobState is the lifecycle state of a job.
//
// Transitions: pending -> running -> {succeeded | pending (retry) | exhausted}.
// A pending job may also become cancelled; terminal states never change.
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateExhausted JobState = "exhausted"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether a job in state s requires external intervention
// to run again.
func (s JobState) Terminal() bool {
	return s == StateSucceeded || s == StateExhausted || s == StateCancelled
}

// Outcome classifies a single execution attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetryable Outcome = "retryable_failure"
	OutcomeFatal     Outcome = "fatal_failure"
)

// Job is a unit of scheduled work targeting the remote service.
// Interval == 0 means one-shot; a positive Interval makes the job recurring.
type Job struct {
	ID             string
	Seq            int64 // creation order, used for deterministic FIFO dispatch
	Kind           JobKind
	Target         string // account or content reference the job acts on
	Payload        string // kind-specific JSON, may be empty
	Interval       time.Duration
	SkipIfMissed   bool
	State          JobState
	AttemptCount   int
	MaxAttempts    int
	NextEligibleAt time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Recurring reports whether the job reschedules itself after success.
func (j Job) Recurring() bool { return j.Interval > 0 }

// SessionStatus is the validity state of a stored session.
type SessionStatus string

const (
	SessionValid   SessionStatus = "valid"
	SessionExpired SessionStatus = "expired"
	SessionRevoked SessionStatus = "revoked"
)

// Session is the authenticated credential state for one account.
type Session struct {
	AccountID      string
	CredentialBlob string
	IssuedAt       time.Time
	ExpiresAt      *time.Time // nil when the remote never told us
	Status         SessionStatus
}

// Usable reports whether the session can back a remote call at time now.
func (s Session) Usable(now time.Time) bool {
	if s.Status != SessionValid {
		return false
	}
	if s.ExpiresAt != nil && !now.Before(*s.ExpiresAt) {
		return false
	}
	return true
}

// RunRecord is the immutable audit entry for one execution attempt.
// Keyed by (JobID, AttemptNumber); never mutated after insert.
type RunRecord struct {
	JobID         string
	AttemptNumber int
	StartedAt     time.Time
	FinishedAt    time.Time
	Outcome       Outcome
	ErrorDetail   string
}

// Account is a watched remote account that monitor jobs target.
type Account struct {
	Username string
	AddedAt  time.Time
}

// Reel is the latest known state of one piece of remote content.
type Reel struct {
	Account       string
	URL           string
	Views         int
	Likes         int
	Comments      int
	Caption       string
	Score         float64
	Trend         string
	IsRecommended bool
	AnalyzedAt    *time.Time
	FirstSeenAt   time.Time
	LastSeenAt    time.Time
}

// Snapshot is a point-in-time metric capture for a reel.
type Snapshot struct {
	ID         int64
	Account    string
	ReelURL    string
	Views      int
	Likes      int
	Comments   int
	Caption    string
	CapturedAt time.Time
}
