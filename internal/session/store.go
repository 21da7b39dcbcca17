// Package session owns authenticated credential state for remote accounts.
// The store is the single writer of session records; executors borrow a
// session value and report invalidity back here instead of mutating it.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/justaman045/Instagram-Content-Analyzer/internal/storage"
)

// ErrAuthentication is returned when no valid session can be established:
// the stored session is invalid or absent and no refresh path exists.
var ErrAuthentication = errors.New("authentication failed")

// Refresher obtains a fresh credential for an account. A nil expiry means
// the remote gave no validity window.
type Refresher interface {
	Refresh(ctx context.Context, accountID string) (credential string, expiresAt *time.Time, err error)
}

// Persister is the slice of the storage layer the session store writes
// through. Every mutation is persisted synchronously before a session is
// handed out, so a restart never reuses a session known to be invalid.
type Persister interface {
	GetSession(accountID string) (storage.Session, error)
	SaveSession(sess storage.Session) error
	SetSessionStatus(accountID string, status storage.SessionStatus) error
}

// Store serializes session mutation per process while allowing concurrent
// reads of a known-valid session.
type Store struct {
	mu        sync.RWMutex
	db        Persister
	refresher Refresher // nil when no refresh capability is configured
	now       func() time.Time
}

// NewStore creates a session store. refresher may be nil.
func NewStore(db Persister, refresher Refresher) *Store {
	return &Store{db: db, refresher: refresher, now: time.Now}
}

// Acquire returns a currently valid session for the account, transparently
// refreshing when the stored one is expired, revoked or absent. Fails with
// ErrAuthentication when no refresh path exists.
func (s *Store) Acquire(ctx context.Context, accountID string) (storage.Session, error) {
	// Fast path: concurrent readers share a known-valid session.
	s.mu.RLock()
	sess, err := s.db.GetSession(accountID)
	if err == nil && sess.Usable(s.now()) {
		s.mu.RUnlock()
		return sess, nil
	}
	s.mu.RUnlock()
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return storage.Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the write lock; another caller may have refreshed.
	sess, err = s.db.GetSession(accountID)
	if err == nil && sess.Usable(s.now()) {
		return sess, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return storage.Session{}, err
	}

	if s.refresher == nil {
		// Record the expiry before failing so the state survives a restart.
		if err == nil && sess.Status == storage.SessionValid {
			if markErr := s.db.SetSessionStatus(accountID, storage.SessionExpired); markErr != nil {
				return storage.Session{}, fmt.Errorf("marking session expired for %s: %w", accountID, markErr)
			}
		}
		return storage.Session{}, fmt.Errorf("no valid session for %s and no refresh path: %w", accountID, ErrAuthentication)
	}

	credential, expiresAt, err := s.refresher.Refresh(ctx, accountID)
	if err != nil {
		return storage.Session{}, fmt.Errorf("refreshing session for %s: %w: %v", accountID, ErrAuthentication, err)
	}

	// A revoked credential must never be handed out again, even if the
	// refresh path produced the same blob.
	if sess.Status == storage.SessionRevoked && credential == sess.CredentialBlob {
		return storage.Session{}, fmt.Errorf("refresh for %s returned the revoked credential: %w", accountID, ErrAuthentication)
	}

	fresh := storage.Session{
		AccountID:      accountID,
		CredentialBlob: credential,
		IssuedAt:       s.now().UTC(),
		ExpiresAt:      expiresAt,
		Status:         storage.SessionValid,
	}
	if err := s.db.SaveSession(fresh); err != nil {
		return storage.Session{}, fmt.Errorf("persisting refreshed session for %s: %w", accountID, err)
	}
	return fresh, nil
}

// Invalidate marks the account's session revoked. Called when an executor
// observes an authentication failure signal from the remote.
func (s *Store) Invalidate(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.SetSessionStatus(accountID, storage.SessionRevoked)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// FileRefresher reads a credential blob from a file on each refresh. This is
// the externally-supplied refresh capability: an operator (or a companion
// login tool) keeps the file current and the store picks it up.
type FileRefresher struct {
	Path string
}

// Refresh reads the credential file. The credential carries no expiry; the
// store treats it as valid until revoked.
func (f FileRefresher) Refresh(_ context.Context, accountID string) (string, *time.Time, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", nil, fmt.Errorf("reading credential file for %s: %w", accountID, err)
	}
	credential := strings.TrimSpace(string(data))
	if credential == "" {
		return "", nil, fmt.Errorf("credential file %s is empty", f.Path)
	}
	return credential, nil, nil
}
