package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/justaman045/Instagram-Content-Analyzer/internal/storage"
)

// memPersister is an in-memory Persister for tests.
type memPersister struct {
	mu       sync.Mutex
	sessions map[string]storage.Session
	saves    int
}

func newMemPersister() *memPersister {
	return &memPersister{sessions: make(map[string]storage.Session)}
}

func (m *memPersister) GetSession(accountID string) (storage.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[accountID]
	if !ok {
		return storage.Session{}, storage.ErrNotFound
	}
	return sess, nil
}

func (m *memPersister) SaveSession(sess storage.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.AccountID] = sess
	m.saves++
	return nil
}

func (m *memPersister) SetSessionStatus(accountID string, status storage.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[accountID]
	if !ok {
		return storage.ErrNotFound
	}
	sess.Status = status
	m.sessions[accountID] = sess
	return nil
}

type fakeRefresher struct {
	credential string
	expiresAt  *time.Time
	err        error
	calls      int
}

func (f *fakeRefresher) Refresh(_ context.Context, _ string) (string, *time.Time, error) {
	f.calls++
	return f.credential, f.expiresAt, f.err
}

func TestAcquireReturnsStoredValidSession(t *testing.T) {
	db := newMemPersister()
	db.sessions["alice"] = storage.Session{
		AccountID:      "alice",
		CredentialBlob: "blob-1",
		Status:         storage.SessionValid,
	}
	ref := &fakeRefresher{credential: "blob-2"}
	store := NewStore(db, ref)

	sess, err := store.Acquire(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if sess.CredentialBlob != "blob-1" {
		t.Errorf("credential = %q, want stored blob-1", sess.CredentialBlob)
	}
	if ref.calls != 0 {
		t.Errorf("refresher called %d times for a valid session", ref.calls)
	}
}

func TestAcquireRefreshesExpiredSession(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	db := newMemPersister()
	db.sessions["alice"] = storage.Session{
		AccountID:      "alice",
		CredentialBlob: "stale",
		ExpiresAt:      &past,
		Status:         storage.SessionValid,
	}
	ref := &fakeRefresher{credential: "fresh"}
	store := NewStore(db, ref)

	sess, err := store.Acquire(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if sess.CredentialBlob != "fresh" {
		t.Errorf("credential = %q, want fresh", sess.CredentialBlob)
	}
	if sess.Status != storage.SessionValid {
		t.Errorf("status = %q, want valid", sess.Status)
	}

	// The refreshed session was persisted before Acquire returned.
	stored, err := db.GetSession("alice")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if stored.CredentialBlob != "fresh" {
		t.Errorf("persisted credential = %q, want fresh", stored.CredentialBlob)
	}
}

func TestAcquireAbsentSessionRefreshes(t *testing.T) {
	db := newMemPersister()
	ref := &fakeRefresher{credential: "fresh"}
	store := NewStore(db, ref)

	sess, err := store.Acquire(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if sess.CredentialBlob != "fresh" {
		t.Errorf("credential = %q, want fresh", sess.CredentialBlob)
	}
}

func TestAcquireNoRefresherFails(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	db := newMemPersister()
	db.sessions["alice"] = storage.Session{
		AccountID:      "alice",
		CredentialBlob: "stale",
		ExpiresAt:      &past,
		Status:         storage.SessionValid,
	}
	store := NewStore(db, nil)

	_, err := store.Acquire(context.Background(), "alice")
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("Acquire: got %v, want ErrAuthentication", err)
	}

	// The expiry was recorded so a restart sees the same state.
	stored, _ := db.GetSession("alice")
	if stored.Status != storage.SessionExpired {
		t.Errorf("stored status = %q, want expired", stored.Status)
	}
}

func TestAcquireRefreshErrorIsAuthentication(t *testing.T) {
	db := newMemPersister()
	ref := &fakeRefresher{err: fmt.Errorf("login endpoint unreachable")}
	store := NewStore(db, ref)

	_, err := store.Acquire(context.Background(), "alice")
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("Acquire: got %v, want ErrAuthentication", err)
	}
}

// TestAcquireNeverReturnsRevokedCredential covers the refresh path handing
// back the exact credential that was revoked: it must be rejected.
func TestAcquireNeverReturnsRevokedCredential(t *testing.T) {
	db := newMemPersister()
	db.sessions["alice"] = storage.Session{
		AccountID:      "alice",
		CredentialBlob: "burned",
		Status:         storage.SessionRevoked,
	}
	ref := &fakeRefresher{credential: "burned"}
	store := NewStore(db, ref)

	_, err := store.Acquire(context.Background(), "alice")
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("Acquire: got %v, want ErrAuthentication", err)
	}

	// A genuinely new credential is accepted.
	ref.credential = "reissued"
	sess, err := store.Acquire(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Acquire with new credential: %v", err)
	}
	if sess.CredentialBlob != "reissued" {
		t.Errorf("credential = %q, want reissued", sess.CredentialBlob)
	}
}

func TestInvalidate(t *testing.T) {
	db := newMemPersister()
	db.sessions["alice"] = storage.Session{
		AccountID:      "alice",
		CredentialBlob: "blob",
		Status:         storage.SessionValid,
	}
	store := NewStore(db, nil)

	if err := store.Invalidate("alice"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	stored, _ := db.GetSession("alice")
	if stored.Status != storage.SessionRevoked {
		t.Errorf("status = %q, want revoked", stored.Status)
	}

	// Invalidating an absent session is not an error.
	if err := store.Invalidate("ghost"); err != nil {
		t.Fatalf("Invalidate(ghost): %v", err)
	}
}

func TestAcquireConcurrentRefreshesOnce(t *testing.T) {
	db := newMemPersister()
	ref := &fakeRefresher{credential: "fresh"}
	store := NewStore(db, ref)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Acquire(context.Background(), "alice"); err != nil {
				t.Errorf("Acquire: %v", err)
			}
		}()
	}
	wg.Wait()

	// The write-lock re-check means only the first caller refreshes.
	if ref.calls != 1 {
		t.Errorf("refresher called %d times, want 1", ref.calls)
	}
}

func TestFileRefresher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.txt")
	if err := os.WriteFile(path, []byte("  sessionid=abc123\n"), 0o600); err != nil {
		t.Fatalf("writing credential file: %v", err)
	}

	ref := FileRefresher{Path: path}
	credential, expiresAt, err := ref.Refresh(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if credential != "sessionid=abc123" {
		t.Errorf("credential = %q", credential)
	}
	if expiresAt != nil {
		t.Errorf("expiresAt = %v, want nil", expiresAt)
	}

	if err := os.WriteFile(path, []byte("   \n"), 0o600); err != nil {
		t.Fatalf("writing empty file: %v", err)
	}
	if _, _, err := ref.Refresh(context.Background(), "alice"); err == nil {
		t.Error("Refresh on empty file succeeded, want error")
	}

	ref.Path = filepath.Join(dir, "missing.txt")
	if _, _, err := ref.Refresh(context.Background(), "alice"); err == nil {
		t.Error("Refresh on missing file succeeded, want error")
	}
}
