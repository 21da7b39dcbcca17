package storage

import (
	"database/sql"
	"fmt"
)

// SaveSession upserts the session for an account. The session package calls
// this synchronously before handing a session out, so a restart never reuses
// credential state the process already knew was invalid.
func (s *Store) SaveSession(sess Session) error {
	var expiresAt any
	if sess.ExpiresAt != nil {
		expiresAt = encodeTime(*sess.ExpiresAt)
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (account_id, credential_blob, issued_at, expires_at, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			credential_blob = excluded.credential_blob,
			issued_at = excluded.issued_at,
			expires_at = excluded.expires_at,
			status = excluded.status`,
		sess.AccountID, sess.CredentialBlob, encodeTime(sess.IssuedAt), expiresAt, string(sess.Status),
	)
	if err != nil {
		return fmt.Errorf("saving session for %s: %w", sess.AccountID, err)
	}
	return nil
}

// GetSession returns the stored session for an account, or ErrNotFound.
func (s *Store) GetSession(accountID string) (Session, error) {
	var sess Session
	var issuedAt, status string
	var expiresAt sql.NullString
	err := s.db.QueryRow(`
		SELECT account_id, credential_blob, issued_at, expires_at, status
		FROM sessions WHERE account_id = ?`, accountID,
	).Scan(&sess.AccountID, &sess.CredentialBlob, &issuedAt, &expiresAt, &status)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("loading session for %s: %w", accountID, err)
	}
	if sess.IssuedAt, err = decodeTime(issuedAt); err != nil {
		return Session{}, fmt.Errorf("parsing issued_at: %w", err)
	}
	if expiresAt.Valid {
		t, err := decodeTime(expiresAt.String)
		if err != nil {
			return Session{}, fmt.Errorf("parsing expires_at: %w", err)
		}
		sess.ExpiresAt = &t
	}
	sess.Status = SessionStatus(status)
	return sess, nil
}

// SetSessionStatus updates only the validity status of a stored session.
func (s *Store) SetSessionStatus(accountID string, status SessionStatus) error {
	res, err := s.db.Exec(`UPDATE sessions SET status = ? WHERE account_id = ?`,
		string(status), accountID)
	if err != nil {
		return fmt.Errorf("updating session status for %s: %w", accountID, err)
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
