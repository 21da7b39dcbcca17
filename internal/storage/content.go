package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// --- Watched accounts ---

// AddAccount registers a username for monitoring. Adding an existing
// username is a no-op.
func (s *Store) AddAccount(username string, now time.Time) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO accounts (username, added_at) VALUES (?, ?)`,
		username, encodeTime(now))
	if err != nil {
		return fmt.Errorf("adding account %s: %w", username, err)
	}
	return nil
}

// RemoveAccount unregisters a username. Returns ErrNotFound when absent.
func (s *Store) RemoveAccount(username string) error {
	res, err := s.db.Exec(`DELETE FROM accounts WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("removing account %s: %w", username, err)
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

// ListAccounts returns all watched accounts in the order they were added.
func (s *Store) ListAccounts() ([]Account, error) {
	rows, err := s.db.Query(`SELECT username, added_at FROM accounts ORDER BY added_at ASC, username ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		var addedAt string
		if err := rows.Scan(&a.Username, &addedAt); err != nil {
			return nil, err
		}
		if a.AddedAt, err = decodeTime(addedAt); err != nil {
			return nil, fmt.Errorf("parsing added_at: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// NormalizeUsernames splits comma-separated entries, strips @ prefixes and
// whitespace, and deduplicates while preserving order.
func NormalizeUsernames(raw []string) []string {
	seen := make(map[string]struct{})
	var result []string
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			u := strings.TrimPrefix(strings.TrimSpace(part), "@")
			if u == "" {
				continue
			}
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			result = append(result, u)
		}
	}
	return result
}

// --- Reels ---

// UpsertReel records the latest metrics for a reel, preserving first_seen_at
// and any analysis fields on update. last_seen_at advances on every call so
// pruning can tell active reels from ones the account no longer surfaces.
func (s *Store) UpsertReel(account, url string, views, likes, comments int, caption string, now time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO reels (account, reel_url, views, likes, comments, caption, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, reel_url) DO UPDATE SET
			views = excluded.views,
			likes = excluded.likes,
			comments = excluded.comments,
			caption = excluded.caption,
			last_seen_at = excluded.last_seen_at`,
		account, url, views, likes, comments, caption, encodeTime(now), encodeTime(now),
	)
	if err != nil {
		return fmt.Errorf("upserting reel %s: %w", url, err)
	}
	return nil
}

// ListReels returns all reels tracked for an account.
func (s *Store) ListReels(account string) ([]Reel, error) {
	rows, err := s.db.Query(`
		SELECT account, reel_url, views, likes, comments, caption, score, trend, is_recommended, analyzed_at, first_seen_at, last_seen_at
		FROM reels WHERE account = ? ORDER BY first_seen_at ASC, reel_url ASC`, account)
	if err != nil {
		return nil, fmt.Errorf("listing reels for %s: %w", account, err)
	}
	defer rows.Close()

	var reels []Reel
	for rows.Next() {
		r, err := scanReel(rows)
		if err != nil {
			return nil, err
		}
		reels = append(reels, r)
	}
	return reels, rows.Err()
}

// MarkRecommended clears any previous recommendation for the account and
// flags the given reel with its analysis result.
func (s *Store) MarkRecommended(account, url string, score float64, trend string, now time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning recommend transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE reels SET is_recommended = 0 WHERE account = ?`, account); err != nil {
		return fmt.Errorf("clearing recommendations for %s: %w", account, err)
	}

	res, err := tx.Exec(`UPDATE reels SET score = ?, trend = ?, is_recommended = 1, analyzed_at = ?
		WHERE account = ? AND reel_url = ?`,
		score, trend, encodeTime(now), account, url)
	if err != nil {
		return fmt.Errorf("marking reel %s recommended: %w", url, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// RecommendedReel returns the currently recommended reel for an account,
// or ErrNotFound when none has been analyzed yet.
func (s *Store) RecommendedReel(account string) (Reel, error) {
	row := s.db.QueryRow(`
		SELECT account, reel_url, views, likes, comments, caption, score, trend, is_recommended, analyzed_at, first_seen_at, last_seen_at
		FROM reels WHERE account = ? AND is_recommended = 1 LIMIT 1`, account)
	r, err := scanReel(row)
	if err == sql.ErrNoRows {
		return Reel{}, ErrNotFound
	}
	if err != nil {
		return Reel{}, fmt.Errorf("loading recommended reel for %s: %w", account, err)
	}
	return r, nil
}

func scanReel(r rowScanner) (Reel, error) {
	var reel Reel
	var isRecommended int
	var analyzedAt sql.NullString
	var firstSeenAt, lastSeenAt string
	err := r.Scan(&reel.Account, &reel.URL, &reel.Views, &reel.Likes, &reel.Comments,
		&reel.Caption, &reel.Score, &reel.Trend, &isRecommended, &analyzedAt, &firstSeenAt, &lastSeenAt)
	if err != nil {
		return Reel{}, err
	}
	reel.IsRecommended = isRecommended != 0
	if analyzedAt.Valid {
		t, err := decodeTime(analyzedAt.String)
		if err != nil {
			return Reel{}, fmt.Errorf("parsing analyzed_at: %w", err)
		}
		reel.AnalyzedAt = &t
	}
	if reel.FirstSeenAt, err = decodeTime(firstSeenAt); err != nil {
		return Reel{}, fmt.Errorf("parsing first_seen_at: %w", err)
	}
	if reel.LastSeenAt, err = decodeTime(lastSeenAt); err != nil {
		return Reel{}, fmt.Errorf("parsing last_seen_at: %w", err)
	}
	return reel, nil
}

// DeleteReel removes a reel and all of its snapshots. Returns ErrNotFound
// when the reel does not exist.
func (s *Store) DeleteReel(account, url string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM reel_snapshots WHERE account = ? AND reel_url = ?`, account, url); err != nil {
		return fmt.Errorf("deleting snapshots for %s: %w", url, err)
	}

	res, err := tx.Exec(`DELETE FROM reels WHERE account = ? AND reel_url = ?`, account, url)
	if err != nil {
		return fmt.Errorf("deleting reel %s: %w", url, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// --- Snapshots ---

// InsertSnapshot appends a metric capture for a reel.
func (s *Store) InsertSnapshot(snap Snapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO reel_snapshots (account, reel_url, views, likes, comments, caption, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.Account, snap.ReelURL, snap.Views, snap.Likes, snap.Comments, snap.Caption,
		encodeTime(snap.CapturedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting snapshot for %s: %w", snap.ReelURL, err)
	}
	return nil
}

// RecentSnapshots returns up to limit snapshots for a reel, newest first.
func (s *Store) RecentSnapshots(account, url string, limit int) ([]Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, account, reel_url, views, likes, comments, caption, captured_at
		FROM reel_snapshots WHERE account = ? AND reel_url = ?
		ORDER BY captured_at DESC, id DESC LIMIT ?`, account, url, limit)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots for %s: %w", url, err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var snap Snapshot
		var capturedAt string
		if err := rows.Scan(&snap.ID, &snap.Account, &snap.ReelURL, &snap.Views, &snap.Likes,
			&snap.Comments, &snap.Caption, &capturedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		if snap.CapturedAt, err = decodeTime(capturedAt); err != nil {
			return nil, fmt.Errorf("parsing captured_at: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// TrimSnapshots keeps only the newest keep snapshots for a reel.
func (s *Store) TrimSnapshots(account, url string, keep int) error {
	_, err := s.db.Exec(`
		DELETE FROM reel_snapshots WHERE account = ? AND reel_url = ? AND id NOT IN (
			SELECT id FROM reel_snapshots WHERE account = ? AND reel_url = ?
			ORDER BY captured_at DESC, id DESC LIMIT ?)`,
		account, url, account, url, keep)
	if err != nil {
		return fmt.Errorf("trimming snapshots for %s: %w", url, err)
	}
	return nil
}
