package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/justaman045/Instagram-Content-Analyzer/internal/analyze"
	"github.com/justaman045/Instagram-Content-Analyzer/internal/instagram"
	"github.com/justaman045/Instagram-Content-Analyzer/internal/notify"
	"github.com/justaman045/Instagram-Content-Analyzer/internal/storage"
)

// Snapshot capture rules, matching the monitoring cadence the remote
// tolerates: capture when metrics actually moved or the last capture is
// stale, and keep a bounded history per reel.
const (
	minViewDelta        = 20
	maxSnapshotInterval = 6 * time.Hour
	snapshotRetention   = 6
)

// Pruning thresholds. A tracked reel is dropped once the profile stops
// surfacing it, its view growth flatlines, or it is old and never took off.
const (
	maxInactiveAge   = 48 * time.Hour
	minGrowthPerHour = 5.0
	maxReelAge       = 5 * 24 * time.Hour
	minTotalViews    = 100
)

// ContentStore is the slice of the storage layer the executor reads and
// writes while performing monitor, fetch_metrics and post operations.
type ContentStore interface {
	UpsertReel(account, url string, views, likes, comments int, caption string, now time.Time) error
	RecentSnapshots(account, url string, limit int) ([]storage.Snapshot, error)
	InsertSnapshot(snap storage.Snapshot) error
	TrimSnapshots(account, url string, keep int) error
	ListReels(account string) ([]storage.Reel, error)
	DeleteReel(account, url string) error
	MarkRecommended(account, url string, score float64, trend string, now time.Time) error
	RecommendedReel(account string) (storage.Reel, error)
	LastSuccessfulRun(jobID string) (storage.RunRecord, error)
}

// ReelFetcher fetches a profile's recent reels from the remote service.
type ReelFetcher interface {
	ProfileReels(ctx context.Context, username, credential string) ([]instagram.Reel, error)
}

// SessionInvalidator revokes a session after an authentication signal.
type SessionInvalidator interface {
	Invalidate(accountID string) error
}

// ChannelSender publishes content to the configured messaging channel.
type ChannelSender interface {
	Send(ctx context.Context, text string) error
}

// Remote executes jobs against the remote service and the delivery channel.
type Remote struct {
	fetcher  ReelFetcher
	sessions SessionInvalidator
	store    ContentStore
	sender   ChannelSender // nil when no channel is configured
	logger   *slog.Logger
	now      func() time.Time
}

// NewRemote wires an executor. sender may be nil; post jobs then fail fatally.
func NewRemote(fetcher ReelFetcher, sessions SessionInvalidator, store ContentStore, sender ChannelSender) *Remote {
	return &Remote{
		fetcher:  fetcher,
		sessions: sessions,
		store:    store,
		sender:   sender,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// Execute performs one remote operation for the job.
func (r *Remote) Execute(ctx context.Context, job storage.Job, sess storage.Session) ActionResult {
	switch job.Kind {
	case storage.KindMonitor:
		return r.monitor(ctx, job, sess)
	case storage.KindFetchMetrics:
		return r.fetchMetrics(job)
	case storage.KindPost:
		return r.post(ctx, job)
	default:
		return FatalFailure(fmt.Errorf("unknown job kind %q", job.Kind))
	}
}

// monitor fetches the target profile's reels and captures metric snapshots.
func (r *Remote) monitor(ctx context.Context, job storage.Job, sess storage.Session) ActionResult {
	reels, err := r.fetcher.ProfileReels(ctx, job.Target, sess.CredentialBlob)
	if err != nil {
		return r.classifyFetchError(err, sess.AccountID)
	}

	now := r.now().UTC()
	captured := 0
	for _, reel := range reels {
		if err := r.store.UpsertReel(job.Target, reel.URL, reel.Views, reel.Likes, reel.Comments, reel.Caption, now); err != nil {
			return RetryableFailure(fmt.Errorf("recording reel: %w", err))
		}

		last, err := r.store.RecentSnapshots(job.Target, reel.URL, 1)
		if err != nil {
			return RetryableFailure(fmt.Errorf("loading last snapshot: %w", err))
		}
		if !shouldSnapshot(last, reel, now) {
			continue
		}

		if err := r.store.InsertSnapshot(storage.Snapshot{
			Account:    job.Target,
			ReelURL:    reel.URL,
			Views:      reel.Views,
			Likes:      reel.Likes,
			Comments:   reel.Comments,
			Caption:    reel.Caption,
			CapturedAt: now,
		}); err != nil {
			return RetryableFailure(fmt.Errorf("inserting snapshot: %w", err))
		}
		if err := r.store.TrimSnapshots(job.Target, reel.URL, snapshotRetention); err != nil {
			return RetryableFailure(fmt.Errorf("trimming snapshots: %w", err))
		}
		captured++
	}

	pruned, err := r.pruneStale(job.Target, now)
	if err != nil {
		return RetryableFailure(err)
	}

	summary := fmt.Sprintf("captured %d snapshot(s) across %d reel(s) for @%s", captured, len(reels), job.Target)
	if pruned > 0 {
		summary += fmt.Sprintf(", pruned %d stale", pruned)
	}
	return Success(summary)
}

// pruneStale drops tracked reels that are no longer worth watching, along
// with their snapshot history. Runs after every capture pass so the reels
// table stays bounded per account.
func (r *Remote) pruneStale(account string, now time.Time) (int, error) {
	tracked, err := r.store.ListReels(account)
	if err != nil {
		return 0, fmt.Errorf("listing reels for pruning: %w", err)
	}

	pruned := 0
	for _, reel := range tracked {
		snaps, err := r.store.RecentSnapshots(account, reel.URL, 2)
		if err != nil {
			return pruned, fmt.Errorf("loading snapshots for pruning: %w", err)
		}
		reason := pruneReason(reel, snaps, now)
		if reason == "" {
			continue
		}
		if err := r.store.DeleteReel(account, reel.URL); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return pruned, fmt.Errorf("pruning reel %s: %w", reel.URL, err)
		}
		r.logger.Info("pruned stale reel", "account", account, "url", reel.URL, "reason", reason)
		pruned++
	}
	return pruned, nil
}

// pruneReason returns why a reel should be dropped, or "" to keep it.
// Inactive: the profile has not surfaced it recently. Flatlined: its view
// growth between the last two snapshots fell under the floor. Dud: past the
// age cutoff without ever reaching the minimum view count.
func pruneReason(reel storage.Reel, snaps []storage.Snapshot, now time.Time) string {
	if now.Sub(reel.LastSeenAt) > maxInactiveAge {
		return "inactive"
	}
	if len(snaps) >= 2 {
		cur, prev := snaps[0], snaps[1]
		hours := cur.CapturedAt.Sub(prev.CapturedAt).Hours()
		if hours < 0.1 {
			hours = 0.1
		}
		if float64(cur.Views-prev.Views)/hours < minGrowthPerHour {
			return "flatlined"
		}
	}
	if now.Sub(reel.FirstSeenAt) >= maxReelAge && reel.Views < minTotalViews {
		return "dud"
	}
	return ""
}

// shouldSnapshot applies the capture rules: always on first sight, on real
// metric movement, or when the last capture has gone stale.
func shouldSnapshot(last []storage.Snapshot, reel instagram.Reel, now time.Time) bool {
	if len(last) == 0 {
		return true
	}
	prev := last[0]
	if reel.Views-prev.Views >= minViewDelta || reel.Likes > prev.Likes || reel.Comments > prev.Comments {
		return true
	}
	return now.Sub(prev.CapturedAt) >= maxSnapshotInterval
}

// fetchMetrics ranks the target's reels by momentum between their two latest
// snapshots and records the winner as recommended.
func (r *Remote) fetchMetrics(job storage.Job) ActionResult {
	reels, err := r.store.ListReels(job.Target)
	if err != nil {
		return RetryableFailure(fmt.Errorf("listing reels: %w", err))
	}

	var bestURL string
	var best analyze.Momentum
	analyzed := 0
	for _, reel := range reels {
		snaps, err := r.store.RecentSnapshots(job.Target, reel.URL, 2)
		if err != nil {
			return RetryableFailure(fmt.Errorf("loading snapshots: %w", err))
		}
		if len(snaps) < 2 {
			continue
		}

		cur, prev := snaps[0], snaps[1]
		m := analyze.Compute(point(prev), point(cur))
		analyzed++
		if bestURL == "" || m.Score > best.Score {
			bestURL, best = reel.URL, m
		}
	}

	if analyzed == 0 {
		return Success(fmt.Sprintf("no analyzable reels for @%s yet", job.Target))
	}

	if err := r.store.MarkRecommended(job.Target, bestURL, best.Score, string(best.Trend), r.now().UTC()); err != nil {
		return RetryableFailure(fmt.Errorf("recording recommendation: %w", err))
	}
	return Success(fmt.Sprintf("recommended %s (%s, %.0f views/hr, %d reel(s) analyzed)",
		bestURL, best.Trend, best.RatePerHour, analyzed))
}

func point(s storage.Snapshot) analyze.Point {
	return analyze.Point{Views: s.Views, Likes: s.Likes, Comments: s.Comments, CapturedAt: s.CapturedAt}
}

// post delivers the recommended reel to the messaging channel, at most once
// per UTC day per job.
func (r *Remote) post(ctx context.Context, job storage.Job) ActionResult {
	if r.sender == nil {
		return FatalFailure(errors.New("no messaging channel configured"))
	}

	now := r.now().UTC()
	if last, err := r.store.LastSuccessfulRun(job.ID); err == nil && sameUTCDay(last.FinishedAt, now) {
		return Success("already delivered today")
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return RetryableFailure(fmt.Errorf("checking delivery history: %w", err))
	}

	reel, err := r.store.RecommendedReel(job.Target)
	if errors.Is(err, storage.ErrNotFound) {
		return RetryableFailure(fmt.Errorf("no recommended reel for @%s yet", job.Target))
	}
	if err != nil {
		return RetryableFailure(fmt.Errorf("loading recommended reel: %w", err))
	}

	if err := r.sender.Send(ctx, formatDigest(reel)); err != nil {
		return classifySendError(err)
	}
	return Success(fmt.Sprintf("delivered %s", reel.URL))
}

// formatDigest renders the delivery message for a recommended reel.
func formatDigest(reel storage.Reel) string {
	msg := fmt.Sprintf("<b>🔥 Trending Reel</b>\n\n%s\n👁 %d | ❤️ %d | 💬 %d\n📈 %s",
		reel.URL, reel.Views, reel.Likes, reel.Comments, reel.Trend)
	if reel.Caption != "" {
		msg += "\n\n📝 <b>Caption</b>\n" + reel.Caption
	}
	return msg
}

// classifyFetchError maps remote fetch failures into the retry buckets. Any
// authentication signal revokes the session first, so the next attempt goes
// through a fresh acquire instead of replaying dead credentials.
func (r *Remote) classifyFetchError(err error, accountID string) ActionResult {
	var se *instagram.StatusError
	if !errors.As(err, &se) {
		// Transport-level failure: timeouts, DNS, connection resets.
		return RetryableFailure(err)
	}

	switch {
	case se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden:
		if invErr := r.sessions.Invalidate(accountID); invErr != nil {
			r.logger.Error("failed to invalidate session", "account", accountID, "error", invErr)
		}
		// Retryable only because the next attempt acquires a fresh session.
		return RetryableFailure(fmt.Errorf("session rejected by remote: %w", err))
	case se.Code == http.StatusTooManyRequests:
		return RetryableFailure(fmt.Errorf("rate limited: %w", err))
	case se.Code >= 500:
		return RetryableFailure(err)
	case se.Code == http.StatusNotFound:
		return FatalFailure(fmt.Errorf("target not found: %w", err))
	default:
		return FatalFailure(err)
	}
}

// classifySendError maps channel delivery failures into the retry buckets.
func classifySendError(err error) ActionResult {
	var se *notify.SendError
	if !errors.As(err, &se) {
		return RetryableFailure(err)
	}
	if se.Code == http.StatusTooManyRequests || se.Code >= 500 {
		return RetryableFailure(err)
	}
	return FatalFailure(err)
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
