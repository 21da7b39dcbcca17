// Package analyze ranks monitored content by momentum between metric
// snapshots.
package analyze

import "time"

// Trend labels the momentum of a reel between its two latest snapshots.
type Trend string

const (
	TrendPeak   Trend = "peak"
	TrendRising Trend = "rising"
	TrendDying  Trend = "dying"
	TrendStable Trend = "stable"
)

// Point is one metric capture, the slice of a snapshot the analyzer needs.
type Point struct {
	Views      int
	Likes      int
	Comments   int
	CapturedAt time.Time
}

// Momentum is the computed movement between two snapshots of one reel.
type Momentum struct {
	DeltaViews    int
	DeltaLikes    int
	DeltaComments int
	RatePerHour   float64
	Score         float64
	Trend         Trend
}

// Compute derives the momentum of a reel from its previous and current
// snapshots. Engagement weighs likes 1.5x and comments 2x against raw view
// velocity.
func Compute(prev, cur Point) Momentum {
	hrs := hoursBetween(prev.CapturedAt, cur.CapturedAt)

	dv := cur.Views - prev.Views
	dl := cur.Likes - prev.Likes
	dc := cur.Comments - prev.Comments

	rate := float64(dv) / hrs
	engagement := (float64(dl)/hrs)*1.5 + (float64(dc)/hrs)*2.0
	score := rate*1.2 + engagement

	prevScore := float64(prev.Views) / hrs
	if prevScore < 1 {
		prevScore = 1
	}

	return Momentum{
		DeltaViews:    dv,
		DeltaLikes:    dl,
		DeltaComments: dc,
		RatePerHour:   rate,
		Score:         score,
		Trend:         classify(rate, score, prevScore),
	}
}

func classify(rate, score, prevScore float64) Trend {
	if rate >= 300 && score >= prevScore*0.9 {
		return TrendPeak
	}
	if rate >= 80 && score > prevScore {
		return TrendRising
	}
	if rate <= 20 && score < prevScore {
		return TrendDying
	}
	return TrendStable
}

// hoursBetween floors at 0.01h so rates stay finite for near-simultaneous
// snapshots.
func hoursBetween(t1, t2 time.Time) float64 {
	hrs := t2.Sub(t1).Hours()
	if hrs < 0.01 {
		return 0.01
	}
	return hrs
}
