// Package backoff centralizes retry policy. Every retry decision in the
// scheduler goes through one Policy so backoff behavior cannot diverge
// across call sites.
package backoff

import (
	"math/rand"
	"time"

	"github.com/justaman045/Instagram-Content-Analyzer/internal/storage"
)

// jitterFraction bounds the random spread applied to a computed delay:
// the final delay is within ±20% of the exponential base value.
const jitterFraction = 0.2

// Policy computes retry delays and decides when to give up.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// Max caps the exponential growth of the pre-jitter delay.
	Max time.Duration

	// MaxAttempts is the total number of attempts a job may consume
	// before it is exhausted.
	MaxAttempts int

	// rnd returns a value in [0, 1). Injected by tests; nil means math/rand.
	rnd func() float64
}

// NewPolicy returns a Policy with sane floors applied: base at least 1s,
// max at least base, at least one attempt.
func NewPolicy(base, max time.Duration, maxAttempts int) Policy {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return Policy{Base: base, Max: max, MaxAttempts: maxAttempts}
}

// NextDelay returns the wait before the retry following the given number of
// consumed attempts: min(base * 2^(attempts-1), max), plus jitter in
// (-20%, +20%). The first retry waits roughly Base.
func (p Policy) NextDelay(attempts int) time.Duration {
	d := p.baseDelay(attempts)
	jitter := (p.random()*2 - 1) * jitterFraction * float64(d)
	return d + time.Duration(jitter)
}

// baseDelay is the pre-jitter exponential delay, monotonically non-decreasing
// in attempts and capped at Max.
func (p Policy) baseDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := p.Base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.Max || d < 0 { // overflow guard
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// ShouldRetry reports whether a job that just consumed the given attempt
// count may run again. Fatal failures never retry; otherwise a job retries
// until its attempts are used up.
func (p Policy) ShouldRetry(attempts int, outcome storage.Outcome) bool {
	if outcome == storage.OutcomeFatal {
		return false
	}
	return attempts < p.MaxAttempts
}

func (p Policy) random() float64 {
	if p.rnd != nil {
		return p.rnd()
	}
	return rand.Float64()
}
