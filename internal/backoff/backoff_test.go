package backoff

import (
	"testing"
	"time"

	"github.com/justaman045/Instagram-Content-Analyzer/internal/storage"
)

func TestBaseDelayDoubles(t *testing.T) {
	p := NewPolicy(2*time.Second, 10*time.Minute, 5)

	want := []time.Duration{
		2 * time.Second,  // attempt 1
		4 * time.Second,  // attempt 2
		8 * time.Second,  // attempt 3
		16 * time.Second, // attempt 4
	}
	for i, w := range want {
		if got := p.baseDelay(i + 1); got != w {
			t.Errorf("baseDelay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestBaseDelayCapped(t *testing.T) {
	p := NewPolicy(time.Second, 30*time.Second, 100)

	if got := p.baseDelay(10); got != 30*time.Second {
		t.Errorf("baseDelay(10) = %v, want cap %v", got, 30*time.Second)
	}
	// Huge attempt counts must not overflow past the cap.
	if got := p.baseDelay(500); got != 30*time.Second {
		t.Errorf("baseDelay(500) = %v, want cap %v", got, 30*time.Second)
	}
}

func TestBaseDelayMonotonic(t *testing.T) {
	p := NewPolicy(time.Second, time.Hour, 100)

	prev := time.Duration(0)
	for attempts := 1; attempts <= 40; attempts++ {
		d := p.baseDelay(attempts)
		if d < prev {
			t.Fatalf("baseDelay decreased at %d: %v < %v", attempts, d, prev)
		}
		prev = d
	}
}

// TestNextDelayJitterBounds drives the injected randomness to its extremes
// and verifies the delay stays within ±20% of the exponential value.
func TestNextDelayJitterBounds(t *testing.T) {
	p := NewPolicy(10*time.Second, 10*time.Minute, 5)

	for attempts := 1; attempts <= 4; attempts++ {
		base := p.baseDelay(attempts)
		lo := time.Duration(float64(base) * 0.8)
		hi := time.Duration(float64(base) * 1.2)

		p.rnd = func() float64 { return 0 }
		if got := p.NextDelay(attempts); got < lo-time.Millisecond {
			t.Errorf("attempts %d: min jitter delay %v below %v", attempts, got, lo)
		}
		p.rnd = func() float64 { return 0.999999 }
		if got := p.NextDelay(attempts); got > hi+time.Millisecond {
			t.Errorf("attempts %d: max jitter delay %v above %v", attempts, got, hi)
		}
		p.rnd = func() float64 { return 0.5 }
		if got := p.NextDelay(attempts); got != base {
			t.Errorf("attempts %d: centered jitter = %v, want %v", attempts, got, base)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	p := NewPolicy(time.Second, time.Minute, 3)

	cases := []struct {
		attempts int
		outcome  storage.Outcome
		want     bool
	}{
		{1, storage.OutcomeRetryable, true},
		{2, storage.OutcomeRetryable, true},
		{3, storage.OutcomeRetryable, false}, // budget of 3 consumed
		{1, storage.OutcomeFatal, false},     // fatal never retries
		{2, storage.OutcomeFatal, false},
	}
	for _, tc := range cases {
		if got := p.ShouldRetry(tc.attempts, tc.outcome); got != tc.want {
			t.Errorf("ShouldRetry(%d, %s) = %v, want %v", tc.attempts, tc.outcome, got, tc.want)
		}
	}
}

func TestNewPolicyFloors(t *testing.T) {
	p := NewPolicy(0, 0, 0)

	if p.Base < time.Second {
		t.Errorf("base = %v, want at least 1s", p.Base)
	}
	if p.Max < p.Base {
		t.Errorf("max %v below base %v", p.Max, p.Base)
	}
	if p.MaxAttempts < 1 {
		t.Errorf("max attempts = %d, want at least 1", p.MaxAttempts)
	}
}
