package infra

import (
	"math/rand/v2"
	"time"
)

// CalculateBackoff returns base * 2^attempt, capped at max.
func CalculateBackoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		if d >= max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

// Backoff produces a non-decreasing sequence of jittered reconnect delays,
// never above Max. Reset starts the sequence again after a successful logon.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // fraction of the delay added at random, 0..1

	rand    func() float64
	attempt int
	prev    time.Duration
}

// NewBackoff uses math/rand/v2 for jitter.
func NewBackoff(base, max time.Duration, jitter float64) *Backoff {
	return &Backoff{Base: base, Max: max, Jitter: jitter, rand: rand.Float64}
}

// WithRand replaces the jitter source, for deterministic tests.
func (b *Backoff) WithRand(r func() float64) *Backoff {
	b.rand = r
	return b
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	d := CalculateBackoff(b.attempt, b.Base, b.Max)
	b.attempt++
	if b.Jitter > 0 && b.rand != nil {
		d += time.Duration(float64(d) * b.Jitter * b.rand())
	}
	if d > b.Max {
		d = b.Max
	}
	if d < b.prev {
		d = b.prev
	}
	b.prev = d
	return d
}

// Attempts returns how many delays were handed out since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempt
}

func (b *Backoff) Reset() {
	b.attempt = 0
	b.prev = 0
}
