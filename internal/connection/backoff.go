package connection

import "time"

// Backoff computes the wait before a reconnection attempt.
// Delay(k) = min(Base * Multiplier^k, Max), so it never decreases as k grows.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff returns 1s growing by 1.5x up to 30s.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       1 * time.Second,
		Max:        30 * time.Second,
		Multiplier: 1.5,
	}
}

// Delay returns the wait before the attempt following `attempts` failed ones.
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	maxWait := b.Max
	if maxWait < base {
		maxWait = base
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	wait := float64(base)
	for i := 0; i < attempts; i++ {
		wait *= mult
		if wait >= float64(maxWait) {
			return maxWait
		}
	}
	return time.Duration(wait)
}
