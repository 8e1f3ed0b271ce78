package queue

import (
	"math/rand"
	"time"
)

// Backoff computes retry eligibility delays: exponential with full jitter.
// The delay for attempt n is uniform in [0, min(Cap, Base*2^n)], which
// spreads retries out instead of synchronizing them.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoff returns the default retry curve: 1s base, 5m cap.
func DefaultBackoff() Backoff {
	return Backoff{
		Base: time.Second,
		Cap:  5 * time.Minute,
	}
}

// Delay returns the jittered delay before the given retry attempt becomes
// eligible again. retry is the attempt count after the failure (1 for the
// first retry).
func (b Backoff) Delay(retry int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	cap := b.Cap
	if cap <= 0 {
		cap = 5 * time.Minute
	}

	ceiling := base
	for i := 0; i < retry; i++ {
		ceiling *= 2
		if ceiling >= cap {
			ceiling = cap
			break
		}
	}

	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}
