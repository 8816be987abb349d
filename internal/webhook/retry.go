package webhook

import (
	"math/rand/v2"
	"time"
)

// DefaultRetryDelays is the outbox schedule: after the nth failed attempt
// the next one waits DefaultRetryDelays[n-1].
var DefaultRetryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
}

const (
	// DefaultMaxRetries is how many outbox retries follow the synchronous
	// attempt.
	DefaultMaxRetries = 5
	// JitterFactor is the ±fraction of jitter applied to delays.
	JitterFactor = 0.2
)

// Backoff computes retry delays.
type Backoff struct {
	Delays     []time.Duration
	MaxRetries int
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultBackoff returns the production schedule.
func DefaultBackoff() Backoff {
	return Backoff{Delays: DefaultRetryDelays, MaxRetries: DefaultMaxRetries, Rand: rand.Float64}
}

// Delay returns the wait after the given number of failed attempts (1-based),
// with ±20% jitter. Attempts beyond the schedule reuse the last delay.
func (b Backoff) Delay(attempts int) time.Duration {
	delays := b.Delays
	if len(delays) == 0 {
		delays = DefaultRetryDelays
	}
	i := attempts - 1
	if i < 0 {
		i = 0
	}
	if i >= len(delays) {
		i = len(delays) - 1
	}

	r := b.Rand
	if r == nil {
		r = rand.Float64
	}
	base := float64(delays[i])
	return time.Duration(base + (r()*2-1)*base*JitterFactor)
}

// Exhausted reports whether attempts (synchronous one included) used up
// every retry.
func (b Backoff) Exhausted(attempts int) bool {
	limit := b.MaxRetries
	if limit <= 0 {
		limit = DefaultMaxRetries
	}
	return attempts-1 >= limit
}
