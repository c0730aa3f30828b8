package pipeline

import (
	"math/rand"
	"time"
)

// RetryPolicy bounds how a failed cycle is retried: exponential backoff
// from BaseDelay, capped at MaxDelay, with up to 20% jitter, for at most
// MaxAttempts attempts total.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the backoff before retrying after the given failed attempt
// (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}

	jitter := time.Duration(0)
	if d > 0 {
		jitter = time.Duration(rand.Int63n(int64(d)/5 + 1))
	}
	return d + jitter
}
