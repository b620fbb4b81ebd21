package store

import (
	"math/rand"
	"time"
)

const (
	backoffBase   = 5 * time.Second
	backoffCap    = 5 * time.Minute
	maxBackoffExp = 20
	maxJitter     = time.Second
)

// Backoff returns the retry delay for a job on its given attempt count:
// base 5s doubled per attempt, capped at 5 minutes. The exponent is clamped
// so large attempt counts cannot overflow.
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > maxBackoffExp {
		attempts = maxBackoffExp
	}

	d := backoffBase << uint(attempts)
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	return d
}

// jitter returns a random delay in [0, 1s) added to every backoff so
// retries of jobs failed in the same pass spread out.
func jitter() time.Duration {
	return time.Duration(rand.Int63n(int64(maxJitter)))
}
