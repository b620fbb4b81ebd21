package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffMonotoneAndCapped(t *testing.T) {
	prev := time.Duration(0)
	for attempts := 0; attempts <= 20; attempts++ {
		d := Backoff(attempts)
		assert.GreaterOrEqual(t, d, prev, "backoff must not decrease at attempt %d", attempts)
		assert.LessOrEqual(t, d, 5*time.Minute)
		prev = d
	}

	// Beyond the clamp the delay stays at the cap
	assert.Equal(t, 5*time.Minute, Backoff(21))
	assert.Equal(t, 5*time.Minute, Backoff(1000))
}

func TestBackoffValues(t *testing.T) {
	assert.Equal(t, 5*time.Second, Backoff(0))
	assert.Equal(t, 10*time.Second, Backoff(1))
	assert.Equal(t, 40*time.Second, Backoff(3))
	assert.Equal(t, 5*time.Minute, Backoff(6))
	assert.Equal(t, 5*time.Second, Backoff(-3))
}

func TestJitterRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		j := jitter()
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.Less(t, j, time.Second)
	}
}
