package socketio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffWithoutJitter(t *testing.T) {
	b := Backoff{Min: time.Second, Max: 5 * time.Second, Factor: 2}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		5 * time.Second,
	}
	for attempt, d := range want {
		assert.Equal(t, d, b.Duration(attempt), "attempt %d", attempt)
	}

	assert.Equal(t, time.Second, b.Duration(-1))
	assert.Equal(t, 5*time.Second, b.Duration(10000))
}

func TestBackoffJitterBounds(t *testing.T) {
	b := Backoff{Min: time.Second, Max: 5 * time.Second, Factor: 2, Jitter: 0.5}

	for i := 0; i < 200; i++ {
		d := b.Duration(0)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)

		d = b.Duration(5)
		assert.GreaterOrEqual(t, d, 2500*time.Millisecond)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestConfigBackoff(t *testing.T) {
	b := DefaultConfig().backoff()
	assert.Equal(t, Backoff{Min: time.Second, Max: 5 * time.Second, Factor: 2, Jitter: 0.5}, b)
}
