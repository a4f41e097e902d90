package socketio

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes reconnection delays: Min * Factor^attempt, randomised by
// ±Jitter (a fraction of the delay) and capped at Max.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

// Duration returns the delay before the given attempt, counted from 0.
func (b Backoff) Duration(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := float64(b.Min) * math.Pow(b.Factor, float64(attempt))
	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(b.Max) {
		d = float64(b.Max)
	}

	if b.Jitter > 0 {
		delta := b.Jitter * d
		d += (rand.Float64()*2 - 1) * delta
	}

	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
