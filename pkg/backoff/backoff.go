// Package backoff retries transient platform failures with capped,
// jittered exponential delays.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Defaults for a zero Config.
const (
	DefaultInitial = 200 * time.Millisecond
	DefaultMax     = 5 * time.Second
)

// Config shapes the delay between tries.
type Config struct {
	Initial time.Duration // Delay after the first failure
	Max     time.Duration // Cap on any single delay
	Jitter  float64       // Fraction of each delay that may be randomly shaved off, 0 to 1
}

// Delay returns how long to wait after the given failed try (1-based):
// Initial doubled per earlier try, capped at Max, then shortened by up to
// Jitter of itself.
func (c Config) Delay(try int) time.Duration {
	initial := c.Initial
	if initial <= 0 {
		initial = DefaultInitial
	}
	ceiling := max(c.Max, initial)
	if c.Max <= 0 {
		ceiling = max(DefaultMax, initial)
	}

	d := initial
	for i := 1; i < try && d < ceiling; i++ {
		d *= 2
	}
	d = min(d, ceiling)

	if j := min(max(c.Jitter, 0), 1); j > 0 {
		d -= time.Duration(float64(d) * j * rand.Float64())
	}
	return d
}
