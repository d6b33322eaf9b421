// Package backoff defines the injectable retry-delay policy used between
// failed sync passes.
package backoff

import (
	"math/rand"
	"time"
)

type Policy interface {
	// Delay returns how long to wait before attempt n (0-based).
	Delay(attempt int) time.Duration
}

// Exponential doubles the base delay per attempt up to Max, with
// +/-Jitter fractional randomization so a fleet of devices regaining
// connectivity does not retry in lockstep.
type Exponential struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

func (e Exponential) Delay(attempt int) time.Duration {
	d := e.Base
	for i := 0; i < attempt && d < e.Max; i++ {
		d *= 2
	}
	if d > e.Max {
		d = e.Max
	}
	if e.Jitter > 0 {
		spread := float64(d) * e.Jitter
		d = time.Duration(float64(d) - spread + rand.Float64()*2*spread)
	}
	if d < 0 {
		d = 0
	}
	return d
}

// None waits nothing between attempts. Tests use it to drain retries
// without wall-clock delays.
type None struct{}

func (None) Delay(int) time.Duration { return 0 }
