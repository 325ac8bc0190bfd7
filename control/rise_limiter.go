package control

import (
	"math"
	"sync"
	"time"
)

// RiseLimiter bounds how fast a magnitude may grow: each step may raise the value by at most
// MaxRise per second, while decreases pass through unchanged. A zero MaxRise disables the limit.
type RiseLimiter struct {
	mu      sync.Mutex
	maxRise float64
	last    float64
}

// NewRiseLimiter returns a limiter starting at zero.
func NewRiseLimiter(maxRise float64) *RiseLimiter {
	return &RiseLimiter{maxRise: maxRise}
}

// Next returns the limited value for the requested one.
func (r *RiseLimiter) Next(requested float64, dt time.Duration) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxRise > 0 {
		requested = math.Min(requested, r.last+r.maxRise*math.Max(dt.Seconds(), 0))
	}
	r.last = requested
	return requested
}

// Last returns the previous output.
func (r *RiseLimiter) Last() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// SetMaxRise changes the limit.
func (r *RiseLimiter) SetMaxRise(maxRise float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxRise = maxRise
}

// Reset drops the value back to zero.
func (r *RiseLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = 0
}
