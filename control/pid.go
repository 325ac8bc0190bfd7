// Package control implements the feedback blocks used by the tracking loop.
package control

import (
	"math"
	"sync"
	"time"

	"github.com/elliot2/motioncore/config"
)

// PID is a discrete position PID controller. Its output is clamped to [OutMin, OutMax] and the
// integral term is bounded to the same range; while the integral is saturated, errors pushing
// further into saturation are not accumulated.
type PID struct {
	mu     sync.Mutex
	gains  config.Gains
	outMin float64
	outMax float64

	target   float64
	error    float64
	int      float64
	sat      int
	hasPrev  bool
	output   float64
	measured float64
}

// NewPID returns a PID controller with output in [outMin, outMax].
func NewPID(gains config.Gains, outMin, outMax float64) *PID {
	return &PID{gains: gains, outMin: outMin, outMax: outMax}
}

// SetTarget changes the set point.
func (p *PID) SetTarget(target float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = target
}

// Target returns the set point.
func (p *PID) Target() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// Next runs one step on the measured value. dt is the time since the previous step; the
// derivative term is skipped when dt is not positive or on the first step.
func (p *PID) Next(measured float64, dt time.Duration) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	dtS := dt.Seconds()
	err := p.target - measured
	p.measured = measured

	if dtS > 0 && !((p.sat > 0 && err > 0) || (p.sat < 0 && err < 0)) {
		p.int += p.gains.Ki * err * dtS
		switch {
		case p.int > p.outMax:
			p.int = p.outMax
			p.sat = 1
		case p.int < p.outMin:
			p.int = p.outMin
			p.sat = -1
		default:
			p.sat = 0
		}
	}

	var deriv float64
	if dtS > 0 && p.hasPrev {
		deriv = (err - p.error) / dtS
	}
	p.error = err
	p.hasPrev = true

	output := p.gains.Kp*err + p.int + p.gains.Kd*deriv
	if math.IsNaN(output) {
		output = p.outMin
	}
	p.output = math.Max(p.outMin, math.Min(p.outMax, output))
	return p.output
}

// Error returns the error of the last step.
func (p *PID) Error() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.error
}

// Output returns the output of the last step.
func (p *PID) Output() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.output
}

// Gains returns the current gains.
func (p *PID) Gains() config.Gains {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gains
}

// SetGains replaces the gains. The accumulated state is kept.
func (p *PID) SetGains(gains config.Gains) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gains = gains
}

// Reset clears the accumulated state and the error so that a new target starts fresh.
func (p *PID) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.int = 0
	p.error = 0
	p.sat = 0
	p.hasPrev = false
	p.output = 0
	p.measured = 0
}
