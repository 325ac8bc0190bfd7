// Package fake implements a simulated motor group whose encoder integrates the commanded
// velocity over an injected clock.
package fake

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/elliot2/motioncore/components/motor"
	"github.com/elliot2/motioncore/logging"
	"github.com/elliot2/motioncore/utils"
)

var _ motor.Group = &Motor{}

// A Motor pretends to be a drive motor group. Velocity changes take effect immediately and the
// encoder advances by rpm/60 * TicksPerRotation counts per second of clock time.
type Motor struct {
	Name             string
	MaxRPMValue      float64
	TicksPerRotation float64
	Logger           logging.Logger

	mu         sync.Mutex
	clk        clock.Clock
	position   float64
	rpm        float64
	brake      motor.BrakeMode
	lastUpdate time.Time
	err        error
}

// NewMotor returns a stopped fake motor group at position zero.
func NewMotor(name string, maxRPM, ticksPerRotation float64, clk clock.Clock, logger logging.Logger) (*Motor, error) {
	if maxRPM <= 0 {
		return nil, motor.NewZeroGearingError(name)
	}
	if ticksPerRotation <= 0 {
		return nil, motor.NewZeroTicksPerRevolutionError(name)
	}
	return &Motor{
		Name:             name,
		MaxRPMValue:      maxRPM,
		TicksPerRotation: ticksPerRotation,
		Logger:           logger,
		clk:              clk,
		lastUpdate:       clk.Now(),
	}, nil
}

// advance integrates the encoder up to now. Must hold mu.
func (m *Motor) advance() {
	now := m.clk.Now()
	dt := now.Sub(m.lastUpdate).Seconds()
	m.lastUpdate = now
	if dt <= 0 {
		return
	}
	m.position += m.rpm / 60 * m.TicksPerRotation * dt
}

// Position returns the encoder count.
func (m *Motor) Position(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.advance()
	return m.position, nil
}

// Velocity returns the current velocity in rpm.
func (m *Motor) Velocity(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return m.rpm, nil
}

// SetVelocity sets the velocity, clamped to the gearing.
func (m *Motor) SetVelocity(ctx context.Context, rpm float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if math.IsNaN(rpm) {
		return errors.Errorf("motor group %s: velocity is NaN", m.Name)
	}
	m.advance()
	m.rpm = utils.Clamp(rpm, -m.MaxRPMValue, m.MaxRPMValue)
	return nil
}

// BrakeMode returns the brake mode.
func (m *Motor) BrakeMode(ctx context.Context) (motor.BrakeMode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return motor.BrakeCoast, m.err
	}
	return m.brake, nil
}

// SetBrakeMode sets the brake mode.
func (m *Motor) SetBrakeMode(ctx context.Context, mode motor.BrakeMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.brake != mode && m.Logger != nil {
		m.Logger.Debugf("motor group %s brake mode %s", m.Name, mode)
	}
	m.brake = mode
	return nil
}

// MaxRPM returns the top speed.
func (m *Motor) MaxRPM() float64 {
	return m.MaxRPMValue
}

// Stop has the motor pretend to be off.
func (m *Motor) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return errors.Wrapf(m.err, "error in Stop from motor group (%s)", m.Name)
	}
	m.advance()
	m.rpm = 0
	return nil
}

// SetPosition overwrites the encoder count.
func (m *Motor) SetPosition(pos float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance()
	m.position = pos
}

// SetError makes every following call fail with err. A nil err heals the motor.
func (m *Motor) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance()
	m.err = err
}
