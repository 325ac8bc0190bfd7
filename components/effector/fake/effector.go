// Package fake implements simulated end-effectors on an injected clock.
package fake

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"github.com/elliot2/motioncore/components/effector"
	"github.com/elliot2/motioncore/utils"
)

var (
	_ effector.Velocity   = &Roller{}
	_ effector.Positional = &Arm{}
	_ effector.Catapult   = &Catapult{}
)

// Command is a velocity command seen by a fake effector.
type Command struct {
	At  time.Time
	RPM float64
}

// Roller is a fake velocity mechanism that records every command.
type Roller struct {
	Name    string
	gearing float64
	clk     clock.Clock

	mu       sync.Mutex
	rpm      float64
	commands []Command
}

// NewRoller returns a stopped roller.
func NewRoller(name string, gearing float64, clk clock.Clock) *Roller {
	return &Roller{Name: name, gearing: gearing, clk: clk}
}

// SetVelocity records and applies the command, clamped to the gearing.
func (r *Roller) SetVelocity(ctx context.Context, rpm float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rpm = utils.Clamp(rpm, -r.gearing, r.gearing)
	r.commands = append(r.commands, Command{At: r.clk.Now(), RPM: r.rpm})
	return nil
}

// Velocity returns the current velocity.
func (r *Roller) Velocity(ctx context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rpm, nil
}

// Gearing returns the top speed.
func (r *Roller) Gearing() float64 {
	return r.gearing
}

// Commands returns a copy of the command history.
func (r *Roller) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// Arm is a fake positional mechanism moving at a constant speed on the clock.
type Arm struct {
	speed float64
	clk   clock.Clock

	mu        sync.Mutex
	start     float64
	target    float64
	startedAt time.Time
}

// NewArm returns an arm at position zero moving speed units per second.
func NewArm(speed float64, clk clock.Clock) *Arm {
	return &Arm{speed: speed, clk: clk, startedAt: clk.Now()}
}

// MoveTo starts a move from the current position to position.
func (a *Arm) MoveTo(ctx context.Context, position float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.start = a.positionLocked()
	a.target = position
	a.startedAt = a.clk.Now()
	return nil
}

// Position returns the current position.
func (a *Arm) Position(ctx context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positionLocked(), nil
}

// IsDone reports whether the arm has reached its target.
func (a *Arm) IsDone(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positionLocked() == a.target, nil
}

func (a *Arm) positionLocked() float64 {
	travelled := a.speed * a.clk.Since(a.startedAt).Seconds()
	dist := a.target - a.start
	if travelled >= math.Abs(dist) {
		return a.target
	}
	return a.start + math.Copysign(travelled, dist)
}

// Catapult is a fake catapult whose wind back to the limit switch takes a fixed cycle.
type Catapult struct {
	*Roller
	cycle time.Duration

	switchAt atomic.Time
	winding  atomic.Bool
	shots    atomic.Int64
}

// NewCatapult returns a catapult resting on its switch.
func NewCatapult(gearing float64, cycle time.Duration, clk clock.Clock) *Catapult {
	return &Catapult{Roller: NewRoller("catapult", gearing, clk), cycle: cycle}
}

// GoToSwitch fires and starts winding back.
func (c *Catapult) GoToSwitch(ctx context.Context) error {
	c.switchAt.Store(c.clk.Now().Add(c.cycle))
	c.winding.Store(true)
	c.shots.Inc()
	return nil
}

// IsGoingToSwitch reports whether the catapult is still winding.
func (c *Catapult) IsGoingToSwitch(ctx context.Context) (bool, error) {
	if !c.winding.Load() {
		return false, nil
	}
	if !c.clk.Now().Before(c.switchAt.Load()) {
		c.winding.Store(false)
		return false, nil
	}
	return true, nil
}

// Shots returns how many times the catapult fired.
func (c *Catapult) Shots() int64 {
	return c.shots.Load()
}
