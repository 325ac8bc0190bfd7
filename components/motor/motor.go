// Package motor defines the drivetrain motor groups commanded by the motion core.
//
// A Group is one side of a differential drive: one or more motors mechanically linked, reported
// as a single integrated encoder and commanded with a single velocity.
package motor

import (
	"context"

	"go.uber.org/multierr"
)

// BrakeMode is what a motor group does when commanded to zero velocity.
type BrakeMode int

// Known brake modes.
const (
	// BrakeCoast lets the wheels spin freely.
	BrakeCoast BrakeMode = iota
	// BrakeBrake shorts the windings.
	BrakeBrake
	// BrakeHold actively holds position.
	BrakeHold
)

func (mode BrakeMode) String() string {
	switch mode {
	case BrakeCoast:
		return "coast"
	case BrakeBrake:
		return "brake"
	case BrakeHold:
		return "hold"
	}
	return "unknown"
}

// A Group represents a set of drive motors on one side of the robot.
type Group interface {
	// Position returns the cumulative encoder count.
	Position(ctx context.Context) (float64, error)

	// Velocity returns the measured velocity in rpm.
	Velocity(ctx context.Context) (float64, error)

	// SetVelocity commands a velocity in rpm. Values beyond the gearing are clamped.
	SetVelocity(ctx context.Context, rpm float64) error

	// BrakeMode returns the current brake mode.
	BrakeMode(ctx context.Context) (BrakeMode, error)

	// SetBrakeMode sets the brake mode.
	SetBrakeMode(ctx context.Context, mode BrakeMode) error

	// MaxRPM returns the top speed of the gearing.
	MaxRPM() float64

	// Stop commands zero velocity.
	Stop(ctx context.Context) error
}

// StopAll stops every group and combines their errors.
func StopAll(ctx context.Context, groups ...Group) error {
	var err error
	for _, g := range groups {
		err = multierr.Combine(err, g.Stop(ctx))
	}
	return err
}

// SetBrakeModes sets the brake mode of every group and combines their errors.
func SetBrakeModes(ctx context.Context, mode BrakeMode, groups ...Group) error {
	var err error
	for _, g := range groups {
		err = multierr.Combine(err, g.SetBrakeMode(ctx, mode))
	}
	return err
}
