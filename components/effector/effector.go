// Package effector defines the scoring mechanisms a script can drive: spinning rollers, a
// positional arm and a catapult that winds back to a limit switch.
package effector

import "context"

// Velocity is a velocity controlled mechanism such as an intake roller.
type Velocity interface {
	// SetVelocity commands a velocity in rpm.
	SetVelocity(ctx context.Context, rpm float64) error
	// Velocity returns the commanded velocity in rpm.
	Velocity(ctx context.Context) (float64, error)
	// Gearing returns the top speed in rpm.
	Gearing() float64
}

// Positional is a mechanism driven to absolute positions.
type Positional interface {
	MoveTo(ctx context.Context, position float64) error
	Position(ctx context.Context) (float64, error)
	// IsDone reports whether the last MoveTo has completed.
	IsDone(ctx context.Context) (bool, error)
}

// Catapult is a velocity mechanism that can also run until it trips its limit switch.
type Catapult interface {
	Velocity
	// GoToSwitch starts running until the limit switch closes, releasing a shot on the way.
	GoToSwitch(ctx context.Context) error
	// IsGoingToSwitch reports whether a GoToSwitch is still in progress.
	IsGoingToSwitch(ctx context.Context) (bool, error)
}
