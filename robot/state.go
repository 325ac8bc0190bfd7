// Package robot holds the shared state of the machine: the pose estimator, the drivetrain, the
// end-effectors, the alliance side and the lock that gives one caller control of the actuators.
package robot

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/elliot2/motioncore/components/effector"
	"github.com/elliot2/motioncore/components/motor"
	"github.com/elliot2/motioncore/logging"
	"github.com/elliot2/motioncore/odometry"
)

// Parts are the devices a State is built from. Effectors are optional.
type Parts struct {
	Estimator *odometry.Estimator
	Left      motor.Group
	Right     motor.Group
	Intake    effector.Velocity
	Scorer    effector.Velocity
	Catapult  effector.Catapult
	Arm       effector.Positional
}

// State is the context object handed to the path controller and the script interpreter.
type State struct {
	Parts
	logger logging.Logger

	mirrored atomic.Bool
	control  *semaphore.Weighted
	held     atomic.Bool
}

// NewState returns a State for parts. The estimator and both drive groups are required.
func NewState(parts Parts, logger logging.Logger) (*State, error) {
	if parts.Estimator == nil {
		return nil, errors.New("robot state needs a pose estimator")
	}
	if parts.Left == nil || parts.Right == nil {
		return nil, errors.New("robot state needs left and right drive groups")
	}
	return &State{
		Parts:   parts,
		logger:  logger,
		control: semaphore.NewWeighted(1),
	}, nil
}

// Mirrored reports whether scripts run mirrored for the opposite alliance.
func (s *State) Mirrored() bool {
	return s.mirrored.Load()
}

// SetMirrored selects the alliance side.
func (s *State) SetMirrored(mirrored bool) {
	if s.mirrored.Swap(mirrored) != mirrored {
		s.logger.Infow("alliance side changed", "mirrored", mirrored)
	}
}

// TakeControl blocks until the caller owns the actuators or ctx is done.
func (s *State) TakeControl(ctx context.Context) error {
	if err := s.control.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "cannot take control")
	}
	s.held.Store(true)
	return nil
}

// TryTakeControl takes control if nobody holds it.
func (s *State) TryTakeControl() bool {
	if !s.control.TryAcquire(1) {
		return false
	}
	s.held.Store(true)
	return true
}

// GiveControl releases the actuators and lets the drive coast. It fails if control is not held.
func (s *State) GiveControl(ctx context.Context) error {
	if !s.held.CompareAndSwap(true, false) {
		return errors.New("cannot give control that is not held")
	}
	s.control.Release(1)
	return s.SetDriveBrakeMode(ctx, motor.BrakeCoast)
}

// SetDriveVelocity commands both drive groups in rpm.
func (s *State) SetDriveVelocity(ctx context.Context, left, right float64) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Left.SetVelocity(gctx, left) })
	g.Go(func() error { return s.Right.SetVelocity(gctx, right) })
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "cannot command drive")
	}
	return nil
}

// StopDrive commands zero velocity on both drive groups.
func (s *State) StopDrive(ctx context.Context) error {
	return motor.StopAll(ctx, s.Left, s.Right)
}

// DriveBrakeMode returns the brake mode of the drive.
func (s *State) DriveBrakeMode(ctx context.Context) (motor.BrakeMode, error) {
	return s.Left.BrakeMode(ctx)
}

// SetDriveBrakeMode sets the brake mode of both drive groups.
func (s *State) SetDriveBrakeMode(ctx context.Context, mode motor.BrakeMode) error {
	return motor.SetBrakeModes(ctx, mode, s.Left, s.Right)
}

// DriveMaxRPM returns the gearing of the drive.
func (s *State) DriveMaxRPM() float64 {
	return s.Left.MaxRPM()
}

// StopAll stops the drive and every end-effector.
func (s *State) StopAll(ctx context.Context) error {
	err := s.StopDrive(ctx)
	for _, v := range []effector.Velocity{s.Intake, s.Scorer} {
		if v != nil {
			err = multierr.Combine(err, v.SetVelocity(ctx, 0))
		}
	}
	if s.Catapult != nil {
		err = multierr.Combine(err, s.Catapult.SetVelocity(ctx, 0))
	}
	return err
}
