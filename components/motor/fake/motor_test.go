package fake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/elliot2/motioncore/components/motor"
	"github.com/elliot2/motioncore/logging"
)

func TestMotorIntegratesVelocity(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	mock := clock.NewMock()

	m, err := NewMotor("left", 200, 900, mock, logger)
	test.That(t, err, test.ShouldBeNil)

	pos, err := m.Position(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldEqual, 0)

	// 60 rpm is one revolution per second.
	test.That(t, m.SetVelocity(ctx, 60), test.ShouldBeNil)
	mock.Add(time.Second)
	pos, err = m.Position(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldAlmostEqual, 900)

	test.That(t, m.SetVelocity(ctx, -120), test.ShouldBeNil)
	mock.Add(500 * time.Millisecond)
	pos, err = m.Position(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldAlmostEqual, 0)

	vel, err := m.Velocity(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vel, test.ShouldEqual, -120)

	test.That(t, m.Stop(ctx), test.ShouldBeNil)
	mock.Add(time.Second)
	pos, err = m.Position(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldAlmostEqual, 0)
}

func TestMotorClampsToGearing(t *testing.T) {
	ctx := context.Background()
	m, err := NewMotor("right", 200, 900, clock.NewMock(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.SetVelocity(ctx, 1000), test.ShouldBeNil)
	vel, err := m.Velocity(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vel, test.ShouldEqual, 200)
	test.That(t, m.MaxRPM(), test.ShouldEqual, 200)
}

func TestMotorBrakeModeAndErrors(t *testing.T) {
	ctx := context.Background()
	m, err := NewMotor("left", 200, 900, clock.NewMock(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	mode, err := m.BrakeMode(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mode, test.ShouldEqual, motor.BrakeCoast)
	test.That(t, m.SetBrakeMode(ctx, motor.BrakeHold), test.ShouldBeNil)
	mode, err = m.BrakeMode(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mode, test.ShouldEqual, motor.BrakeHold)

	m.SetError(errors.New("unplugged"))
	test.That(t, m.SetVelocity(ctx, 10), test.ShouldNotBeNil)
	err = m.Stop(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "left")
	m.SetError(nil)
	test.That(t, m.Stop(ctx), test.ShouldBeNil)

	_, err = NewMotor("bad", 0, 900, clock.NewMock(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewMotor("bad", 200, 0, clock.NewMock(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestGroupHelpers(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	left, err := NewMotor("left", 200, 900, mock, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	right, err := NewMotor("right", 200, 900, mock, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, motor.SetBrakeModes(ctx, motor.BrakeBrake, left, right), test.ShouldBeNil)
	mode, _ := right.BrakeMode(ctx)
	test.That(t, mode, test.ShouldEqual, motor.BrakeBrake)

	test.That(t, left.SetVelocity(ctx, 50), test.ShouldBeNil)
	test.That(t, right.SetVelocity(ctx, -50), test.ShouldBeNil)
	right.SetError(errors.New("stalled"))
	err = motor.StopAll(ctx, left, right)
	test.That(t, err, test.ShouldNotBeNil)
	vel, _ := left.Velocity(ctx)
	test.That(t, vel, test.ShouldEqual, 0)
	test.That(t, motor.BrakeHold.String(), test.ShouldEqual, "hold")
}
