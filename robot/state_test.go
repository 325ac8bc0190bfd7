package robot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	fakeeffector "github.com/elliot2/motioncore/components/effector/fake"
	"github.com/elliot2/motioncore/components/motor"
	fakemotor "github.com/elliot2/motioncore/components/motor/fake"
	"github.com/elliot2/motioncore/config"
	"github.com/elliot2/motioncore/logging"
	"github.com/elliot2/motioncore/odometry"
)

func newTestState(t *testing.T) (*State, *fakemotor.Motor, *fakemotor.Motor, *fakeeffector.Roller) {
	t.Helper()
	logger := logging.NewTestLogger(t)
	mock := clock.NewMock()
	cfg := config.Default()
	left, err := fakemotor.NewMotor("left", 200, 900, mock, logger)
	test.That(t, err, test.ShouldBeNil)
	right, err := fakemotor.NewMotor("right", 200, 900, mock, logger)
	test.That(t, err, test.ShouldBeNil)
	est, err := odometry.NewEstimator(left, right, cfg.Odometry, cfg.Calibration, mock, logger)
	test.That(t, err, test.ShouldBeNil)
	intake := fakeeffector.NewRoller("intake", 600, mock)
	state, err := NewState(Parts{
		Estimator: est,
		Left:      left,
		Right:     right,
		Intake:    intake,
		Catapult:  fakeeffector.NewCatapult(100, time.Second, mock),
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	return state, left, right, intake
}

func TestNewStateRequiresDrive(t *testing.T) {
	_, err := NewState(Parts{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestMirrored(t *testing.T) {
	state, _, _, _ := newTestState(t)
	test.That(t, state.Mirrored(), test.ShouldBeFalse)
	state.SetMirrored(true)
	test.That(t, state.Mirrored(), test.ShouldBeTrue)
}

func TestControlHandOff(t *testing.T) {
	ctx := context.Background()
	state, left, _, _ := newTestState(t)
	test.That(t, state.SetDriveBrakeMode(ctx, motor.BrakeHold), test.ShouldBeNil)

	test.That(t, state.TakeControl(ctx), test.ShouldBeNil)
	test.That(t, state.TryTakeControl(), test.ShouldBeFalse)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	test.That(t, state.TakeControl(waitCtx), test.ShouldNotBeNil)

	test.That(t, state.GiveControl(ctx), test.ShouldBeNil)
	mode, err := left.BrakeMode(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mode, test.ShouldEqual, motor.BrakeCoast)
	test.That(t, state.TryTakeControl(), test.ShouldBeTrue)
	test.That(t, state.GiveControl(ctx), test.ShouldBeNil)
}

func TestGiveControlNotHeld(t *testing.T) {
	ctx := context.Background()
	state, _, _, _ := newTestState(t)

	err := state.GiveControl(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not held")

	test.That(t, state.TakeControl(ctx), test.ShouldBeNil)
	test.That(t, state.GiveControl(ctx), test.ShouldBeNil)
	test.That(t, state.GiveControl(ctx), test.ShouldNotBeNil)
	test.That(t, state.TryTakeControl(), test.ShouldBeTrue)
}

func TestDriveCommands(t *testing.T) {
	ctx := context.Background()
	state, left, right, intake := newTestState(t)

	test.That(t, state.SetDriveVelocity(ctx, 100, -50), test.ShouldBeNil)
	l, _ := left.Velocity(ctx)
	r, _ := right.Velocity(ctx)
	test.That(t, l, test.ShouldEqual, 100)
	test.That(t, r, test.ShouldEqual, -50)
	test.That(t, state.DriveMaxRPM(), test.ShouldEqual, 200)

	test.That(t, intake.SetVelocity(ctx, 300), test.ShouldBeNil)
	test.That(t, state.StopAll(ctx), test.ShouldBeNil)
	l, _ = left.Velocity(ctx)
	v, _ := intake.Velocity(ctx)
	test.That(t, l, test.ShouldEqual, 0)
	test.That(t, v, test.ShouldEqual, 0)

	right.SetError(errors.New("tripped"))
	test.That(t, state.SetDriveVelocity(ctx, 10, 10), test.ShouldNotBeNil)
	test.That(t, state.StopAll(ctx), test.ShouldNotBeNil)

	test.That(t, state.SetDriveBrakeMode(ctx, motor.BrakeBrake), test.ShouldNotBeNil)
	mode, err := state.DriveBrakeMode(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mode, test.ShouldEqual, motor.BrakeBrake)
}
