package sim

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/elliot2/motioncore/config"
	"github.com/elliot2/motioncore/logging"
	"github.com/elliot2/motioncore/script"
	"github.com/elliot2/motioncore/script/store"
)

const cpi = config.DefaultCountsPerInch

type routines map[string][]script.Instruction

func (r routines) Routine(name string) ([]script.Instruction, bool) {
	insts, ok := r[name]
	return insts, ok
}

var scenario = routines{
	"scenario": {
		script.Origin{},
		script.Position{X: 24, Velocity: 1},
	},
}

func newRobot(t *testing.T, source routines) (*Robot, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	r, err := New(config.Default(), source, mock, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.Start(context.Background()), test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, r.Close(context.Background()), test.ShouldBeNil)
	})
	return r, mock
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Drive.MaxRPM = 0
	_, err := New(cfg, nil, clock.NewMock(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestScenario(t *testing.T) {
	r, mock := newRobot(t, scenario)
	err := RunWithMockClock(context.Background(), mock, 5*time.Millisecond, func(ctx context.Context) error {
		return r.RunRoutine(ctx, "scenario", false)
	})
	test.That(t, err, test.ShouldBeNil)

	pose := r.Estimator.Pose()
	test.That(t, pose.X, test.ShouldAlmostEqual, 24*cpi, 0.5*cpi)
	test.That(t, pose.Y, test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, pose.Heading, test.ShouldAlmostEqual, 0, 1e-6)
}

func TestMirroredScenario(t *testing.T) {
	r, mock := newRobot(t, scenario)
	err := RunWithMockClock(context.Background(), mock, 5*time.Millisecond, func(ctx context.Context) error {
		return r.RunRoutine(ctx, "scenario", true)
	})
	test.That(t, err, test.ShouldBeNil)

	pose := r.Estimator.Pose()
	test.That(t, pose.X, test.ShouldAlmostEqual, 120*cpi, 0.5*cpi)
	test.That(t, pose.Y, test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, pose.Heading, test.ShouldAlmostEqual, math.Pi, 1e-6)
}

func TestStoredRoutine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "save.json")
	test.That(t, os.WriteFile(path, []byte(`{
		"autons": {
			"skills": [
				{"type": "origin", "name": "ORIGIN", "x": 12, "y": 12, "o": 0},
				{"type": "intake", "v": 1, "t": 0},
				{"type": "position", "x": 24, "y": 24, "v": 0.8, "t": 0.1},
				{"type": "rotateTo", "o": 0, "v": 0.6, "t": 0},
				{"type": "shoot"},
				{"type": "intake", "v": 0, "t": 0},
				{"type": "sline", "d": -6, "v": 1, "t": 0}
			]
		}
	}`), 0o600), test.ShouldBeNil)
	s, err := store.Open(path, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	mock := clock.NewMock()
	r, err := New(config.Default(), s, mock, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.Start(context.Background()), test.ShouldBeNil)
	defer func() {
		test.That(t, r.Close(context.Background()), test.ShouldBeNil)
	}()

	err = RunWithMockClock(context.Background(), mock, 5*time.Millisecond, func(ctx context.Context) error {
		return r.RunRoutine(ctx, "skills", false)
	})
	test.That(t, err, test.ShouldBeNil)

	pose := r.Estimator.Pose()
	test.That(t, pose.Heading, test.ShouldAlmostEqual, 0, 0.06)
	// the arc ends at (36, 36); facing +x again, the robot backs off six inches.
	test.That(t, pose.X, test.ShouldAlmostEqual, 30*cpi, 1.5*cpi)
	test.That(t, pose.Y, test.ShouldAlmostEqual, 36*cpi, 1.5*cpi)
	test.That(t, r.Catapult.Shots(), test.ShouldEqual, 1)
	v, err := r.Intake.Velocity(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 0)
}

func TestCancelRoutine(t *testing.T) {
	r, mock := newRobot(t, routines{
		"long": {
			script.Origin{},
			script.Position{X: 100, Velocity: 0.5},
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	mock.AfterFunc(500*time.Millisecond, cancel)

	err := RunWithMockClock(ctx, mock, 5*time.Millisecond, func(ctx context.Context) error {
		return r.RunRoutine(ctx, "long", false)
	})
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)

	l, err := r.Left.Velocity(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, l, test.ShouldEqual, 0)
	test.That(t, r.Estimator.Pose().X, test.ShouldBeLessThan, 100*cpi)

	// control was handed back.
	test.That(t, r.State.TryTakeControl(), test.ShouldBeTrue)
}
