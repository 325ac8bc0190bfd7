// Package sim wires a complete simulated robot: fake drive motors and end-effectors, the pose
// estimator, the path controller and the script interpreter, all sharing one clock.
package sim

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/elliot2/motioncore/autonomous"
	fakeeffector "github.com/elliot2/motioncore/components/effector/fake"
	fakemotor "github.com/elliot2/motioncore/components/motor/fake"
	"github.com/elliot2/motioncore/config"
	"github.com/elliot2/motioncore/logging"
	"github.com/elliot2/motioncore/odometry"
	"github.com/elliot2/motioncore/pursuit"
	"github.com/elliot2/motioncore/robot"
)

// Robot is a simulated robot.
type Robot struct {
	Config     config.Config
	Clock      clock.Clock
	Left       *fakemotor.Motor
	Right      *fakemotor.Motor
	Intake     *fakeeffector.Roller
	Scorer     *fakeeffector.Roller
	Catapult   *fakeeffector.Catapult
	Arm        *fakeeffector.Arm
	Estimator  *odometry.Estimator
	State      *robot.State
	Controller *pursuit.Controller
	Runner     *autonomous.Runner
}

// New builds a simulated robot from cfg. routines may be nil.
func New(cfg config.Config, routines autonomous.RoutineSource, clk clock.Clock, logger logging.Logger) (*Robot, error) {
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	r := &Robot{Config: cfg, Clock: clk}
	var err error
	if r.Left, err = fakemotor.NewMotor("left", cfg.Drive.MaxRPM, cfg.Drive.TicksPerRevolution, clk,
		logger.Sublogger("left")); err != nil {
		return nil, err
	}
	if r.Right, err = fakemotor.NewMotor("right", cfg.Drive.MaxRPM, cfg.Drive.TicksPerRevolution, clk,
		logger.Sublogger("right")); err != nil {
		return nil, err
	}
	r.Intake = fakeeffector.NewRoller("intake", cfg.Effectors.IntakeRPM, clk)
	r.Scorer = fakeeffector.NewRoller("scorer", cfg.Effectors.ScorerRPM, clk)
	r.Catapult = fakeeffector.NewCatapult(cfg.Effectors.CatapultRPM,
		time.Duration(cfg.Effectors.CatapultCycleMs)*time.Millisecond, clk)
	r.Arm = fakeeffector.NewArm(cfg.Effectors.ArmSpeed, clk)

	r.Estimator, err = odometry.NewEstimator(r.Left, r.Right, cfg.Odometry, cfg.Calibration, clk,
		logger.Sublogger("odometry"))
	if err != nil {
		return nil, err
	}
	r.State, err = robot.NewState(robot.Parts{
		Estimator: r.Estimator,
		Left:      r.Left,
		Right:     r.Right,
		Intake:    r.Intake,
		Scorer:    r.Scorer,
		Catapult:  r.Catapult,
		Arm:       r.Arm,
	}, logger.Sublogger("state"))
	if err != nil {
		return nil, err
	}
	r.Controller = pursuit.NewController(r.State, cfg, clk, logger.Sublogger("pursuit"))
	r.Runner = autonomous.NewRunner(r.State, r.Controller, routines, cfg, clk, logger.Sublogger("autonomous"))
	return r, nil
}

// Start seeds the pose estimator and starts its background loop.
func (r *Robot) Start(ctx context.Context) error {
	if err := r.Estimator.Tick(ctx); err != nil {
		return errors.Wrap(err, "cannot seed odometry")
	}
	r.Estimator.Start()
	return nil
}

// RunRoutine takes control of the robot, runs the routine called name and gives control back.
func (r *Robot) RunRoutine(ctx context.Context, name string, mirror bool) (err error) {
	if err := r.State.TakeControl(ctx); err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, r.State.GiveControl(context.Background()))
	}()
	return r.Runner.RunNamed(ctx, name, mirror)
}

// Close stops every actuator and the estimator.
func (r *Robot) Close(ctx context.Context) error {
	err := r.Runner.Stop(ctx)
	r.Estimator.Close()
	return err
}

// RunWithMockClock runs fn while advancing mock by step, until fn returns or ctx is done.
func RunWithMockClock(ctx context.Context, mock *clock.Mock, step time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- fn(ctx)
	}()
	for {
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			if err := <-errCh; err != nil {
				return err
			}
			return ctx.Err()
		default:
		}
		mock.Add(step)
	}
}
