// Package autonomous interprets motion scripts. A Runner walks a routine step by step, turning
// authored coordinates into encoder counts, composing them with the running offset and mirroring
// them for the opposite alliance before handing them to the path controller.
package autonomous

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/elliot2/motioncore/components/effector"
	"github.com/elliot2/motioncore/components/motor"
	"github.com/elliot2/motioncore/config"
	"github.com/elliot2/motioncore/logging"
	"github.com/elliot2/motioncore/odometry"
	"github.com/elliot2/motioncore/operation"
	"github.com/elliot2/motioncore/pursuit"
	"github.com/elliot2/motioncore/robot"
	"github.com/elliot2/motioncore/script"
	"github.com/elliot2/motioncore/utils"
)

// Driver is the set of motion primitives a script sequences.
type Driver interface {
	MoveTo(ctx context.Context, target r2.Point, opts pursuit.MoveOptions) error
	RotateTo(ctx context.Context, heading, velocityLimit float64, settleExtra time.Duration) error
	MoveDistance(ctx context.Context, distance, velocityLimit float64, settleExtra time.Duration) error
	Direct(ctx context.Context, left, right float64, d time.Duration) error
	Stop(ctx context.Context) error
}

var _ Driver = &pursuit.Controller{}

// RoutineSource looks routines up by name.
type RoutineSource interface {
	Routine(name string) ([]script.Instruction, bool)
}

// A source that keeps routines which failed to load reports why through RoutineError.
type brokenRoutineSource interface {
	RoutineError(name string) error
}

// Offset is added to the authored coordinates of later steps. X and Y are counts.
type Offset struct {
	X, Y, Heading float64
}

// Result describes one finished step.
type Result struct {
	Index   int
	Kind    script.Kind
	Label   string
	Pose    odometry.Pose
	Elapsed time.Duration
	Err     error
}

// An Observer is told about every step a Runner finishes.
type Observer func(Result)

// Runner executes scripts against a robot.
type Runner struct {
	state    *robot.State
	driver   Driver
	routines RoutineSource
	cfg      config.Config
	clk      clock.Clock
	logger   logging.Logger
	opMgr    *operation.SingleOperationManager

	mu        sync.Mutex
	observers []Observer
}

// NewRunner returns a Runner. routines may be nil, in which case no routine can be run by name.
func NewRunner(
	state *robot.State,
	driver Driver,
	routines RoutineSource,
	cfg config.Config,
	clk clock.Clock,
	logger logging.Logger,
) *Runner {
	return &Runner{
		state:    state,
		driver:   driver,
		routines: routines,
		cfg:      cfg,
		clk:      clk,
		logger:   logger,
		opMgr:    operation.NewSingleOperationManager(clk),
	}
}

// Observe registers o to be called after every step.
func (r *Runner) Observe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Runner) notify(res Result) {
	r.mu.Lock()
	observers := append([]Observer(nil), r.observers...)
	r.mu.Unlock()
	for _, o := range observers {
		o(res)
	}
}

// Run executes insts in order, starting from a zero offset. The drive coasts for the whole run
// and gets its previous brake mode back when Run returns, even on error. A Run cancels any
// Run already in progress.
func (r *Runner) Run(ctx context.Context, insts []script.Instruction, mirror bool) (err error) {
	ctx, done := r.opMgr.New(ctx)
	defer done()

	oldBrake, err := r.state.DriveBrakeMode(ctx)
	if err != nil {
		return errors.Wrap(err, "cannot read brake mode")
	}
	if err := r.state.SetDriveBrakeMode(ctx, motor.BrakeCoast); err != nil {
		return errors.Wrap(err, "cannot set brake mode")
	}
	defer func() {
		err = multierr.Combine(err, r.state.SetDriveBrakeMode(context.Background(), oldBrake))
	}()

	var offset Offset
	for i, inst := range insts {
		start := r.clk.Now()
		stepErr := r.RunSingle(ctx, inst, &offset, mirror)
		r.notify(Result{
			Index:   i,
			Kind:    inst.Kind(),
			Label:   inst.Label(),
			Pose:    r.state.Estimator.Pose(),
			Elapsed: r.clk.Since(start),
			Err:     stepErr,
		})
		if stepErr != nil {
			return errors.Wrapf(stepErr, "step %d (%s)", i, inst.Label())
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// RunSingle executes one instruction with the given offset, which origin and delta steps
// replace.
func (r *Runner) RunSingle(ctx context.Context, inst script.Instruction, offset *Offset, mirror bool) error {
	cpi := r.state.Estimator.Calibration().CountsPerInch
	switch inst := inst.(type) {
	case script.Position:
		target := r2.Point{X: inst.X*cpi + offset.X, Y: inst.Y*cpi + offset.Y}
		if mirror {
			target.X = MirrorX(target.X, r.fieldWidth())
		}
		return r.driver.MoveTo(ctx, target, pursuit.MoveOptions{
			VelocityLimit: inst.Velocity,
			StraightOnly:  inst.Straight,
			Reverse:       inst.Reverse,
			SettleExtra:   script.Seconds(inst.Settle),
		})
	case script.RotateTo:
		heading := inst.Heading + offset.Heading
		if mirror {
			heading = MirrorHeading(heading)
		}
		return r.driver.RotateTo(ctx, heading, inst.Velocity, script.Seconds(inst.Settle))
	case script.Origin:
		pose := odometry.Pose{X: inst.X * cpi, Y: inst.Y * cpi, Heading: inst.Heading}
		// the offset stays in authored coordinates; only the estimate is mirrored.
		*offset = Offset{X: pose.X, Y: pose.Y}
		if mirror {
			pose = MirrorPose(pose, r.fieldWidth())
		}
		r.state.Estimator.SetPose(pose)
		r.logger.Debugw("re-anchored pose", "pose", pose)
	case script.Delta:
		*offset = Offset{X: inst.X * cpi, Y: inst.Y * cpi, Heading: inst.Heading}
	case script.Direct:
		return r.driver.Direct(ctx, inst.Left, inst.Right, script.Seconds(inst.Duration))
	case script.Effector:
		return r.runEffector(ctx, inst)
	case script.Arm:
		return r.moveArm(ctx, inst)
	case script.Shoot:
		return r.shoot(ctx)
	case script.Delay:
		if !utils.SelectContextOrWaitClock(ctx, r.clk, script.Seconds(inst.Duration)) {
			return ctx.Err()
		}
	case script.Brake:
		return r.state.SetDriveBrakeMode(ctx, brakeModes[inst.Mode])
	case script.SLine:
		return r.driver.MoveDistance(ctx, inst.Distance*cpi, inst.Velocity, script.Seconds(inst.Settle))
	default:
		r.logger.Debugw("skipping unknown instruction", "type", inst.Kind(), "label", inst.Label())
	}
	return nil
}

var brakeModes = map[script.Kind]motor.BrakeMode{
	script.KindHold:  motor.BrakeHold,
	script.KindCoast: motor.BrakeCoast,
	script.KindShort: motor.BrakeBrake,
}

func (r *Runner) runEffector(ctx context.Context, inst script.Effector) error {
	var target effector.Velocity
	switch inst.Target {
	case script.KindIntake:
		target = r.state.Intake
	case script.KindScorer:
		target = r.state.Scorer
	case script.KindCatapult:
		if r.state.Catapult != nil {
			target = r.state.Catapult
		}
	}
	if target == nil {
		return errors.Errorf("robot has no %s", inst.Target)
	}

	if err := target.SetVelocity(ctx, inst.Velocity*target.Gearing()); err != nil {
		return errors.Wrapf(err, "cannot run %s", inst.Target)
	}
	d := script.Seconds(inst.Duration)
	if d == 0 {
		return nil
	}
	if !utils.SelectContextOrWaitClock(ctx, r.clk, d) {
		return multierr.Combine(ctx.Err(), target.SetVelocity(context.Background(), 0))
	}
	return target.SetVelocity(ctx, 0)
}

func (r *Runner) moveArm(ctx context.Context, inst script.Arm) error {
	if r.state.Arm == nil {
		return errors.New("robot has no arm")
	}
	if err := r.state.Arm.MoveTo(ctx, inst.Position); err != nil {
		return errors.Wrap(err, "cannot move arm")
	}
	timeout := script.Seconds(inst.Timeout)
	if timeout == 0 {
		return nil
	}
	waitCtx, cancel := r.clk.WithTimeout(ctx, timeout)
	defer cancel()
	err := r.opMgr.WaitForSuccess(waitCtx, r.cfg.Control.Poll(), r.state.Arm.IsDone)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		r.logger.Infow("arm still moving, continuing", "target", inst.Position, "timeout", timeout)
		return nil
	}
	return err
}

func (r *Runner) shoot(ctx context.Context) error {
	if r.state.Catapult == nil {
		return errors.New("robot has no catapult")
	}
	if err := r.state.Catapult.GoToSwitch(ctx); err != nil {
		return errors.Wrap(err, "cannot fire catapult")
	}
	return r.opMgr.WaitForSuccess(ctx, r.cfg.Control.Poll(), func(ctx context.Context) (bool, error) {
		going, err := r.state.Catapult.IsGoingToSwitch(ctx)
		return !going, err
	})
}

// RunNamed runs the routine called name. An unknown name or a routine that failed to load is
// logged and leaves the robot where it is.
func (r *Runner) RunNamed(ctx context.Context, name string, mirror bool) error {
	var insts []script.Instruction
	ok := false
	if r.routines != nil {
		insts, ok = r.routines.Routine(name)
	}
	if !ok {
		if src, isBroken := r.routines.(brokenRoutineSource); isBroken {
			if err := src.RoutineError(name); err != nil {
				r.logger.Warnw("routine failed to load, staying put", "name", name, "error", err)
				return nil
			}
		}
		r.logger.Warnw("no routine with this name, staying put", "name", name)
		return nil
	}
	r.logger.Infow("running routine", "name", name, "mirrored", mirror, "steps", len(insts))
	return r.Run(ctx, insts, mirror)
}

// Autonomous runs the routine called name for the alliance side selected on the robot.
func (r *Runner) Autonomous(ctx context.Context, name string) error {
	return r.RunNamed(ctx, name, r.state.Mirrored())
}

// Stop cancels the running script and stops every actuator.
func (r *Runner) Stop(ctx context.Context) error {
	r.opMgr.CancelRunning(ctx)
	return multierr.Combine(r.driver.Stop(ctx), r.state.StopAll(ctx))
}

func (r *Runner) fieldWidth() float64 {
	return r.cfg.Field.WidthInches * r.state.Estimator.Calibration().CountsPerInch
}

// MirrorX reflects x, in counts, across the center line of a field width counts wide.
func MirrorX(x, width float64) float64 {
	return width - x
}

// MirrorHeading reflects a heading for the opposite alliance.
func MirrorHeading(heading float64) float64 {
	return math.Pi - heading
}

// MirrorPose reflects a pose for the opposite alliance.
func MirrorPose(p odometry.Pose, width float64) odometry.Pose {
	return odometry.Pose{X: MirrorX(p.X, width), Y: p.Y, Heading: MirrorHeading(p.Heading)}
}
