// Package pursuit implements the reactive path controller. Every control period it re-plans the
// arc from the current pose estimate to the target and feeds the remaining wheel travels to a
// tracking loop, until the drive settles or overshoots.
package pursuit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/elliot2/motioncore/config"
	"github.com/elliot2/motioncore/logging"
	"github.com/elliot2/motioncore/operation"
	"github.com/elliot2/motioncore/robot"
	"github.com/elliot2/motioncore/tracking"
	"github.com/elliot2/motioncore/utils"
)

// MoveOptions tune a MoveTo.
type MoveOptions struct {
	// VelocityLimit is a fraction of the drive gearing. Non-positive limits make the move a no-op.
	VelocityLimit float64
	// StraightOnly drives along the line of sight instead of an arc.
	StraightOnly bool
	// Reverse drives the arc backwards.
	Reverse bool
	// SettleExtra keeps correcting for this long after the drive first settles or overshoots.
	SettleExtra time.Duration
}

// SteerFunc returns the wheel velocity ratio toward a moving target. ok is false once the
// target is reached or lost.
type SteerFunc func(ctx context.Context) (l, r float64, ok bool, err error)

// Controller drives the robot along planned arcs.
type Controller struct {
	state  *robot.State
	cfg    config.Config
	clk    clock.Clock
	logger logging.Logger
	opMgr  *operation.SingleOperationManager

	mu    sync.Mutex
	gains config.Gains
}

// NewController returns a controller for the robot in state.
func NewController(state *robot.State, cfg config.Config, clk clock.Clock, logger logging.Logger) *Controller {
	return &Controller{
		state:  state,
		cfg:    cfg,
		clk:    clk,
		logger: logger,
		opMgr:  operation.NewSingleOperationManager(clk),
		gains:  cfg.Tracking.Gains,
	}
}

// Gains returns the tracking gains used by new motions.
func (c *Controller) Gains() config.Gains {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gains
}

// SetGains changes the tracking gains of motions started afterwards.
func (c *Controller) SetGains(gains config.Gains) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gains = gains
}

func (c *Controller) newTracker(velocityLimit float64) *tracking.Tracker {
	cfg := c.cfg.Tracking
	cfg.Gains = c.Gains()
	return tracking.NewTracker(c.state.Left, c.state.Right, cfg, velocityLimit, c.clk, c.logger)
}

// A Motion is one step-driven closed-loop move. Step is called once per control period.
type Motion struct {
	name        string
	clk         clock.Clock
	tracker     *tracking.Tracker
	plan        func(ctx context.Context) (l, r float64, err error)
	direction   func(l, r float64) float64
	settleExtra time.Duration

	started     bool
	sign        float64
	settling    bool
	settleStart time.Time
	finished    bool
}

// Step re-plans, commands the drive and reports whether the motion has finished. A motion whose
// first plan has no travel finishes without commanding the drive.
func (m *Motion) Step(ctx context.Context) (bool, error) {
	if m.finished {
		return true, nil
	}
	l, r, err := m.plan(ctx)
	if err != nil {
		return false, err
	}
	if !m.started {
		m.started = true
		if l == 0 && r == 0 {
			m.finished = true
			return true, nil
		}
		m.sign = utils.Sign(m.direction(l, r))
	}

	done, err := m.tracker.StepRemaining(ctx, l, r)
	if err != nil {
		return false, err
	}

	if !m.settling {
		s := utils.Sign(m.direction(l, r))
		if done || (s != 0 && s != m.sign) {
			m.settling = true
			m.settleStart = m.clk.Now()
		}
	}
	if m.settling && m.clk.Since(m.settleStart) >= m.settleExtra {
		m.finished = true
		return true, m.tracker.Stop(ctx)
	}
	return false, nil
}

// Stop stops the drive and ends the motion.
func (m *Motion) Stop(ctx context.Context) error {
	m.finished = true
	return m.tracker.Stop(ctx)
}

func translation(l, r float64) float64 { return l + r }

func rotation(l, r float64) float64 { return r - l }

// NewMoveTo returns a motion to target, in counts.
func (c *Controller) NewMoveTo(target r2.Point, opts MoveOptions) *Motion {
	return &Motion{
		name:    "move to",
		clk:     c.clk,
		tracker: c.newTracker(opts.VelocityLimit),
		plan: func(ctx context.Context) (float64, float64, error) {
			pose := c.state.Estimator.Pose()
			cpr := c.state.Estimator.Calibration().CountsPerRadian
			l, r := PlanMove(pose, target, cpr, opts.StraightOnly, opts.Reverse)
			return l, r, nil
		},
		direction:   translation,
		settleExtra: opts.SettleExtra,
	}
}

// NewRotateTo returns a motion turning in place to heading, in radians.
func (c *Controller) NewRotateTo(heading, velocityLimit float64, settleExtra time.Duration) *Motion {
	return &Motion{
		name:    "rotate to",
		clk:     c.clk,
		tracker: c.newTracker(velocityLimit),
		plan: func(ctx context.Context) (float64, float64, error) {
			pose := c.state.Estimator.Pose()
			cpr := c.state.Estimator.Calibration().CountsPerRadian
			l, r := PlanRotate(pose.Heading, heading, cpr)
			return l, r, nil
		},
		direction:   rotation,
		settleExtra: settleExtra,
	}
}

// NewMoveDistance returns a motion driving both wheels distance counts, measured on the wheel
// encoders from the first step.
func (c *Controller) NewMoveDistance(distance, velocityLimit float64, settleExtra time.Duration) *Motion {
	var startL, startR float64
	var started bool
	return &Motion{
		name:    "move distance",
		clk:     c.clk,
		tracker: c.newTracker(velocityLimit),
		plan: func(ctx context.Context) (float64, float64, error) {
			l, err := c.state.Left.Position(ctx)
			if err != nil {
				return 0, 0, err
			}
			r, err := c.state.Right.Position(ctx)
			if err != nil {
				return 0, 0, err
			}
			if !started {
				startL, startR, started = l, r, true
			}
			return distance - (l - startL), distance - (r - startR), nil
		},
		direction:   translation,
		settleExtra: settleExtra,
	}
}

// MoveTo drives to target, in counts, and blocks until the motion finishes or ctx is done.
func (c *Controller) MoveTo(ctx context.Context, target r2.Point, opts MoveOptions) error {
	if opts.VelocityLimit <= 0 {
		c.logger.Debugw("ignoring move with no velocity", "target", target)
		return nil
	}
	return c.run(ctx, c.NewMoveTo(target, opts))
}

// RotateTo turns in place to heading and blocks until the motion finishes or ctx is done.
func (c *Controller) RotateTo(ctx context.Context, heading, velocityLimit float64, settleExtra time.Duration) error {
	if velocityLimit <= 0 {
		c.logger.Debugw("ignoring rotation with no velocity", "heading", heading)
		return nil
	}
	return c.run(ctx, c.NewRotateTo(heading, velocityLimit, settleExtra))
}

// MoveDistance drives straight for distance counts, negative for backwards, and blocks until the
// motion finishes or ctx is done.
func (c *Controller) MoveDistance(ctx context.Context, distance, velocityLimit float64, settleExtra time.Duration) error {
	if velocityLimit <= 0 {
		c.logger.Debugw("ignoring straight move with no velocity", "distance", distance)
		return nil
	}
	return c.run(ctx, c.NewMoveDistance(distance, velocityLimit, settleExtra))
}

func (c *Controller) run(ctx context.Context, m *Motion) error {
	ctx, done := c.opMgr.New(ctx)
	defer done()

	ticker := c.clk.Ticker(c.cfg.Control.Period())
	defer ticker.Stop()
	start := c.clk.Now()
	for {
		finished, err := m.Step(ctx)
		if err != nil {
			return multierr.Combine(errors.Wrapf(err, "%s failed", m.name), m.Stop(context.Background()))
		}
		if finished {
			c.logger.Debugw("motion finished", "motion", m.name, "elapsed", c.clk.Since(start))
			return nil
		}
		select {
		case <-ctx.Done():
			return multierr.Combine(ctx.Err(), m.Stop(context.Background()))
		case <-ticker.C:
		}
	}
}

// Direct drives the wheels open loop at fractions of the gearing for d, then stops. A
// non-positive d leaves the wheels running.
func (c *Controller) Direct(ctx context.Context, left, right float64, d time.Duration) error {
	ctx, done := c.opMgr.New(ctx)
	defer done()

	maxRPM := c.state.DriveMaxRPM()
	if err := c.state.SetDriveVelocity(ctx, left*maxRPM, right*maxRPM); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	if !utils.SelectContextOrWaitClock(ctx, c.clk, d) {
		return multierr.Combine(ctx.Err(), c.state.StopDrive(context.Background()))
	}
	return c.state.StopDrive(ctx)
}

// Follow steers toward a moving target without ever decelerating, until steer reports done.
func (c *Controller) Follow(ctx context.Context, steer SteerFunc, velocityLimit float64) error {
	ctx, done := c.opMgr.New(ctx)
	defer done()

	tracker := c.newTracker(velocityLimit)
	ticker := c.clk.Ticker(c.cfg.Control.Period())
	defer ticker.Stop()
	for {
		l, r, ok, err := steer(ctx)
		if err != nil {
			return multierr.Combine(errors.Wrap(err, "cannot steer"), tracker.Stop(context.Background()))
		}
		if !ok || (l == 0 && r == 0) {
			return tracker.Stop(ctx)
		}
		// keep the larger side at full ratio so the velocity limit applies to it.
		scale := math.Max(math.Abs(l), math.Abs(r))
		if _, err := tracker.StepRatio(ctx, l/scale, r/scale); err != nil {
			return multierr.Combine(err, tracker.Stop(context.Background()))
		}
		select {
		case <-ctx.Done():
			return multierr.Combine(ctx.Err(), tracker.Stop(context.Background()))
		case <-ticker.C:
		}
	}
}

// Stop cancels the running motion and stops the drive.
func (c *Controller) Stop(ctx context.Context) error {
	c.opMgr.CancelRunning(ctx)
	return c.state.StopDrive(ctx)
}
