// Package tracking drives both sides of the drivetrain toward a pair of wheel travels.
//
// A single PID runs on the side with the larger travel. Its normalized output scales both wheel
// velocities by the same factor, so the ratio between the sides, and with it the curvature of
// the path, is preserved while the robot accelerates and settles.
package tracking

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/elliot2/motioncore/components/motor"
	"github.com/elliot2/motioncore/config"
	"github.com/elliot2/motioncore/control"
	"github.com/elliot2/motioncore/logging"
)

const (
	// farTarget turns a velocity ratio into travels too long to ever start decelerating.
	farTarget = 1e5
	// defaultStep stands in for dt when the clock has not advanced since the previous step.
	defaultStep = 10 * time.Millisecond
)

// Targets are wheel travels in encoder counts.
type Targets struct {
	L float64
	R float64
}

// dominant returns the larger magnitude of the pair.
func (t Targets) dominant() float64 {
	return math.Max(math.Abs(t.L), math.Abs(t.R))
}

// Tracker is an acceleration-limited follower of a pair of wheel travels.
type Tracker struct {
	left, right motor.Group
	clk         clock.Clock
	logger      logging.Logger

	mu            sync.Mutex
	cfg           config.Tracking
	velocityLimit float64
	pid           *control.PID
	limiter       *control.RiseLimiter
	targets       Targets
	targetsSet    bool
	followLeft    bool
	stepped       bool
	lastStep      time.Time
}

// NewTracker returns a tracker commanding left and right. velocityLimit is a fraction of the
// drive gearing.
func NewTracker(
	left, right motor.Group,
	cfg config.Tracking,
	velocityLimit float64,
	clk clock.Clock,
	logger logging.Logger,
) *Tracker {
	return &Tracker{
		left:          left,
		right:         right,
		clk:           clk,
		logger:        logger,
		cfg:           cfg,
		velocityLimit: velocityLimit,
		pid:           control.NewPID(cfg.Gains, 0, 1),
		limiter:       control.NewRiseLimiter(cfg.AccelLimit),
	}
}

// SetTargets sets the travels to reach. The side with the larger magnitude is followed by the PID.
func (t *Tracker) SetTargets(l, r float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setTargetsLocked(Targets{L: l, R: r})
}

func (t *Tracker) setTargetsLocked(targets Targets) {
	t.targets = targets
	t.targetsSet = true
	t.followLeft = math.Abs(targets.L) > math.Abs(targets.R)
	t.pid.Reset()
	t.pid.SetTarget(targets.dominant())
}

// Targets returns the current targets and whether they are set.
func (t *Tracker) Targets() (Targets, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.targets, t.targetsSet
}

// Step commands the drive for the measured progress since the targets were set and reports
// whether the drive has settled.
func (t *Tracker) Step(ctx context.Context, progressL, progressR float64) (bool, error) {
	t.mu.Lock()
	targets := t.targets
	if targets.L == 0 && targets.R == 0 {
		t.limiter.Reset()
		t.mu.Unlock()
		return true, t.stopMotors(ctx)
	}

	now := t.clk.Now()
	dt := now.Sub(t.lastStep)
	if !t.stepped || dt <= 0 {
		dt = defaultStep
	}
	t.stepped = true
	t.lastStep = now

	remaining := Targets{L: targets.L - progressL, R: targets.R - progressR}
	dominantRemaining := math.Abs(remaining.R)
	if t.followLeft {
		dominantRemaining = math.Abs(remaining.L)
	}
	out := t.pid.Next(targets.dominant()-dominantRemaining, dt)
	out = t.limiter.Next(out, dt)

	var velL, velR float64
	if higher := remaining.dominant(); higher > 0 {
		scale := t.velocityLimit * t.left.MaxRPM() / higher
		velL = scale * remaining.L * out
		velR = scale * remaining.R * out
	}
	t.mu.Unlock()

	if err := multierr.Combine(t.left.SetVelocity(ctx, velL), t.right.SetVelocity(ctx, velR)); err != nil {
		return false, errors.Wrap(err, "cannot command drive")
	}
	return t.Done(ctx)
}

// StepRemaining steps with the remaining travels instead of the progress. The first call after
// Reset takes its arguments as the targets.
func (t *Tracker) StepRemaining(ctx context.Context, l, r float64) (bool, error) {
	t.mu.Lock()
	if !t.targetsSet {
		t.setTargetsLocked(Targets{L: l, R: r})
	}
	targets := t.targets
	t.mu.Unlock()
	return t.Step(ctx, targets.L-l, targets.R-r)
}

// StepRatio steps toward a velocity ratio without ever decelerating. It is used to follow a
// moving target whose distance is unknown.
func (t *Tracker) StepRatio(ctx context.Context, l, r float64) (bool, error) {
	return t.StepRemaining(ctx, l*farTarget, r*farTarget)
}

// Done reports whether both sides are nearly stopped and the followed side is close to its target.
func (t *Tracker) Done(ctx context.Context) (bool, error) {
	velL, err := t.left.Velocity(ctx)
	if err != nil {
		return false, err
	}
	velR, err := t.right.Velocity(ctx)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return math.Abs(velL) < t.cfg.SettleVelocityRPM &&
		math.Abs(velR) < t.cfg.SettleVelocityRPM &&
		math.Abs(t.pid.Error()) < t.cfg.SettleError, nil
}

// Reset forgets the targets and the controller state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets = Targets{}
	t.targetsSet = false
	t.stepped = false
	t.pid.Reset()
	t.limiter.Reset()
}

// Stop commands zero velocity on both sides.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	t.limiter.Reset()
	t.mu.Unlock()
	return t.stopMotors(ctx)
}

func (t *Tracker) stopMotors(ctx context.Context) error {
	if err := motor.StopAll(ctx, t.left, t.right); err != nil {
		return errors.Wrap(err, "cannot stop drive")
	}
	return nil
}

// SetVelocityLimit changes the velocity limit, a fraction of the drive gearing.
func (t *Tracker) SetVelocityLimit(limit float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.velocityLimit = limit
}

// SetGains changes the PID gains.
func (t *Tracker) SetGains(gains config.Gains) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg.Gains = gains
	t.pid.SetGains(gains)
	t.logger.Debugw("tracking gains changed", "kp", gains.Kp, "ki", gains.Ki, "kd", gains.Kd)
}
