// Package odometry implements dead-reckoning of the robot pose from the two drive encoders.
//
// Positions are kept in encoder counts and headings in radians, counter-clockwise positive.
// The estimator runs on its own periodic task; readers take snapshots and never block it for
// longer than a copy.
package odometry

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/elliot2/motioncore/config"
	"github.com/elliot2/motioncore/logging"
	"github.com/elliot2/motioncore/utils"
)

// straightThreshold is the per-sample heading change under which a sample is integrated as a
// straight segment.
const straightThreshold = 1e-4

// Pose is a position in encoder counts and a heading in radians.
type Pose struct {
	X       float64
	Y       float64
	Heading float64
}

// Point returns the position of the pose.
func (p Pose) Point() r2.Point {
	return r2.Point{X: p.X, Y: p.Y}
}

// EncoderReader reads a cumulative encoder count.
type EncoderReader interface {
	Position(ctx context.Context) (float64, error)
}

// Estimator integrates encoder deltas into a Pose.
type Estimator struct {
	left, right EncoderReader
	clk         clock.Clock
	period      time.Duration
	logger      logging.Logger

	// mu guards pose, generation and cal.
	mu         sync.Mutex
	pose       Pose
	generation uint64
	cal        config.Calibration

	// tickMu serializes ticks and guards the sample windows.
	tickMu       sync.Mutex
	leftWindow   *utils.RollingAverage
	rightWindow  *utils.RollingAverage
	lastL, lastR float64

	startOnce               sync.Once
	cancelCtx               context.Context
	cancel                  context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
}

// NewEstimator returns an estimator at the origin. Call Start to run it periodically, or Tick
// to step it by hand.
func NewEstimator(
	left, right EncoderReader,
	cfg config.Odometry,
	cal config.Calibration,
	clk clock.Clock,
	logger logging.Logger,
) (*Estimator, error) {
	if err := cfg.Validate("odometry"); err != nil {
		return nil, err
	}
	if err := cal.Validate("gps"); err != nil {
		return nil, err
	}
	cancelCtx, cancel := context.WithCancel(context.Background())
	return &Estimator{
		left:        left,
		right:       right,
		clk:         clk,
		period:      cfg.Period(),
		logger:      logger,
		cal:         cal,
		leftWindow:  utils.NewRollingAverage(cfg.Window),
		rightWindow: utils.NewRollingAverage(cfg.Window),
		cancelCtx:   cancelCtx,
		cancel:      cancel,
	}, nil
}

// Pose returns a snapshot of the current pose.
func (e *Estimator) Pose() Pose {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pose
}

// SetPose re-anchors the estimate. A sample being integrated concurrently is dropped.
func (e *Estimator) SetPose(p Pose) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pose = p
	e.generation++
}

// Tick reads both encoders and integrates the change of their smoothed counts.
func (e *Estimator) Tick(ctx context.Context) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	l, err := e.left.Position(ctx)
	if err != nil {
		return errors.Wrap(err, "cannot read left encoder")
	}
	r, err := e.right.Position(ctx)
	if err != nil {
		return errors.Wrap(err, "cannot read right encoder")
	}

	if !e.leftWindow.Seeded() {
		e.leftWindow.Seed(l)
		e.rightWindow.Seed(r)
		e.lastL, e.lastR = l, r
		return nil
	}
	e.leftWindow.Add(l)
	e.rightWindow.Add(r)
	avgL, avgR := e.leftWindow.Average(), e.rightWindow.Average()
	dL, dR := avgL-e.lastL, avgR-e.lastR
	e.lastL, e.lastR = avgL, avgR

	e.addDelta(dL, dR)
	return nil
}

// AddDelta integrates one pair of wheel travels, in counts, into the pose. It is serialized with
// Tick.
func (e *Estimator) AddDelta(dL, dR float64) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	e.addDelta(dL, dR)
}

func (e *Estimator) addDelta(dL, dR float64) {
	if dL == 0 && dR == 0 {
		return
	}
	e.mu.Lock()
	start, gen, cpr := e.pose, e.generation, e.cal.CountsPerRadian
	e.mu.Unlock()

	next := Integrate(start, dL, dR, cpr)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		return
	}
	e.pose = next
}

// Integrate returns pose advanced by the wheel travels dL and dR (counts) on a drivetrain whose
// half track is cpr counts. A sample with both travels zero leaves the pose unchanged.
func Integrate(pose Pose, dL, dR, cpr float64) Pose {
	if dL == 0 && dR == 0 {
		return pose
	}
	dTheta := (dR - dL) / (2 * cpr)
	if math.Abs(dTheta) < straightThreshold {
		dx, dy := straightSegmentDelta(pose.Heading, dL, dR)
		pose.X += dx
		pose.Y += dy
		return pose
	}

	radius := cpr * (dR + dL) / (dR - dL)
	pose.X += (math.Sin(pose.Heading+dTheta) - math.Sin(pose.Heading)) * radius
	pose.Y += (math.Cos(pose.Heading) - math.Cos(pose.Heading+dTheta)) * radius
	pose.Heading += dTheta
	return pose
}

// straightSegmentDelta projects a nearly straight sample. The x component is taken from the left
// travel and the y component from the right travel.
func straightSegmentDelta(heading, dL, dR float64) (dx, dy float64) {
	return math.Cos(heading) * dL, math.Sin(heading) * dR
}

// Start runs Tick every period on the estimator clock until Close.
func (e *Estimator) Start() {
	e.startOnce.Do(e.start)
}

func (e *Estimator) start() {
	ticker := e.clk.Ticker(e.period)
	e.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		for {
			select {
			case <-e.cancelCtx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
			}
			if err := e.Tick(e.cancelCtx); err != nil {
				if e.cancelCtx.Err() != nil {
					continue
				}
				e.logger.Warnw("skipping odometry sample", "error", err)
			}
		}
	}, e.activeBackgroundWorkers.Done)
}

// Close stops the periodic task and waits for it to exit.
func (e *Estimator) Close() {
	e.cancel()
	e.activeBackgroundWorkers.Wait()
}

// Calibration returns the conversion factors in use.
func (e *Estimator) Calibration() config.Calibration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cal
}

// SetCPR changes the half track width in counts. Non-positive and non-finite values are rejected.
func (e *Estimator) SetCPR(cpr float64) error {
	if err := checkFactor("cpr", cpr); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cal.CountsPerRadian = cpr
	return nil
}

// SetCPI changes the counts per inch. Non-positive and non-finite values are rejected.
func (e *Estimator) SetCPI(cpi float64) error {
	if err := checkFactor("cpi", cpi); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cal.CountsPerInch = cpi
	return nil
}

// InchesToCounts converts a distance in inches to encoder counts.
func (e *Estimator) InchesToCounts(in float64) float64 {
	return in * e.Calibration().CountsPerInch
}

// CountsToInches converts encoder counts to inches.
func (e *Estimator) CountsToInches(counts float64) float64 {
	return counts / e.Calibration().CountsPerInch
}

// RadiansToCounts returns the travel of each wheel, in counts, for a turn in place of rad.
func (e *Estimator) RadiansToCounts(rad float64) float64 {
	return rad * e.Calibration().CountsPerRadian
}

// CountsToRadians returns the heading change for a turn in place of the given wheel travel.
func (e *Estimator) CountsToRadians(counts float64) float64 {
	return counts / e.Calibration().CountsPerRadian
}

func checkFactor(name string, v float64) error {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.Errorf("%s must be a positive number, got %v", name, v)
	}
	return nil
}
