package odometry

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/elliot2/motioncore/config"
	"github.com/elliot2/motioncore/logging"
)

const cpr = config.DefaultCountsPerRadian

type fakeEncoder struct {
	mu  sync.Mutex
	pos float64
	err error
}

func (f *fakeEncoder) Position(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos, f.err
}

func (f *fakeEncoder) add(d float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos += d
}

func (f *fakeEncoder) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newTestEstimator(t *testing.T, clk clock.Clock) (*Estimator, *fakeEncoder, *fakeEncoder) {
	t.Helper()
	left, right := &fakeEncoder{}, &fakeEncoder{}
	cfg := config.Default()
	est, err := NewEstimator(left, right, cfg.Odometry, cfg.Calibration, clk, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return est, left, right
}

func TestIntegrateClosure(t *testing.T) {
	// forward then backward.
	p := Integrate(Pose{}, 1000, 1000, cpr)
	test.That(t, p.X, test.ShouldAlmostEqual, 1000)
	p = Integrate(p, -1000, -1000, cpr)
	test.That(t, p.X, test.ShouldAlmostEqual, 0)
	test.That(t, p.Y, test.ShouldAlmostEqual, 0)

	// a square of straight legs and quarter turns in place.
	quarter := math.Pi / 2 * cpr
	p = Pose{}
	for i := 0; i < 4; i++ {
		p = Integrate(p, 2000, 2000, cpr)
		p = Integrate(p, -quarter, quarter, cpr)
	}
	test.That(t, p.X, test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, p.Y, test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, p.Heading, test.ShouldAlmostEqual, 2*math.Pi)
}

func TestIntegrateTurn(t *testing.T) {
	// right wheel forward, left backward turns counter-clockwise by k/cpr.
	const k = 300.0
	p := Integrate(Pose{X: 10, Y: 20}, -k, k, cpr)
	test.That(t, p.Heading, test.ShouldAlmostEqual, k/cpr)
	test.That(t, p.X, test.ShouldAlmostEqual, 10)
	test.That(t, p.Y, test.ShouldAlmostEqual, 20)

	p = Integrate(p, k, -k, cpr)
	test.That(t, p.Heading, test.ShouldAlmostEqual, 0)
}

func TestIntegrateArc(t *testing.T) {
	dL, dR := 900.0, 1100.0
	p := Integrate(Pose{}, dL, dR, cpr)

	dTheta := (dR - dL) / (2 * cpr)
	radius := cpr * (dR + dL) / (dR - dL)
	test.That(t, p.Heading, test.ShouldAlmostEqual, dTheta)
	test.That(t, p.X, test.ShouldAlmostEqual, radius*math.Sin(dTheta))
	test.That(t, p.Y, test.ShouldAlmostEqual, radius*(1-math.Cos(dTheta)))
	// the center travelled the mean of both wheels along the arc.
	test.That(t, radius*dTheta, test.ShouldAlmostEqual, (dL+dR)/2)
}

func TestIntegrateNearlyStraight(t *testing.T) {
	heading := math.Pi / 4
	dL, dR := 100.0, 100.01
	p := Integrate(Pose{Heading: heading}, dL, dR, cpr)
	test.That(t, p.X, test.ShouldAlmostEqual, math.Cos(heading)*dL)
	test.That(t, p.Y, test.ShouldAlmostEqual, math.Sin(heading)*dR)
	test.That(t, p.Heading, test.ShouldEqual, heading)

	test.That(t, Integrate(Pose{X: 1}, 0, 0, cpr), test.ShouldResemble, Pose{X: 1})
}

func TestTickWindow(t *testing.T) {
	ctx := context.Background()
	est, left, right := newTestEstimator(t, clock.NewMock())

	// a robot powered on with nonzero encoders does not jump.
	left.add(5000)
	right.add(5000)
	test.That(t, est.Tick(ctx), test.ShouldBeNil)
	test.That(t, est.Pose(), test.ShouldResemble, Pose{})

	// the window of two spreads a step over two samples.
	left.add(100)
	right.add(100)
	test.That(t, est.Tick(ctx), test.ShouldBeNil)
	test.That(t, est.Pose().X, test.ShouldAlmostEqual, 50)
	test.That(t, est.Tick(ctx), test.ShouldBeNil)
	test.That(t, est.Pose().X, test.ShouldAlmostEqual, 100)
	test.That(t, est.Tick(ctx), test.ShouldBeNil)
	test.That(t, est.Pose().X, test.ShouldAlmostEqual, 100)

	right.setErr(errors.New("disconnected"))
	err := est.Tick(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "right encoder")
}

func TestSetPoseIdempotent(t *testing.T) {
	est, _, _ := newTestEstimator(t, clock.NewMock())
	p := Pose{X: 1200, Y: -40, Heading: math.Pi / 3}
	est.SetPose(p)
	est.SetPose(p)
	test.That(t, est.Pose(), test.ShouldResemble, p)

	est.AddDelta(0, 0)
	test.That(t, est.Pose(), test.ShouldResemble, p)
	test.That(t, est.Pose().Point().X, test.ShouldEqual, 1200)
}

func TestAddDeltaConcurrent(t *testing.T) {
	ctx := context.Background()
	est, _, _ := newTestEstimator(t, clock.NewMock())
	test.That(t, est.Tick(ctx), test.ShouldBeNil)

	const workers, samples = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < samples; j++ {
				est.AddDelta(10, 10)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < samples; j++ {
				if err := est.Tick(ctx); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	test.That(t, est.Pose().X, test.ShouldEqual, workers*samples*10)
	test.That(t, est.Pose().Y, test.ShouldEqual, 0)
}

func TestCalibration(t *testing.T) {
	est, _, _ := newTestEstimator(t, clock.NewMock())
	test.That(t, est.SetCPR(0), test.ShouldNotBeNil)
	test.That(t, est.SetCPR(-2), test.ShouldNotBeNil)
	test.That(t, est.SetCPI(math.NaN()), test.ShouldNotBeNil)
	test.That(t, est.SetCPI(math.Inf(1)), test.ShouldNotBeNil)
	test.That(t, est.Calibration(), test.ShouldResemble, config.Default().Calibration)

	test.That(t, est.SetCPI(100), test.ShouldBeNil)
	test.That(t, est.SetCPR(400), test.ShouldBeNil)
	test.That(t, est.InchesToCounts(2), test.ShouldEqual, 200)
	test.That(t, est.CountsToInches(50), test.ShouldEqual, 0.5)
	test.That(t, est.RadiansToCounts(0.5), test.ShouldEqual, 200)
	test.That(t, est.CountsToRadians(800), test.ShouldEqual, 2)

	// the new half track applies to following samples.
	est.AddDelta(-400, 400)
	test.That(t, est.Pose().Heading, test.ShouldAlmostEqual, 1)

	_, err := NewEstimator(&fakeEncoder{}, &fakeEncoder{}, config.Odometry{PeriodMs: 5, Window: 2},
		config.Calibration{CountsPerRadian: 0, CountsPerInch: 1}, clock.NewMock(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPeriodicTask(t *testing.T) {
	mock := clock.NewMock()
	logger, logs := logging.NewObservedTestLogger(t)
	left, right := &fakeEncoder{}, &fakeEncoder{}
	cfg := config.Default()
	est, err := NewEstimator(left, right, cfg.Odometry, cfg.Calibration, mock, logger)
	test.That(t, err, test.ShouldBeNil)
	// seed the window before the task runs.
	test.That(t, est.Tick(context.Background()), test.ShouldBeNil)
	est.Start()
	est.Start()
	defer est.Close()

	left.add(720)
	right.add(720)
	for i := 0; i < 200 && est.Pose().X < 720; i++ {
		mock.Add(5 * time.Millisecond)
	}
	test.That(t, est.Pose().X, test.ShouldAlmostEqual, 720)

	left.setErr(errors.New("unplugged"))
	for i := 0; i < 200 && logs.FilterMessage("skipping odometry sample").Len() == 0; i++ {
		mock.Add(5 * time.Millisecond)
	}
	test.That(t, logs.FilterMessage("skipping odometry sample").Len(), test.ShouldBeGreaterThan, 0)
	test.That(t, est.Pose().X, test.ShouldAlmostEqual, 720)
}
