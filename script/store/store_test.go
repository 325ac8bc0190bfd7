package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/elliot2/motioncore/config"
	"github.com/elliot2/motioncore/logging"
	"github.com/elliot2/motioncore/script"
)

const stateFile = `{
	"autons": {
		"skills": [
			{"type": "origin", "name": "ORIGIN", "x": 0, "y": 0, "o": 0},
			{"type": "position", "x": 24, "y": 0, "v": 1, "t": 0.2}
		],
		"left": [
			{"type": "intake", "v": 1, "t": 0}
		]
	},
	"gps": {"cpr": 415.17, "cpi": 71.62}
}`

func writeState(t *testing.T, path, data string) {
	t.Helper()
	test.That(t, os.WriteFile(path, []byte(data), 0o600), test.ShouldBeNil)
}

func TestParse(t *testing.T) {
	contents, err := Parse(strings.NewReader(stateFile))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, contents.Routines, test.ShouldHaveLength, 2)
	test.That(t, contents.Routines["skills"][1], test.ShouldResemble,
		script.Position{X: 24, Velocity: 1, Settle: 0.2})
	test.That(t, contents.Calibration, test.ShouldNotBeNil)
	test.That(t, contents.Calibration.CountsPerInch, test.ShouldEqual, 71.62)

	test.That(t, contents.Broken, test.ShouldBeEmpty)
	test.That(t, contents.Err(), test.ShouldBeNil)

	_, err = Parse(strings.NewReader(`{"autons": {}, "gps": {"cpr": 0, "cpi": 1}}`))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Parse(strings.NewReader(`{"autons": `))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestParseKeepsGoodRoutines(t *testing.T) {
	contents, err := Parse(strings.NewReader(`{"autons": {
		"skills": [{"type": "position", "x": 24, "y": 0, "v": 1, "t": 0}],
		"scratch": [{"type": "position", "x": 1}]
	}}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, contents.Routines, test.ShouldHaveLength, 1)
	test.That(t, contents.Routines["skills"], test.ShouldHaveLength, 1)
	test.That(t, contents.Broken, test.ShouldHaveLength, 1)
	test.That(t, contents.Broken["scratch"].Error(), test.ShouldContainSubstring, `routine "scratch"`)
	test.That(t, contents.Broken["scratch"].Error(), test.ShouldContainSubstring, "position is missing [t v y]")
	test.That(t, contents.Names(), test.ShouldResemble, []string{"scratch", "skills"})
	test.That(t, contents.Err(), test.ShouldNotBeNil)

	logger, logs := logging.NewObservedTestLogger(t)
	path := filepath.Join(t.TempDir(), "save.json")
	writeState(t, path, `{"autons": {
		"skills": [{"type": "shoot"}],
		"scratch": [{"type": "delay"}]
	}}`)
	s, err := Open(path, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.FilterMessage("routine failed to load").Len(), test.ShouldEqual, 1)
	_, ok := s.Routine("scratch")
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, s.RoutineError("scratch"), test.ShouldNotBeNil)
	test.That(t, s.RoutineError("skills"), test.ShouldBeNil)
	insts, ok := s.Routine("skills")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, insts, test.ShouldResemble, []script.Instruction{script.Shoot{}})
	test.That(t, s.Names(), test.ShouldResemble, []string{"scratch", "skills"})
}

func TestSaveCalibration(t *testing.T) {
	logger := logging.NewTestLogger(t)
	path := filepath.Join(t.TempDir(), "save.json")
	writeState(t, path, stateFile)

	s, err := Open(path, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.SaveCalibration(config.Calibration{CountsPerRadian: 0, CountsPerInch: 70}), test.ShouldNotBeNil)

	cal := config.Calibration{CountsPerRadian: 420.5, CountsPerInch: 70.25}
	test.That(t, s.SaveCalibration(cal), test.ShouldBeNil)
	got, ok := s.Calibration()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldResemble, cal)

	// routines survive and the value is there after a restart.
	reopened, err := Open(path, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reopened.Names(), test.ShouldResemble, []string{"left", "skills"})
	got, ok = reopened.Calibration()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldResemble, cal)

	// a file without stored calibration gains one.
	writeState(t, path, `{"autons": {"right": [{"type": "hold"}]}}`)
	test.That(t, s.Reload(), test.ShouldBeNil)
	test.That(t, s.SaveCalibration(cal), test.ShouldBeNil)
	contents, err := ParseFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, *contents.Calibration, test.ShouldResemble, cal)
	test.That(t, contents.Routines["right"], test.ShouldHaveLength, 1)
}

func TestStore(t *testing.T) {
	logger := logging.NewTestLogger(t)
	path := filepath.Join(t.TempDir(), "save.json")
	writeState(t, path, stateFile)

	s, err := Open(path, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Names(), test.ShouldResemble, []string{"left", "skills"})
	insts, ok := s.Routine("left")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, insts, test.ShouldResemble, []script.Instruction{
		script.Effector{Target: script.KindIntake, Velocity: 1},
	})
	_, ok = s.Routine("right")
	test.That(t, ok, test.ShouldBeFalse)
	cal, ok := s.Calibration()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, cal.CountsPerRadian, test.ShouldEqual, 415.17)

	writeState(t, path, `{"autons": {"right": [{"type": "hold"}]}}`)
	test.That(t, s.Reload(), test.ShouldBeNil)
	test.That(t, s.Names(), test.ShouldResemble, []string{"right"})
	_, ok = s.Calibration()
	test.That(t, ok, test.ShouldBeFalse)

	// an unreadable file keeps what was loaded.
	writeState(t, path, `{"autons": {"right": [`)
	test.That(t, s.Reload(), test.ShouldNotBeNil)
	test.That(t, s.Names(), test.ShouldResemble, []string{"right"})

	_, err = Open(filepath.Join(t.TempDir(), "missing.json"), logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestWatch(t *testing.T) {
	logger := logging.NewTestLogger(t)
	path := filepath.Join(t.TempDir(), "save.json")
	writeState(t, path, stateFile)

	s, err := Open(path, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, s.Close(), test.ShouldBeNil)
	}()

	reloaded := make(chan []string, 10)
	s.OnReload(func(c *Contents) {
		names := make([]string, 0, len(c.Routines))
		for name := range c.Routines {
			names = append(names, name)
		}
		reloaded <- names
	})
	test.That(t, s.Watch(context.Background()), test.ShouldBeNil)

	// unrelated files in the directory are ignored.
	writeState(t, filepath.Join(filepath.Dir(path), "other.json"), "{}")
	writeState(t, path, `{"autons": {"finals": [{"type": "shoot"}]}}`)

	timeout := time.After(10 * time.Second)
	for {
		select {
		case names := <-reloaded:
			if len(names) == 1 && names[0] == "finals" {
				test.That(t, s.Names(), test.ShouldResemble, []string{"finals"})
				return
			}
		case <-timeout:
			t.Fatal("store was not reloaded")
		}
	}
}
