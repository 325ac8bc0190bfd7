package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"github.com/elliot2/motioncore/config"
	"github.com/elliot2/motioncore/logging"
	"github.com/elliot2/motioncore/script"
	"github.com/elliot2/motioncore/script/store"
	"github.com/elliot2/motioncore/sim"
)

func newLogger(c *cli.Context) (logging.Logger, func() error) {
	logger := logging.NewLogger("autonsim")
	if c.Bool(flagDebug) {
		logger.SetLevel(logging.DEBUG)
	}
	closeLogs := func() error { return nil }
	if path := c.String(flagLogFile); path != "" {
		appender, closer := logging.NewFileAppender(logging.FileAppenderConfig{
			Path:       path,
			MaxSizeMB:  10,
			MaxBackups: 3,
		})
		logger.AddAppender(appender)
		closeLogs = closer.Close
	}
	return logger, closeLogs
}

func loadConfig(c *cli.Context, logger logging.Logger) (*config.Config, error) {
	cfg, err := config.Read(c.String(flagConfig), logger)
	if err != nil {
		return nil, err
	}
	if cfg.LogLevel != "" && !c.Bool(flagDebug) {
		level, err := logging.LevelFromString(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		logger.SetLevel(level)
	}
	return cfg, nil
}

func stateFileArg(c *cli.Context) (string, error) {
	path := c.Args().First()
	if path == "" {
		return "", errors.New("a state file is required")
	}
	return path, nil
}

// RunAction runs a routine on the simulated robot and prints a step report.
func RunAction(c *cli.Context) error {
	path, err := stateFileArg(c)
	if err != nil {
		return err
	}
	name := c.Args().Get(1)
	if name == "" {
		return errors.New("a routine name is required")
	}

	logger, closeLogs := newLogger(c)
	defer goutils.UncheckedErrorFunc(closeLogs)
	cfg, err := loadConfig(c, logger)
	if err != nil {
		return err
	}
	routines, err := store.Open(path, logger.Sublogger("store"))
	if err != nil {
		return err
	}
	if err := routines.RoutineError(name); err != nil {
		return err
	}
	if _, ok := routines.Routine(name); !ok {
		return errors.Errorf("no routine named %q; have %s", name, strings.Join(routines.Names(), ", "))
	}
	if cal, ok := routines.Calibration(); ok {
		logger.Debugw("using stored calibration", "calibration", cal)
		cfg.Calibration = cal
	}

	var clk clock.Clock
	var mock *clock.Mock
	if c.Bool(flagRealtime) {
		clk = clock.New()
	} else {
		mock = clock.NewMock()
		clk = mock
	}
	robot, err := sim.New(*cfg, routines, clk, logger)
	if err != nil {
		return err
	}
	rep := newReport(cfg.Calibration.CountsPerInch)
	robot.Runner.Observe(rep.add)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()
	if err := robot.Start(ctx); err != nil {
		return multierr.Combine(err, robot.Close(context.Background()))
	}

	mirror := c.Bool(flagMirror)
	run := func(ctx context.Context) error {
		return robot.RunRoutine(ctx, name, mirror)
	}
	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		if mock != nil {
			return sim.RunWithMockClock(gctx, mock, c.Duration(flagStep), run)
		}
		return run(gctx)
	})
	g.Go(func() error {
		ticker := clk.Ticker(c.Duration(flagProgress))
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				pose := robot.Estimator.Pose()
				logger.Infow("pose",
					"x", robot.Estimator.CountsToInches(pose.X),
					"y", robot.Estimator.CountsToInches(pose.Y),
					"heading", pose.Heading)
			}
		}
	})
	err = multierr.Combine(g.Wait(), robot.Close(context.Background()))

	rep.render(c.App.Writer)
	return err
}

// ListAction prints the routines of a state file.
func ListAction(c *cli.Context) error {
	path, err := stateFileArg(c)
	if err != nil {
		return err
	}
	contents, err := store.ParseFile(path)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"Routine", "Steps", "Composition"})
	for _, name := range contents.Names() {
		if err, broken := contents.Broken[name]; broken {
			t.AppendRow(table.Row{name, "-", "failed to load: " + errors.Cause(err).Error()})
			continue
		}
		insts := contents.Routines[name]
		t.AppendRow(table.Row{name, len(insts), composition(insts)})
	}
	if cal := contents.Calibration; cal != nil {
		t.AppendFooter(table.Row{"calibration", "", fmt.Sprintf("cpr %.4f, cpi %.4f", cal.CountsPerRadian, cal.CountsPerInch)})
	}
	fmt.Fprintln(c.App.Writer, t.Render())
	return nil
}

func composition(insts []script.Instruction) string {
	counts := lo.CountValuesBy(insts, func(inst script.Instruction) string {
		return string(inst.Kind())
	})
	kinds := lo.Keys(counts)
	sort.Strings(kinds)
	return strings.Join(lo.Map(kinds, func(kind string, _ int) string {
		return fmt.Sprintf("%s x%d", kind, counts[kind])
	}), ", ")
}

// ValidateAction checks a state file and the robot configuration.
func ValidateAction(c *cli.Context) error {
	path, err := stateFileArg(c)
	if err != nil {
		return err
	}
	logger, closeLogs := newLogger(c)
	defer goutils.UncheckedErrorFunc(closeLogs)
	if _, err := loadConfig(c, logger); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	contents, err := store.ParseFile(path)
	if err == nil {
		err = contents.Err()
	}
	if err != nil {
		return errors.Wrapf(err, "invalid state file %q", path)
	}
	summarize(c.App.Writer, logger, path, contents)
	return nil
}

func summarize(w io.Writer, logger logging.Logger, path string, contents *store.Contents) {
	steps := lo.SumBy(lo.Values(contents.Routines), func(insts []script.Instruction) int { return len(insts) })
	unknown := lo.FlatMap(lo.Values(contents.Routines), func(insts []script.Instruction, _ int) []string {
		return lo.FilterMap(insts, func(inst script.Instruction, _ int) (string, bool) {
			u, ok := inst.(script.Unknown)
			return u.Type, ok
		})
	})
	for _, typ := range lo.Uniq(unknown) {
		logger.Warnw("steps of this type will be skipped", "type", typ)
	}
	for _, name := range lo.Keys(contents.Broken) {
		logger.Warnw("routine failed to load", "name", name, "error", contents.Broken[name])
	}
	fmt.Fprintf(w, "%s: %d routines, %d steps\n", path, len(contents.Routines), steps)
}

// WatchAction loads a state file and reports every change to it until interrupted.
func WatchAction(c *cli.Context) error {
	path, err := stateFileArg(c)
	if err != nil {
		return err
	}
	logger, closeLogs := newLogger(c)
	defer goutils.UncheckedErrorFunc(closeLogs)
	routines, err := store.Open(path, logger.Sublogger("store"))
	if err != nil {
		return err
	}
	summarize(c.App.Writer, logger, path, routines.Contents())
	routines.OnReload(func(contents *store.Contents) {
		summarize(c.App.Writer, logger, path, contents)
	})

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()
	if err := routines.Watch(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return routines.Close()
}

// CalibrateAction stores a new calibration in a state file. Values not given keep the stored
// calibration, or the configured one when the file has none.
func CalibrateAction(c *cli.Context) error {
	path, err := stateFileArg(c)
	if err != nil {
		return err
	}
	logger, closeLogs := newLogger(c)
	defer goutils.UncheckedErrorFunc(closeLogs)
	cfg, err := loadConfig(c, logger)
	if err != nil {
		return err
	}
	routines, err := store.Open(path, logger.Sublogger("store"))
	if err != nil {
		return err
	}
	cal := cfg.Calibration
	if stored, ok := routines.Calibration(); ok {
		cal = stored
	}
	if c.IsSet(flagCPR) {
		cal.CountsPerRadian = c.Float64(flagCPR)
	}
	if c.IsSet(flagCPI) {
		cal.CountsPerInch = c.Float64(flagCPI)
	}
	if err := routines.SaveCalibration(cal); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s: cpr %.4f, cpi %.4f\n", path, cal.CountsPerRadian, cal.CountsPerInch)
	return nil
}

// SchemaAction prints the JSON schema of a routine step.
func SchemaAction(c *cli.Context) error {
	out, err := json.MarshalIndent(script.Schema(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}
