// Package cli implements autonsim, a tool that checks motion scripts and runs them on a simulated
// robot.
package cli

import (
	"io"
	"time"

	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	flagConfig   = "config"
	flagDebug    = "debug"
	flagLogFile  = "log-file"
	flagMirror   = "mirror"
	flagRealtime = "realtime"
	flagStep     = "step"
	flagProgress = "progress"
	flagCPR      = "cpr"
	flagCPI      = "cpi"
)

// NewApp returns the autonsim app writing its reports to out.
func NewApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:            "autonsim",
		Usage:           "check and simulate autonomous routines",
		HideHelpCommand: true,
		Writer:          out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load robot configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write logs to `FILE`, rotated by size",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "run a routine on the simulated robot",
				ArgsUsage: "<state file> <routine>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  flagMirror,
						Usage: "run mirrored for the opposite alliance",
					},
					&cli.BoolFlag{
						Name:  flagRealtime,
						Usage: "run on the wall clock instead of simulated time",
					},
					&cli.DurationFlag{
						Name:  flagStep,
						Value: 5 * time.Millisecond,
						Usage: "simulated time step",
					},
					&cli.DurationFlag{
						Name:  flagProgress,
						Value: time.Second,
						Usage: "interval between pose logs",
					},
				},
				Action: RunAction,
			},
			{
				Name:      "list",
				Usage:     "list the routines of a state file",
				ArgsUsage: "<state file>",
				Action:    ListAction,
			},
			{
				Name:      "validate",
				Usage:     "check a state file and the robot configuration",
				ArgsUsage: "<state file>",
				Action:    ValidateAction,
			},
			{
				Name:      "watch",
				Usage:     "report a state file every time it changes",
				ArgsUsage: "<state file>",
				Action:    WatchAction,
			},
			{
				Name:      "calibrate",
				Usage:     "store a new odometry calibration in a state file",
				ArgsUsage: "<state file>",
				Flags: []cli.Flag{
					&cli.Float64Flag{
						Name:  flagCPR,
						Usage: "encoder counts per radian of robot rotation",
					},
					&cli.Float64Flag{
						Name:  flagCPI,
						Usage: "encoder counts per inch of travel",
					},
				},
				Action: CalibrateAction,
			},
			{
				Name:   "schema",
				Usage:  "print the JSON schema of a routine step",
				Action: SchemaAction,
			},
		},
	}
}
