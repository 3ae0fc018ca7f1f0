// Package cli contains the signscan command line tool.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	// Global flags.
	flagConfig       = "config"
	flagDebug        = "debug"
	flagReferenceDir = "reference-dir"
	flagNoColor      = "no-color"

	// Command flags.
	flagPeriodMs    = "period-ms"
	flagDurationMs  = "duration-ms"
	flagFPS         = "fps"
	flagBindAddress = "bind-address"
	flagTop         = "top"

	defaultReferenceDir = "images/reference"
)

var app = &cli.App{
	Name:            "signscan",
	Usage:           "recognize traffic signs from a camera feed or images",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.PathFlag{
			Name:  flagReferenceDir,
			Value: defaultReferenceDir,
			Usage: "directory of reference sign images, when no config is given",
		},
		&cli.BoolFlag{
			Name:  flagNoColor,
			Usage: "disable colored output",
		},
	},
	Before: configureColor,
	Commands: []*cli.Command{
		{
			Name:      "classify",
			Usage:     "classify one or more images",
			ArgsUsage: "<image> [image...]",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  flagTop,
					Value: 1,
					Usage: "number of labels to show per image",
				},
			},
			Action: ClassifyAction,
		},
		{
			Name:      "scan",
			Usage:     "run a timed scan over frames replayed as a camera feed",
			ArgsUsage: "[frame...]",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  flagPeriodMs,
					Usage: "milliseconds between samples",
				},
				&cli.IntFlag{
					Name:  flagDurationMs,
					Usage: "length of the scan in milliseconds",
				},
				&cli.Float64Flag{
					Name:  flagFPS,
					Usage: "frames per second of the replayed feed",
				},
			},
			Action: ScanAction,
		},
		{
			Name:  "serve",
			Usage: "serve the web app and its API",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  flagBindAddress,
					Usage: "address to listen on",
				},
			},
			Action: ServeAction,
		},
		{
			Name:   "signs",
			Usage:  "list the signs that can be recognized",
			Action: SignsAction,
		},
	},
}

// NewApp returns the signscan CLI app writing to out and errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
