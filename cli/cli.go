package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const AppName = "tpdiff"

const envPrefix = "TPDIFF_"

type App struct {
	logger zerolog.Logger
	cli    *cli.App
	// Destination of test reports
	reportOut io.Writer
	// Destination of history listings
	out io.Writer
}

func env(name string) []string {
	return []string{envPrefix + name}
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger:    logger,
		reportOut: os.Stderr,
		out:       os.Stdout,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Differential tests for a trace processor",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:    "verbose",
					Usage:   "Enable verbose (debug) logging",
					EnvVars: env("VERBOSE"),
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "run",
		Usage:     "Run diff tests against a trace processor binary",
		ArgsUsage: " ",
		Action:    app.run,
		Flags:     runFlags(),
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "list",
		Usage:  "List previous runs",
		Action: app.list,
		Flags: []cli.Flag{
			historyDirFlag(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of runs to show (0 = unlimited)",
				Value: 20,
			},
			&cli.StringFlag{
				Name:  "path",
				Usage: "Only show runs started below this working directory",
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "view",
		Usage:     "Show the results of a previous run",
		ArgsUsage: "[ID|INDEX] [-- TEST-NAME-SUBSTRING...]",
		Action:    app.view,
		Flags: []cli.Flag{
			historyDirFlag(),
		},
	})
	return app
}

func historyDirFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "history-dir",
		Usage:   "Directory run history is kept in (default: <git root>/.tpdiff/history)",
		EnvVars: env("HISTORY_DIR"),
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "engine",
			Aliases:  []string{"trace-processor"},
			Usage:    "Trace processor binary to test",
			EnvVars:  env("ENGINE"),
			Required: true,
		},
		&cli.StringFlag{
			Name:    "name-filter",
			Usage:   "Regular expression matched against the start of the test names",
			Value:   ".*",
			EnvVars: env("NAME_FILTER"),
		},
		&cli.StringFlag{
			Name:    "root-dir",
			Usage:   "Source checkout root (default: working directory)",
			EnvVars: env("ROOT_DIR"),
		},
		&cli.StringFlag{
			Name:    "test-dir",
			Usage:   "Directory searched for test indexes (default: <root>/test/trace_processor)",
			EnvVars: env("TEST_DIR"),
		},
		&cli.StringFlag{
			Name:    "test-data-dir",
			Usage:   "Directory data_path entries resolve against (default: <root>/test/data)",
			EnvVars: env("TEST_DATA_DIR"),
		},
		&cli.StringSliceFlag{
			Name:    "enable-module",
			Usage:   "Module built into the engine (can be specified multiple times)",
			EnvVars: env("ENABLE_MODULE"),
		},
		&cli.StringSliceFlag{
			Name:    "override-sql-package",
			Usage:   "SQL package passed to the engine with --override-sql-package (can be specified multiple times)",
			EnvVars: env("OVERRIDE_SQL_PACKAGE"),
		},
		&cli.StringFlag{
			Name:    "trace-descriptor",
			Usage:   "Descriptor set of perfetto.protos.Trace",
			EnvVars: env("TRACE_DESCRIPTOR"),
		},
		&cli.StringFlag{
			Name:    "chrome-extensions",
			Usage:   "Descriptor set of the Chrome track event extensions",
			EnvVars: env("CHROME_EXTENSIONS"),
		},
		&cli.StringFlag{
			Name:    "test-extensions",
			Usage:   "Descriptor set of the test track event extensions",
			EnvVars: env("TEST_EXTENSIONS"),
		},
		&cli.StringFlag{
			Name:    "winscope-extensions",
			Usage:   "Descriptor set of the winscope extensions",
			EnvVars: env("WINSCOPE_EXTENSIONS"),
		},
		&cli.StringSliceFlag{
			Name:    "metrics-descriptor",
			Usage:   "Descriptor set of perfetto.protos.TraceMetrics (can be specified multiple times)",
			EnvVars: env("METRICS_DESCRIPTOR"),
		},
		&cli.StringFlag{
			Name:    "summary-descriptor",
			Usage:   "Descriptor set of the trace summary protos",
			EnvVars: env("SUMMARY_DESCRIPTOR"),
		},
		&cli.StringFlag{
			Name:    "simpleperf-descriptor",
			Usage:   "Descriptor set of the simpleperf report protos",
			EnvVars: env("SIMPLEPERF_DESCRIPTOR"),
		},
		&cli.StringSliceFlag{
			Name:    "output-descriptor",
			Usage:   "Descriptor set for binary proto query results (can be specified multiple times)",
			EnvVars: env("OUTPUT_DESCRIPTOR"),
		},
		&cli.IntFlag{
			Name:    "jobs",
			Aliases: []string{"j"},
			Usage:   "Number of tests run in parallel (default: number of logical cores)",
			EnvVars: env("JOBS"),
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Usage:   "Per-test engine timeout (0 = none)",
			EnvVars: env("TIMEOUT"),
		},
		&cli.StringFlag{
			Name:    "python",
			Usage:   "Interpreter for generated traces",
			Value:   "python3",
			EnvVars: env("PYTHON"),
		},
		&cli.StringFlag{
			Name:    "temp-dir",
			Usage:   "Directory for generated traces (default: system temp dir)",
			EnvVars: env("TEMP_DIR"),
		},
		&cli.BoolFlag{
			Name:    "keep-input",
			Usage:   "Keep generated input traces",
			EnvVars: env("KEEP_INPUT"),
		},
		&cli.BoolFlag{
			Name:    "rebase",
			Usage:   "Overwrite expected files of failing tests with the actual output",
			EnvVars: env("REBASE"),
		},
		&cli.BoolFlag{
			Name:    "no-colors",
			Usage:   "Print without ANSI colors",
			EnvVars: env("NO_COLORS"),
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Only print failures and the summary",
			EnvVars: env("QUIET"),
		},
		&cli.IntFlag{
			Name:    "print-slowest-tests",
			Usage:   "Print the N slowest tests after the run",
			EnvVars: env("PRINT_SLOWEST_TESTS"),
		},
		historyDirFlag(),
		&cli.BoolFlag{
			Name:    "no-history",
			Usage:   "Do not record the run in the history",
			EnvVars: env("NO_HISTORY"),
		},
	}
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && len(commit) >= 8 {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}
