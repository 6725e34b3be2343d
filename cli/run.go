package cli

// This file contains the run command which discovers, executes and reports
// diff tests.

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/perfgo/tpdiff/compare"
	"github.com/perfgo/tpdiff/discovery"
	"github.com/perfgo/tpdiff/executor"
	"github.com/perfgo/tpdiff/history"
	"github.com/perfgo/tpdiff/index"
	"github.com/perfgo/tpdiff/model"
	"github.com/perfgo/tpdiff/protoset"
	"github.com/perfgo/tpdiff/report"
	"github.com/perfgo/tpdiff/tracegen"
)

func (a *App) run(ctx *cli.Context) error {
	startTime := time.Now()

	cfg, err := newRunConfig(ctx)
	if err != nil {
		return err
	}

	rep, err := a.runTests(ctx.Context, cfg)
	if err != nil {
		return err
	}

	exitCode := 0
	if len(rep.Failures) > 0 {
		exitCode = 1
	}

	if !ctx.Bool("no-history") {
		h := &model.History{
			ID:         uuid.NewString(),
			Timestamp:  startTime,
			Args:       os.Args,
			ExitCode:   exitCode,
			Duration:   time.Since(startTime),
			Engine:     cfg.Engine,
			NameFilter: cfg.NameFilter,
			Report:     rep,
		}
		// Record the history (non-fatal if it fails)
		if err := a.recordHistory(ctx.String("history-dir"), h); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to record history")
		}
	}

	if exitCode != 0 {
		return cli.Exit(fmt.Sprintf("%d tests failed", len(rep.Failures)), exitCode)
	}
	return nil
}

// runTests runs every discovered test of cfg and returns the aggregated
// report. Failing tests are not an error.
func (a *App) runTests(ctx context.Context, cfg *runConfig) (*model.Report, error) {
	startTime := time.Now()

	raw, err := index.LoadDir(cfg.TestDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load test index: %w", err)
	}
	filter, err := discovery.CompileFilter(cfg.NameFilter)
	if err != nil {
		return nil, err
	}
	found, err := discovery.Discover(raw, discovery.Options{
		NameFilter:     filter,
		EnabledModules: cfg.Modules,
		TestDataDir:    cfg.TestDataDir,
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info().
		Int("runnable", len(found.Runnable)).
		Int("filtered", len(found.Filtered)).
		Int("missing_module", len(found.MissingModule)).
		Str("engine", cfg.Engine).
		Msg("Discovered tests")

	traceSet := protoset.NewLazy(append([]string{cfg.TraceDescriptor}, cfg.ExtensionDescriptors...)...)
	summarySet := protoset.NewLazy(cfg.SummaryDescriptor)

	synth := tracegen.New(a.logger, tracegen.Config{
		RootDir:              cfg.RootDir,
		Python:               cfg.Python,
		TempDir:              cfg.TempDir,
		TraceDescriptor:      cfg.TraceDescriptor,
		ExtensionDescriptors: cfg.ExtensionDescriptors,
		Trace:                traceSet,
		Simpleperf:           protoset.NewLazy(cfg.SimpleperfDescriptor),
	})
	comparator := compare.New(compare.Config{
		Metrics: protoset.NewLazy(cfg.MetricsDescriptors...),
		Summary: summarySet,
		Output:  protoset.NewLazy(cfg.OutputDescriptors...),
	})
	exec := executor.New(a.logger, executor.Config{
		EnginePath:          cfg.Engine,
		RootDir:             cfg.RootDir,
		TempDir:             cfg.TempDir,
		OverrideSQLPackages: cfg.Overrides,
		KeepInput:           cfg.KeepInput,
		Workers:             cfg.Jobs,
		Timeout:             cfg.Timeout,
		Summary:             summarySet,
	}, synth, comparator)

	reporter := report.New(a.reportOut, report.Options{
		NoColors:     cfg.NoColors,
		Quiet:        cfg.Quiet,
		PrintSlowest: cfg.PrintSlowest,
		Rebase:       cfg.Rebase,
	})
	reporter.Skipped(found.MissingModule)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := installSignalHandler(a.reportOut, cancel)
	defer stop()

	for res := range exec.Run(runCtx, found.Runnable) {
		reporter.Add(res)
	}
	return reporter.Finish(time.Since(startTime)), nil
}

func (a *App) recordHistory(dir string, h *model.History) error {
	if cwd, err := os.Getwd(); err == nil {
		h.WorkDir = cwd
		// Capture git info (non-fatal if it fails)
		if git, err := history.GitInfo(cwd); err == nil {
			h.Git = git
		}
	}

	if dir == "" {
		var err error
		dir, err = history.DefaultDir()
		if err != nil {
			a.logger.Debug().Err(err).Msg("Not recording history outside of a git repository")
			return nil
		}
	}

	_, err := history.Save(a.logger, dir, h)
	return err
}
