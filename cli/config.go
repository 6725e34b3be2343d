package cli

// This file derives the run configuration from flags and the layout of the
// engine build directory.

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/urfave/cli/v2"
)

// runConfig is the resolved configuration of a run command.
type runConfig struct {
	Engine      string
	RootDir     string
	TestDir     string
	TestDataDir string
	NameFilter  string
	Modules     []string
	Overrides   []string

	TraceDescriptor      string
	ExtensionDescriptors []string
	MetricsDescriptors   []string
	SummaryDescriptor    string
	SimpleperfDescriptor string
	OutputDescriptors    []string

	Jobs         int
	Timeout      time.Duration
	Python       string
	TempDir      string
	KeepInput    bool
	Rebase       bool
	NoColors     bool
	Quiet        bool
	PrintSlowest int
}

// descriptorPaths are the descriptor sets an engine build generates, relative
// to its output directory.
type descriptorPaths struct {
	Trace      string
	Chrome     string
	Test       string
	Winscope   string
	Metrics    []string
	Summary    string
	Simpleperf string
	Output     []string
}

func defaultDescriptors(outDir string) descriptorPaths {
	protos := filepath.Join(outDir, "gen", "protos")
	perfetto := filepath.Join(protos, "perfetto")
	return descriptorPaths{
		Trace:    filepath.Join(perfetto, "trace", "trace.descriptor"),
		Chrome:   filepath.Join(protos, "third_party", "chromium", "chrome_track_event.descriptor"),
		Test:     filepath.Join(perfetto, "trace", "test_extensions.descriptor"),
		Winscope: filepath.Join(perfetto, "trace", "android", "winscope.descriptor"),
		Metrics: []string{
			filepath.Join(perfetto, "metrics", "metrics.descriptor"),
			filepath.Join(perfetto, "metrics", "chrome", "all_chrome_metrics.descriptor"),
		},
		Summary:    filepath.Join(perfetto, "trace_summary", "trace_summary.descriptor"),
		Simpleperf: filepath.Join(protos, "third_party", "simpleperf", "simpleperf.descriptor"),
		Output:     outputDescriptors(protos),
	}
}

// outputDescriptors returns every descriptor set of the trace processor
// protos plus the pprof profile.
func outputDescriptors(protos string) []string {
	matches, _ := filepath.Glob(filepath.Join(protos, "perfetto", "trace_processor", "*.descriptor"))
	sort.Strings(matches)
	return append(matches, filepath.Join(protos, "third_party", "pprof", "profile.descriptor"))
}

// pick returns the flag value if it was set and def otherwise.
func pick(ctx *cli.Context, name, def string) string {
	if ctx.IsSet(name) {
		return ctx.String(name)
	}
	return def
}

func pickSlice(ctx *cli.Context, name string, def []string) []string {
	if ctx.IsSet(name) {
		return ctx.StringSlice(name)
	}
	return def
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// existing drops the paths which do not exist.
func existing(paths ...string) []string {
	var out []string
	for _, p := range paths {
		if p != "" && exists(p) {
			out = append(out, p)
		}
	}
	return out
}

func newRunConfig(ctx *cli.Context) (*runConfig, error) {
	engine, err := filepath.Abs(ctx.String("engine"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve engine path: %w", err)
	}
	if !exists(engine) {
		return nil, fmt.Errorf("engine binary %s does not exist", engine)
	}

	rootDir := ctx.String("root-dir")
	if rootDir == "" {
		if rootDir, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}
	if rootDir, err = filepath.Abs(rootDir); err != nil {
		return nil, fmt.Errorf("failed to resolve root directory: %w", err)
	}

	defaults := defaultDescriptors(filepath.Dir(engine))
	cfg := &runConfig{
		Engine:      engine,
		RootDir:     rootDir,
		TestDir:     pick(ctx, "test-dir", filepath.Join(rootDir, "test", "trace_processor")),
		TestDataDir: pick(ctx, "test-data-dir", filepath.Join(rootDir, "test", "data")),
		NameFilter:  ctx.String("name-filter"),
		Modules:     ctx.StringSlice("enable-module"),
		Overrides:   ctx.StringSlice("override-sql-package"),

		TraceDescriptor:      pick(ctx, "trace-descriptor", defaults.Trace),
		MetricsDescriptors:   pickSlice(ctx, "metrics-descriptor", existing(defaults.Metrics...)),
		SummaryDescriptor:    pick(ctx, "summary-descriptor", defaults.Summary),
		SimpleperfDescriptor: pick(ctx, "simpleperf-descriptor", defaults.Simpleperf),
		OutputDescriptors:    pickSlice(ctx, "output-descriptor", existing(defaults.Output...)),

		Jobs:         ctx.Int("jobs"),
		Timeout:      ctx.Duration("timeout"),
		Python:       ctx.String("python"),
		TempDir:      ctx.String("temp-dir"),
		KeepInput:    ctx.Bool("keep-input"),
		Rebase:       ctx.Bool("rebase"),
		NoColors:     ctx.Bool("no-colors"),
		Quiet:        ctx.Bool("quiet"),
		PrintSlowest: ctx.Int("print-slowest-tests"),
	}

	// Explicit extension sets must exist, default ones are optional.
	for _, ext := range []struct{ flag, def string }{
		{"chrome-extensions", defaults.Chrome},
		{"test-extensions", defaults.Test},
		{"winscope-extensions", defaults.Winscope},
	} {
		if ctx.IsSet(ext.flag) {
			cfg.ExtensionDescriptors = append(cfg.ExtensionDescriptors, ctx.String(ext.flag))
			continue
		}
		cfg.ExtensionDescriptors = append(cfg.ExtensionDescriptors, existing(ext.def)...)
	}

	return cfg, nil
}
