package executor

// command.go contains utilities for building engine command lines.

import (
	"fmt"
	"strings"

	"al.essio.dev/pkg/shellescape"

	"github.com/perfgo/tpdiff/model"
)

// CommandOptions contains the inputs of a single engine invocation.
type CommandOptions struct {
	Engine    string   // Engine binary
	TracePath string   // Trace to load
	PerfFile  string   // File the engine writes its timings to
	SpecFile  string   // Serialized TraceSummarySpec (metric v2 only)
	MetricID  string   // Metric to compute from SpecFile (metric v2 only)
	Overrides []string // SQL packages passed with --override-sql-package
}

// BuildArgs builds the engine arguments for t, without the binary itself.
func BuildArgs(t *model.Test, opts CommandOptions) ([]string, error) {
	args := []string{
		"--analyze-trace-proto-content",
		"--crop-track-events",
		"--extra-checks",
		"--perf-file", opts.PerfFile,
	}

	switch t.Mode {
	case model.ModeQuery:
		switch q := t.Blueprint.Query.(type) {
		case model.QueryPath:
			args = append(args, "-q", t.QueryPath)
		case model.QuerySQL:
			args = append(args, "-Q", q.SQL)
		default:
			return nil, fmt.Errorf("query test has %T query", q)
		}
		args = appendRegisterFilesDir(args, t)
		args = appendOverrides(args, opts.Overrides)

	case model.ModeMetricV1:
		q, ok := t.Blueprint.Query.(model.QueryMetric)
		if !ok {
			return nil, fmt.Errorf("metric test has %T query", t.Blueprint.Query)
		}
		format := "binary"
		if t.JSONOutput() {
			format = "json"
		}
		args = append(args, "--run-metrics", q.Name, "--metrics-output="+format)
		args = appendRegisterFilesDir(args, t)
		args = appendOverrides(args, opts.Overrides)

	case model.ModeMetricV2:
		if opts.SpecFile == "" {
			return nil, fmt.Errorf("metric v2 test requires a summary spec file")
		}
		args = append(args,
			"--summary",
			"--summary-spec", opts.SpecFile,
			"--summary-metrics-v2", opts.MetricID,
			"--summary-format", "binary",
		)
		args = appendOverrides(args, opts.Overrides)

	default:
		return nil, fmt.Errorf("unknown test mode %v", t.Mode)
	}

	return append(args, opts.TracePath), nil
}

func appendRegisterFilesDir(args []string, t *model.Test) []string {
	if t.RegisterFilesDir == "" {
		return args
	}
	return append(args, "--register-files-dir", t.RegisterFilesDir)
}

func appendOverrides(args []string, overrides []string) []string {
	for _, p := range overrides {
		args = append(args, "--override-sql-package", strings.TrimSpace(p))
	}
	return args
}

// BuildCommand builds the shell-escaped command line reproducing the engine
// run of t.
// It reuses BuildArgs and joins the arguments with proper shell escaping.
func BuildCommand(t *model.Test, opts CommandOptions) (string, error) {
	args, err := BuildArgs(t, opts)
	if err != nil {
		return "", err
	}
	return QuoteCommand(append([]string{opts.Engine}, args...)), nil
}

// QuoteCommand shell-escapes and joins a full command line.
func QuoteCommand(cmd []string) string {
	parts := make([]string, 0, len(cmd))
	for _, arg := range cmd {
		parts = append(parts, shellescape.Quote(arg))
	}
	return strings.Join(parts, " ")
}
