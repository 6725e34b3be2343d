// Package report renders test results as they complete and summarizes a run.
package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/perfgo/tpdiff/executor"
	"github.com/perfgo/tpdiff/model"
)

const (
	red    = "\033[0;31m"
	green  = "\033[0;32m"
	yellow = "\033[0;33m"
	reset  = "\033[0m"
)

// Options controls what the Reporter prints.
type Options struct {
	// Never print ANSI colors
	NoColors bool
	// Only print failures and the summary
	Quiet bool
	// Number of slowest tests listed in the summary, 0 disables the ranking
	PrintSlowest int
	// Overwrite the expected file of failing tests with the actual output
	Rebase bool
}

// Reporter aggregates results. It is safe for concurrent use, results may be
// added in any order.
type Reporter struct {
	w      io.Writer
	opts   Options
	colors bool

	mu      sync.Mutex
	report  model.Report
	skipped []model.SkippedTest
	rebased []string
}

// New returns a Reporter writing to w. Colors are only used when w is a
// terminal.
func New(w io.Writer, opts Options) *Reporter {
	return &Reporter{
		w:      w,
		opts:   opts,
		colors: !opts.NoColors && isTerminal(w),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (r *Reporter) color(c, s string) string {
	if !r.colors {
		return s
	}
	return c + s + reset
}

// Skipped records tests which were not run because of missing modules.
func (r *Reporter) Skipped(tests []model.SkippedTest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped = append(r.skipped, tests...)
	r.report.Skipped += len(tests)
}

// Add folds res into the report and prints its outcome.
func (r *Reporter) Add(res *model.Result) {
	var b strings.Builder
	name := res.Test.Name

	if !r.opts.Quiet {
		fmt.Fprintf(&b, "%s %s\n", r.color(yellow, "[ RUN      ]"), name)
	}
	for _, p := range res.KeptFiles {
		fmt.Fprintf(&b, "Saving generated input trace: %s\n", p)
	}

	var rebased bool
	switch {
	case res.Err != nil:
		fmt.Fprintf(&b, "%v\n", res.Err)
		r.writeCommands(&b, res)
		fmt.Fprintf(&b, "%s %s\n", r.color(red, "[  FAILED  ]"), name)

	case !res.Passed:
		r.writeFailure(&b, res)
		fmt.Fprintf(&b, "%s %s\n", r.color(red, "[  FAILED  ]"), name)
		if r.opts.Rebase {
			rebased = r.rebase(&b, res)
		}

	default:
		if !r.opts.Quiet {
			var ingest, query float64
			if res.Perf != nil {
				ingest = float64(res.Perf.IngestNs) / 1e6
				query = float64(res.Perf.RealNs) / 1e6
			}
			fmt.Fprintf(&b, "%s %s (ingest: %.2f ms query: %.2f ms)\n",
				r.color(green, "[       OK ]"), name, ingest, query)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Total++
	if res.Failed() {
		r.report.Failures = append(r.report.Failures, name)
	} else {
		r.report.Passed++
		if res.Perf != nil {
			r.report.Perf = append(r.report.Perf, *res.Perf)
		}
	}
	if rebased {
		r.rebased = append(r.rebased, name)
	}
	io.WriteString(r.w, b.String())
}

func (r *Reporter) writeFailure(b *strings.Builder, res *model.Result) {
	t := res.Test
	if res.Stderr != "" {
		b.WriteString(res.Stderr)
		if !strings.HasSuffix(res.Stderr, "\n") {
			b.WriteByte('\n')
		}
	}
	if res.ExitCode != 0 {
		r.writeCommands(b, res)
		return
	}

	trace := t.TracePath
	if trace == "" {
		trace = "<inline trace>"
	}
	fmt.Fprintf(b, "Expected did not match actual for trace %s and %s %s\n", trace, t.Mode, t.QueryDescription())
	if t.ExpectedPath != "" {
		fmt.Fprintf(b, "Expected file: %s\n", t.ExpectedPath)
	}
	r.writeCommands(b, res)
	b.WriteString(Diff(res.Expected, res.Actual))
}

func (r *Reporter) writeCommands(b *strings.Builder, res *model.Result) {
	if res.TraceCommand != "" {
		fmt.Fprintf(b, "Command to generate trace:\n%s\n", res.TraceCommand)
	}
	if len(res.Cmd) > 0 {
		fmt.Fprintf(b, "Command line:\n%s\n", executor.QuoteCommand(res.Cmd))
	}
}

// rebase overwrites the expected file of res with its actual output.
func (r *Reporter) rebase(b *strings.Builder, res *model.Result) bool {
	path := res.Test.ExpectedPath
	switch {
	case path == "":
		fmt.Fprintf(b, "Cannot rebase %s: expected output is inline\n", res.Test.Name)
		return false
	case res.ExitCode != 0:
		fmt.Fprintf(b, "Rebase failed for %s as query failed\n", path)
		return false
	}

	actual := res.Actual
	if actual != "" {
		actual += "\n"
	}
	if err := os.WriteFile(path, []byte(actual), 0644); err != nil {
		fmt.Fprintf(b, "Rebase failed for %s: %v\n", path, err)
		return false
	}
	fmt.Fprintf(b, "Rebasing %s\n", path)
	return true
}

// Diff returns the unified diff between the expected and actual output.
func Diff(expected, actual string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(expected),
		B:        splitLines(actual),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  3,
	})
	if err != nil {
		return fmt.Sprintf("failed to compute diff: %v\n", err)
	}
	return diff
}

// splitLines splits s into newline-terminated lines. SplitLines already
// terminates the last line, so a trailing newline of s is dropped first.
func splitLines(s string) []string {
	return difflib.SplitLines(strings.TrimSuffix(s, "\n"))
}

// Finish prints the summary of the run and returns the aggregated report.
func (r *Reporter) Finish(duration time.Duration) *model.Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := r.report
	report.Duration = duration
	sort.Strings(report.Failures)
	sort.Slice(report.Perf, func(i, j int) bool { return report.Perf[i].Test < report.Perf[j].Test })

	var b strings.Builder
	fmt.Fprintf(&b, "[==========] %d tests ran. (%d ms total)\n", report.Total, duration.Milliseconds())
	fmt.Fprintf(&b, "%s %d tests.\n", r.color(green, "[  PASSED  ]"), report.Passed)

	if len(r.skipped) > 0 {
		skipped := append([]model.SkippedTest(nil), r.skipped...)
		sort.Slice(skipped, func(i, j int) bool { return skipped[i].Name < skipped[j].Name })
		fmt.Fprintf(&b, "%s %d tests:\n", r.color(yellow, "[  SKIPPED ]"), len(skipped))
		for _, s := range skipped {
			fmt.Fprintf(&b, "%s %s (%s)\n", r.color(yellow, "[  SKIPPED ]"), s.Name, s.Reason)
		}
	}

	if len(report.Failures) > 0 {
		fmt.Fprintf(&b, "%s %d tests, listed below:\n", r.color(red, "[  FAILED  ]"), len(report.Failures))
		for _, name := range report.Failures {
			fmt.Fprintf(&b, "%s %s\n", r.color(red, "[  FAILED  ]"), name)
		}
	}

	if len(r.rebased) > 0 {
		rebased := append([]string(nil), r.rebased...)
		sort.Strings(rebased)
		fmt.Fprintf(&b, "%d tests rebased:\n", len(rebased))
		for _, name := range rebased {
			fmt.Fprintf(&b, "  %s\n", name)
		}
	}

	if r.opts.PrintSlowest > 0 && len(report.Perf) > 0 {
		writeSlowest(&b, "ingest time", report.Perf, r.opts.PrintSlowest, func(p model.PerfSample) int64 { return p.IngestNs })
		writeSlowest(&b, "query time", report.Perf, r.opts.PrintSlowest, func(p model.PerfSample) int64 { return p.RealNs })
		writeSlowest(&b, "combined time", report.Perf, r.opts.PrintSlowest, func(p model.PerfSample) int64 { return p.IngestNs + p.RealNs })
	}

	io.WriteString(r.w, b.String())
	return &report
}

func writeSlowest(b *strings.Builder, title string, samples []model.PerfSample, n int, key func(model.PerfSample) int64) {
	sorted := append([]model.PerfSample(nil), samples...)
	sort.SliceStable(sorted, func(i, j int) bool { return key(sorted[i]) > key(sorted[j]) })
	if n < len(sorted) {
		sorted = sorted[:n]
	}

	fmt.Fprintf(b, "\nTop %d slowest tests by %s:\n", len(sorted), title)
	for _, p := range sorted {
		fmt.Fprintf(b, "%10.2f ms  %s (%s)\n", float64(key(p))/1e6, p.Test, p.Mode)
	}
}
