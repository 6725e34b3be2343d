package cli

// This file contains the view command for displaying the results of a
// previous run.

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/perfgo/tpdiff/history"
	"github.com/perfgo/tpdiff/model"
)

func removeFirstDashDash(in []string) []string {
	if len(in) > 0 && in[0] == "--" {
		return in[1:]
	}
	return in
}

// parseViewArgs splits the view arguments into the run ID or index and the
// test name substrings the timings are filtered by.
func parseViewArgs(in []string) (idArg string, names []string) {
	if len(in) == 0 {
		return "0", nil
	}

	// If first arg is "--", use default "0" and rest are names
	if in[0] == "--" {
		return "0", in[1:]
	}

	// First arg is the ID/index, rest are names (with optional "--" removed)
	return in[0], removeFirstDashDash(in[1:])
}

func (a *App) view(ctx *cli.Context) error {
	arg, names := parseViewArgs(ctx.Args().Slice())

	historyDir, err := a.historyDir(ctx)
	if err != nil {
		return err
	}

	// Load all history entries, newest first
	historyEntries, err := history.LoadEntries(a.logger, historyDir)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	targetEntry, err := history.Find(historyEntries, arg)
	if err != nil {
		return err
	}

	displayHistoryEntry(a.out, targetEntry, names)
	return nil
}

func displayHistoryEntry(w io.Writer, entry *history.Entry, names []string) {
	h := entry.History

	// Print header
	fmt.Fprintf(w, "=== Run: %s ===\n", shortID(h.ID))
	fmt.Fprintf(w, "Time: %s\n", h.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Duration: %s\n", h.Duration)
	fmt.Fprintf(w, "Exit Code: %d\n", h.ExitCode)
	if h.WorkDir != "" {
		fmt.Fprintf(w, "Working Dir: %s\n", h.WorkDir)
	}
	if h.Engine != "" {
		fmt.Fprintf(w, "Engine: %s\n", h.Engine)
	}
	if h.NameFilter != "" {
		fmt.Fprintf(w, "Name Filter: %s\n", h.NameFilter)
	}
	if h.Git != nil && h.Git.Commit != "" {
		fmt.Fprintf(w, "Git Commit: %s", shortID(h.Git.Commit))
		if h.Git.Branch != "" {
			fmt.Fprintf(w, " (%s)", h.Git.Branch)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	r := h.Report
	if r == nil {
		fmt.Fprintln(w, "No results recorded")
		fmt.Fprintf(w, "History directory: %s\n", entry.FullPath)
		return
	}

	fmt.Fprintf(w, "Tests: %d ran, %d passed, %d failed, %d skipped\n", r.Total, r.Passed, len(r.Failures), r.Skipped)
	for _, name := range r.Failures {
		fmt.Fprintf(w, "  FAILED %s\n", name)
	}

	var samples []model.PerfSample
	for _, p := range r.Perf {
		if matchesAny(p.Test, names) {
			samples = append(samples, p)
		}
	}
	if len(samples) == 0 {
		return
	}

	// Slowest first
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].IngestNs+samples[i].RealNs > samples[j].IngestNs+samples[j].RealNs
	})
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%12s %12s  %s\n", "ingest (ms)", "query (ms)", "test")
	for _, p := range samples {
		fmt.Fprintf(w, "%12.2f %12.2f  %s\n", float64(p.IngestNs)/1e6, float64(p.RealNs)/1e6, p.Test)
	}
}

func matchesAny(name string, substrings []string) bool {
	if len(substrings) == 0 {
		return true
	}
	for _, s := range substrings {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}
