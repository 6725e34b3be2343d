package cli

// This file contains the list command for displaying previous runs.

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/perfgo/tpdiff/history"
)

func (a *App) historyDir(ctx *cli.Context) (string, error) {
	if dir := ctx.String("history-dir"); dir != "" {
		return dir, nil
	}
	return history.DefaultDir()
}

func (a *App) list(ctx *cli.Context) error {
	filterPath := ctx.String("path")
	limit := ctx.Int("limit")

	historyDir, err := a.historyDir(ctx)
	if err != nil {
		return err
	}

	// Load all history entries, newest first
	historyEntries, err := history.LoadEntries(a.logger, historyDir)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	// Apply path filter if specified
	var filteredEntries []history.Entry
	for _, entry := range historyEntries {
		if filterPath == "" || strings.Contains(entry.History.WorkDir, filterPath) {
			filteredEntries = append(filteredEntries, entry)
		}
	}

	printHistoryList(a.out, filteredEntries, limit, filterPath)
	return nil
}

func printHistoryList(w io.Writer, entries []history.Entry, limit int, filterPath string) {
	if len(entries) == 0 {
		if filterPath != "" {
			fmt.Fprintf(w, "No history entries found matching path: %s\n", filterPath)
		} else {
			fmt.Fprintln(w, "No history entries found")
		}
		return
	}

	// Apply limit
	displayRuns := entries
	if limit > 0 && limit < len(displayRuns) {
		displayRuns = displayRuns[:limit]
	}

	fmt.Fprintf(w, "\n=== History (%d total) ===\n\n", len(entries))

	for _, entry := range displayRuns {
		tr := entry.History
		timestamp := tr.Timestamp.Format("2006-01-02 15:04:05")

		// Format duration
		duration := tr.Duration.Round(time.Millisecond)

		// Determine status indicator
		status := "✓"
		if tr.ExitCode != 0 {
			status = "✗"
		}

		// Format args (skip the program name)
		args := ""
		if len(tr.Args) > 1 {
			args = strings.Join(tr.Args[1:], " ")
		}

		fmt.Fprintf(w, "%s  %s  [%s]  exit=%d  id=%s\n", status, timestamp, duration, tr.ExitCode, shortID(tr.ID))
		if args != "" {
			fmt.Fprintf(w, "   Args: %s\n", args)
		}
		if tr.WorkDir != "" {
			fmt.Fprintf(w, "   Path: %s\n", tr.WorkDir)
		}
		if tr.Engine != "" {
			fmt.Fprintf(w, "   Engine: %s\n", tr.Engine)
		}
		if tr.Git != nil && tr.Git.Commit != "" {
			fmt.Fprintf(w, "   Commit: %s", shortID(tr.Git.Commit))
			if tr.Git.Branch != "" {
				fmt.Fprintf(w, " (%s)", tr.Git.Branch)
			}
			fmt.Fprintln(w)
		}
		if r := tr.Report; r != nil {
			fmt.Fprintf(w, "   Tests: %d passed, %d failed, %d skipped\n", r.Passed, len(r.Failures), r.Skipped)
		}
		fmt.Fprintf(w, "   %s\n", entry.FullPath)
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "View a run: %s view <ID>\n", AppName)
}

// shortID returns the first 8 characters of an ID or commit hash.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
