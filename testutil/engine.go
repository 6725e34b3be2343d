package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// FakeEngine describes the behaviour of a stand-in for the engine binary.
type FakeEngine struct {
	Stdout   []byte
	Stderr   string
	ExitCode int
	// Line written to the file following --perf-file. Defaults to "12,34".
	Perf string
	// Seconds to sleep before answering
	Sleep int
	// If set, the engine's arguments are written there, one per line
	ArgsFile string
	// If set, the engine's environment is written there
	EnvFile string
}

// WriteFakeEngine writes e as a shell script into dir and returns its path.
func WriteFakeEngine(t *testing.T, dir string, e FakeEngine) string {
	t.Helper()

	stdout := filepath.Join(dir, "engine.stdout")
	if err := os.WriteFile(stdout, e.Stdout, 0644); err != nil {
		t.Fatal(err)
	}
	stderr := filepath.Join(dir, "engine.stderr")
	if err := os.WriteFile(stderr, []byte(e.Stderr), 0644); err != nil {
		t.Fatal(err)
	}
	perf := e.Perf
	if perf == "" {
		perf = "12,34"
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("perf=\"\"\nprev=\"\"\n")
	b.WriteString("for arg in \"$@\"; do\n")
	b.WriteString("  if [ \"$prev\" = \"--perf-file\" ]; then perf=\"$arg\"; fi\n")
	b.WriteString("  prev=\"$arg\"\n")
	b.WriteString("done\n")
	if e.ArgsFile != "" {
		fmt.Fprintf(&b, "printf '%%s\\n' \"$@\" > '%s'\n", e.ArgsFile)
	}
	if e.EnvFile != "" {
		fmt.Fprintf(&b, "env > '%s'\n", e.EnvFile)
	}
	if e.Sleep > 0 {
		fmt.Fprintf(&b, "sleep %d\n", e.Sleep)
	}
	fmt.Fprintf(&b, "if [ -n \"$perf\" ]; then printf '%%s\\n' '%s' > \"$perf\"; fi\n", perf)
	fmt.Fprintf(&b, "cat '%s'\n", stdout)
	fmt.Fprintf(&b, "cat '%s' >&2\n", stderr)
	fmt.Fprintf(&b, "exit %d\n", e.ExitCode)

	return WriteExecutable(t, dir, "engine", b.String())
}
