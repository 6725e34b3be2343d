package executor

// exec.go runs the engine binary and captures its output.

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

// waitDelay bounds how long output pipes are drained after the engine was
// killed.
const waitDelay = 5 * time.Second

// outcome is the captured result of one engine process.
type outcome struct {
	stdout   []byte
	stderr   string
	exitCode int
}

// Env returns the environment the engine runs with. Only PATH is inherited
// from the caller.
func Env(rootDir string) []string {
	host := "linux64"
	if runtime.GOOS == "darwin" {
		host = "mac"
	}
	env := []string{
		"PERFETTO_BINARY_PATH=" + filepath.Join(rootDir, "test", "data"),
		"PERFETTO_SYMBOLIZER_MODE=index",
		"LLVM_SYMBOLIZER_PATH=" + filepath.Join(rootDir, "buildtools", host, "clang", "bin", "llvm-symbolizer"),
	}
	if path, ok := os.LookupEnv("PATH"); ok {
		env = append(env, "PATH="+path)
	}
	return env
}

// runEngine executes cmd and waits for it to exit. A non-zero exit code is
// not an error; errors are returned only if the process could not run.
func (e *Executor) runEngine(ctx context.Context, cmdline []string) (*outcome, error) {
	cmd := exec.CommandContext(ctx, cmdline[0], cmdline[1:]...)
	cmd.Env = Env(e.cfg.RootDir)
	cmd.WaitDelay = waitDelay
	isolate(cmd)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	e.logger.Debug().
		Str("binary", cmdline[0]).
		Strs("args", cmdline[1:]).
		Msg("Starting engine")

	err := cmd.Run()
	out := &outcome{stdout: stdoutBuf.Bytes(), stderr: stderrBuf.String()}
	if err == nil {
		return out, nil
	}

	// Test failures are expected to return non-zero exit codes
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.exitCode = exitErr.ExitCode()
		if ctx.Err() != nil {
			// Killed by signal, ExitCode reports -1.
			out.exitCode = -1
		}
		e.logger.Debug().
			Int("exit_code", out.exitCode).
			Msg("Engine exited with failure")
		return out, nil
	}
	if ctx.Err() != nil && cmd.ProcessState != nil {
		out.exitCode = -1
		return out, nil
	}
	return nil, fmt.Errorf("failed to execute engine: %w", err)
}
