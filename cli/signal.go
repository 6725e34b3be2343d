package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

var selfName = filepath.Base(os.Args[0])

// installSignalHandler cancels the run on SIGINT or SIGTERM, kills the engines
// still running and exits. The returned function uninstalls the handler.
func installSignalHandler(out io.Writer, cancel context.CancelFunc) (stop func()) {
	ch := make(chan os.Signal, 1)
	go func() {
		sig, ok := <-ch
		if !ok {
			return
		}
		fmt.Fprintf(out, "\n%s: Caught %v signal; exiting\n", selfName, sig)
		cancel()
		terminateChildren(out)
		os.Exit(1)
	}()
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM)

	return func() {
		signal.Stop(ch)
		close(ch)
	}
}

// terminateChildren kills the process groups of all direct children. Engines
// run in their own group, so this also reaches anything they spawned.
func terminateChildren(out io.Writer) {
	procs, err := process.Processes()
	if err != nil {
		fmt.Fprintf(out, "Failed to terminate subprocesses: %v\n", err)
		return
	}

	selfPid := int32(os.Getpid())

	for _, proc := range procs {
		ppid, err := proc.Ppid()
		if err != nil {
			continue
		}
		if ppid == selfPid {
			unix.Kill(-int(proc.Pid), unix.SIGKILL)
			proc.Terminate()
		}
	}
}
