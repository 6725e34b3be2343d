//go:build !unix

package executor

import "os/exec"

func isolate(*exec.Cmd) {}
