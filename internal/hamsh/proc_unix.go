//go:build unix

package hamsh

import (
	"errors"
	"os/exec"
	"syscall"
)

// setProcessGroup puts a background stage into its own process group so
// terminal signals aimed at the shell do not reach it.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// exitStatus converts the result of cmd.Run into a shell exit code. ok is
// false when the process could not be started at all.
func exitStatus(err error) (int, bool) {
	if err == nil {
		return 0, true
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return 0, false
	}
	if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), true
	}
	return ee.ExitCode(), true
}
