//go:build !windows

package shell

import (
	"os/exec"
	"syscall"
)

// setProcAttrs puts the child in its own process group so that the SIGKILL
// step of signal escalation (terminateProcess) reaches any children the
// shell spawns, not just the shell itself. The initial SIGTERM is sent to
// the shell process only.
func setProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateProcess sends SIGKILL to the whole process group so that any
// children the shell spawned are reaped along with it.
func terminateProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}
