//go:build windows

package shell

import "os/exec"

// setProcAttrs is a no-op on windows; process groups are handled via
// job objects, which this supervisor does not yet manage.
func setProcAttrs(cmd *exec.Cmd) {}

func terminateProcess(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
