//go:build windows

package supervisor

import (
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

// terminateGroup kills the process: windows has no portable graceful signal.
func terminateGroup(cmd *exec.Cmd) error {
	return killGroup(cmd)
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
