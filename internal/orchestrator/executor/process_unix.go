//go:build !windows

package executor

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the child in its own process group so the
// supervisor can signal the whole group on force-kill.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// KillGroup sends sig to the child's entire process group.
func KillGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, sig)
}

// InterruptGroup sends SIGINT to the child's process group for a
// graceful-stop attempt.
func InterruptGroup(cmd *exec.Cmd) error {
	return KillGroup(cmd, syscall.SIGINT)
}

// ForceKillGroup sends SIGKILL to the child's process group.
func ForceKillGroup(cmd *exec.Cmd) error {
	return KillGroup(cmd, syscall.SIGKILL)
}
