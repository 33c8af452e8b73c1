//go:build windows

package executor

import "os/exec"

// setProcessGroup is a no-op on Windows; group-kill falls back to
// killing the single tracked process (no POSIX process groups).
func setProcessGroup(cmd *exec.Cmd) {}

func InterruptGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func ForceKillGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
