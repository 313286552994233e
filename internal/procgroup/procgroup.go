// Package procgroup starts external tools in their own process group so the
// whole tree (ffmpeg and any helpers it forks) can be signalled at once.
package procgroup

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Prepare places cmd in a new process group and makes context cancellation
// kill the group instead of only the direct child.
func Prepare(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	cmd.Cancel = func() error {
		return Kill(cmd)
	}
}

// Kill sends SIGKILL to the process group led by cmd. A process that has
// already exited is not an error.
func Kill(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGKILL)
}

// Interrupt sends SIGINT to the process group led by cmd.
func Interrupt(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGINT)
}

func signalGroup(cmd *exec.Cmd, sig unix.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if pid <= 0 {
		return nil
	}
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
