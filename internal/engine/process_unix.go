//go:build !windows

package engine

import (
	"os"
	"os/exec"
	"syscall"
)

// setSysProcAttr detaches the child process from the parent session.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}

// pidAlive 用信号 0 探测进程是否存活，不会真正打断目标进程。
// pidAlive probes a pid with signal 0, which never interrupts the target.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
