//go:build !windows

package daemon

import (
	"errors"
	"syscall"
)

func processAlive(pid int) bool {
	// Signal 0 probes for the process. EPERM means it exists under another user.
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func terminate(pid int) error { return syscall.Kill(pid, syscall.SIGTERM) }

func kill(pid int) error { return syscall.Kill(pid, syscall.SIGKILL) }
