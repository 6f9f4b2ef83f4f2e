//go:build windows

package daemon

import "os"

// processAlive relies on FindProcess opening a handle, which fails for
// processes that have exited.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = proc.Release()
	return true
}

// terminate has no graceful variant on Windows; the server is killed.
func terminate(pid int) error { return kill(pid) }

func kill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
