//go:build windows

package cmd

import (
	"os"
	"os/exec"
)

// setDaemonAttrs is a no-op on Windows.
func setDaemonAttrs(_ *exec.Cmd) {}

// shutdownSignals end long-running commands gracefully.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
