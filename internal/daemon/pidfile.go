package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

var (
	// ErrAlreadyRunning is returned by Acquire when another server holds the lock.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrNotRunning is returned by Stop when no live server is recorded.
	ErrNotRunning = errors.New("server not running")
)

const stopPoll = 100 * time.Millisecond

// PIDFile tracks the background server. The PID is written to Path and a
// lock on Path+".lock" is held for the life of the server so a second
// instance cannot start against the same state directory.
type PIDFile struct {
	Path string

	lock *flock.Flock
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path, lock: flock.New(path + ".lock")}
}

// Acquire takes the instance lock and records the current PID.
func (p *PIDFile) Acquire() error {
	ok, err := p.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", p.lock.Path(), err)
	}
	if !ok {
		if pid, rerr := p.Read(); rerr == nil {
			return fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, pid)
		}
		return ErrAlreadyRunning
	}
	if err := p.Write(); err != nil {
		_ = p.lock.Unlock()
		return err
	}
	return nil
}

// Release removes the PID file and drops the instance lock.
func (p *PIDFile) Release() error {
	return errors.Join(p.Remove(), p.lock.Unlock())
}

// Locked reports whether some process holds the instance lock. It is false
// for a PID file left behind by a crashed server.
func (p *PIDFile) Locked() bool {
	probe := flock.New(p.lock.Path())
	ok, err := probe.TryLock()
	if err != nil {
		return false
	}
	if ok {
		_ = probe.Unlock()
		return false
	}
	return true
}

// Write writes the current process's PID to the file.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID writes the given PID to the file.
func (p *PIDFile) WritePID(pid int) error {
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read reads the PID from the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// Remove deletes the PID file. A missing file is not an error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// IsRunning returns the recorded PID and whether that process is alive.
func (p *PIDFile) IsRunning() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	return pid, processAlive(pid)
}

// Stop asks the recorded server to terminate and waits up to grace for it to
// exit, killing it after that. forced reports whether the kill was needed.
// The PID file is removed once the process is gone.
func (p *PIDFile) Stop(grace time.Duration) (pid int, forced bool, err error) {
	pid, running := p.IsRunning()
	if !running {
		return pid, false, ErrNotRunning
	}
	if err := terminate(pid); err != nil {
		return pid, false, fmt.Errorf("stop server: %w", err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		time.Sleep(stopPoll)
		if !processAlive(pid) {
			return pid, false, p.Remove()
		}
	}

	if err := kill(pid); err != nil {
		return pid, true, fmt.Errorf("kill server: %w", err)
	}
	return pid, true, p.Remove()
}
