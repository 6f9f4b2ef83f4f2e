package queue

import (
	"sync"
	"time"
)

// Scheduler arms the deferred follow-up batch. Implementations keep at most
// one pending invocation: Schedule is a no-op while one is pending.
type Scheduler interface {
	Schedule(delay time.Duration)
	Cancel()
}

// NopScheduler never runs anything. Foreground callers drain the queue
// themselves.
type NopScheduler struct{}

func (NopScheduler) Schedule(time.Duration) {}
func (NopScheduler) Cancel()                {}

// TimerScheduler runs fn once after the scheduled delay on its own goroutine.
type TimerScheduler struct {
	fn func()

	mu    sync.Mutex
	timer *time.Timer
}

// NewTimerScheduler returns a scheduler invoking fn.
func NewTimerScheduler(fn func()) *TimerScheduler {
	return &TimerScheduler{fn: fn}
}

// Schedule arms a one-shot timer unless one is already pending.
func (s *TimerScheduler) Schedule(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(delay, s.fire)
}

func (s *TimerScheduler) fire() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()
	s.fn()
}

// Pending reports whether an invocation is armed.
func (s *TimerScheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Cancel disarms the pending invocation, if any.
func (s *TimerScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
