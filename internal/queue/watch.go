package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Watch keeps background refreshes going until ctx is done. It resumes a run
// left in flight, enqueues a catalog-wide run every daily interval and, every
// poll interval, arms the scheduler for runs queued by other processes.
// A non-positive interval disables that trigger.
func (r *Runner) Watch(ctx context.Context, daily, poll time.Duration) {
	r.kick(ctx)

	var dailyC, pollC <-chan time.Time
	if daily > 0 {
		t := time.NewTicker(daily)
		defer t.Stop()
		dailyC = t.C
	}
	if poll > 0 {
		t := time.NewTicker(poll)
		defer t.Stop()
		pollC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-dailyC:
			if _, err := r.Enqueue(ctx, nil); err != nil {
				if errors.Is(err, ErrAlreadyRunning) {
					slog.Info("scheduled refresh skipped", "reason", err)
					continue
				}
				slog.Error("scheduled refresh", "error", err)
			}
		case <-pollC:
			r.kick(ctx)
		}
	}
}

// kick arms the scheduler when a run is in flight.
func (r *Runner) kick(ctx context.Context) {
	p, err := r.Progress(ctx)
	if err != nil {
		slog.Warn("load refresh progress", "error", err)
		return
	}
	if p.Running {
		r.scheduler.Schedule(0)
	}
}
