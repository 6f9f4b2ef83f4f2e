package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/osp/internal/models"
)

func (s *countingScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scheduled)
}

func runWatch(t *testing.T, r *Runner, daily, poll time.Duration) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Watch(ctx, daily, poll)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestWatch_ResumesRunInFlight(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 2, models.ProjectStatusPublish)
	sched := &countingScheduler{}
	r := newRunner(t, s, &fakeRefresher{}, sched)

	_, err := r.Enqueue(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, sched.count())

	runWatch(t, r, 0, 0)
	assert.Eventually(t, func() bool { return sched.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestWatch_IdleDoesNotSchedule(t *testing.T) {
	s := newTestStore(t)
	sched := &countingScheduler{}
	r := newRunner(t, s, &fakeRefresher{}, sched)

	runWatch(t, r, 0, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sched.count())
}

func TestWatch_DailyEnqueue(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 3, models.ProjectStatusPublish)
	sched := &countingScheduler{}
	r := newRunner(t, s, &fakeRefresher{}, sched)

	runWatch(t, r, 20*time.Millisecond, 0)
	require.Eventually(t, func() bool {
		p, err := r.Progress(context.Background())
		return err == nil && p.Running && p.Total == 3
	}, time.Second, 5*time.Millisecond)

	// Later ticks find the run in flight and leave it alone.
	time.Sleep(60 * time.Millisecond)
	p, err := r.Progress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatePreparing, p.State)
	assert.Equal(t, 1, sched.count())
}
