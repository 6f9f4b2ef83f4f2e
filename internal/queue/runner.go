package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/joescharf/osp/internal/models"
	"github.com/joescharf/osp/internal/refresh"
	"github.com/joescharf/osp/internal/store"
)

// DefaultBatchDelay separates two scheduled batches.
const DefaultBatchDelay = 10 * time.Second

var (
	// ErrAlreadyRunning is returned by Enqueue while a run is in flight.
	ErrAlreadyRunning = errors.New("a refresh run is already in progress")

	// ErrBatchInProgress is returned by RunBatch when another batch holds the lock.
	ErrBatchInProgress = errors.New("another refresh batch is running")

	// errRunReplaced stops a batch whose run was reset underneath it.
	errRunReplaced = errors.New("refresh run was reset")
)

// Catalog is the part of the project store the runner reads.
type Catalog interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ListProjects(ctx context.Context, filter store.ProjectListFilter) ([]*models.Project, error)
}

// Config holds runner settings.
type Config struct {
	// LockPath is the cross-process batch lock file. Empty disables it.
	LockPath   string
	BatchDelay time.Duration
}

// BatchResult describes one RunBatch invocation.
type BatchResult struct {
	RunID     string           `json:"run_id"`
	Items     []refresh.Result `json:"items"`
	Remaining int              `json:"remaining"`
	Done      bool             `json:"done"`
}

// Runner drives the refresh queue: Enqueue fills it, RunBatch drains it one
// batch at a time and re-arms the scheduler while entries remain.
type Runner struct {
	records   records
	catalog   Catalog
	refresher refresh.ProjectRefresher
	scheduler Scheduler
	delay     time.Duration

	mu   sync.Mutex
	lock *flock.Flock
	now  func() time.Time
}

// NewRunner creates a Runner. A nil scheduler disables deferred batches.
func NewRunner(opts OptionStore, catalog Catalog, pr refresh.ProjectRefresher, sched Scheduler, cfg Config) *Runner {
	if sched == nil {
		sched = NopScheduler{}
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = DefaultBatchDelay
	}
	r := &Runner{
		records:   records{opts: opts},
		catalog:   catalog,
		refresher: pr,
		scheduler: sched,
		delay:     cfg.BatchDelay,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if cfg.LockPath != "" {
		r.lock = flock.New(cfg.LockPath)
	}
	return r
}

// SetScheduler replaces the scheduler. It lets a TimerScheduler wrap the
// runner it serves.
func (r *Runner) SetScheduler(s Scheduler) {
	if s == nil {
		s = NopScheduler{}
	}
	r.scheduler = s
}

// Progress returns the current progress record.
func (r *Runner) Progress(ctx context.Context) (*Progress, error) {
	return r.records.loadProgress(ctx)
}

// Enqueue starts a run over ids, or over every publish and draft entry in
// creation order when ids is empty.
func (r *Runner) Enqueue(ctx context.Context, ids []string) (*Progress, error) {
	p, err := r.records.loadProgress(ctx)
	if err != nil {
		return nil, err
	}
	if p.Running {
		return nil, ErrAlreadyRunning
	}

	if len(ids) == 0 {
		projects, err := r.catalog.ListProjects(ctx, store.ProjectListFilter{
			Statuses: []models.ProjectStatus{models.ProjectStatusPublish, models.ProjectStatusDraft},
		})
		if err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}
		for _, proj := range projects {
			ids = append(ids, proj.ID)
		}
	}
	ids = uniqueIDs(ids)

	if p.State == StateFinished {
		if err := p.transition(StateIdle); err != nil {
			return nil, err
		}
	}
	if err := p.transition(StatePreparing); err != nil {
		return nil, err
	}
	now := r.now()
	next := &Progress{
		RunID:          uuid.NewString(),
		State:          StatePreparing,
		Running:        true,
		Total:          len(ids),
		ProcessedItems: []ProcessedItem{},
		FailedItems:    []FailedItem{},
		StartedAt:      &now,
		BatchSize:      BatchSize(len(ids)),
		Message:        fmt.Sprintf("Preparing refresh of %d projects", len(ids)),
		UpdatedAt:      now,
		version:        p.version,
	}
	if len(ids) == 0 {
		if err := next.finish(now); err != nil {
			return nil, err
		}
		next.Message = "No projects to refresh"
	}

	// Claim the run first; a losing concurrent enqueue never touches the queue.
	if err := r.records.saveProgress(ctx, next); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, ErrAlreadyRunning
		}
		return nil, err
	}

	q, err := r.records.loadQueue(ctx)
	if err == nil {
		q.IDs = ids
		err = r.records.saveQueue(ctx, q)
	}
	if err != nil {
		r.abandonRun(ctx, next.RunID, err)
		return nil, err
	}

	slog.Info("refresh enqueued", "run_id", next.RunID, "total", next.Total, "batch_size", next.BatchSize)
	if next.Running {
		r.scheduler.Schedule(0)
	}
	return next, nil
}

// RunBatch refreshes up to one batch of queued entries. It returns
// ErrBatchInProgress without touching any state when another batch is
// running, in this process or another one.
func (r *Runner) RunBatch(ctx context.Context) (*BatchResult, error) {
	res, err := r.runBatch(ctx)
	// Arm the follow-up only after the lock is released so it cannot collide
	// with this batch.
	if err == nil && res.Remaining > 0 {
		r.scheduler.Schedule(r.delay)
	}
	return res, err
}

func (r *Runner) runBatch(ctx context.Context) (*BatchResult, error) {
	if !r.mu.TryLock() {
		return nil, ErrBatchInProgress
	}
	defer r.mu.Unlock()

	if r.lock != nil {
		ok, err := r.lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire batch lock: %w", err)
		}
		if !ok {
			return nil, ErrBatchInProgress
		}
		defer func() {
			if err := r.lock.Unlock(); err != nil {
				slog.Warn("release batch lock", "error", err)
			}
		}()
	}
	if c, ok := r.refresher.(interface{ Cleanup() error }); ok {
		defer func() {
			if err := c.Cleanup(); err != nil {
				slog.Warn("remove scratch directories", "error", err)
			}
		}()
	}

	q, err := r.records.loadQueue(ctx)
	if err != nil {
		return nil, err
	}
	p, err := r.records.loadProgress(ctx)
	if err != nil {
		return nil, err
	}
	result := &BatchResult{RunID: p.RunID}

	if len(q.IDs) == 0 {
		result.Done = true
		if p.State == StatePreparing || p.State == StateProcessing {
			if _, err := r.updateRun(ctx, p.RunID, func(p *Progress) error { return p.finish(r.now()) }); err != nil {
				return nil, err
			}
		}
		return result, nil
	}

	size := p.BatchSize
	if size <= 0 {
		size = BatchSize(len(q.IDs))
	}
	if size > len(q.IDs) {
		size = len(q.IDs)
	}
	batch := q.IDs[:size]
	rest := q.IDs[size:]

	if _, err := r.updateRun(ctx, p.RunID, func(p *Progress) error {
		if err := p.transition(StateProcessing); err != nil {
			return err
		}
		p.announce(r.ref(ctx, batch[0]))
		return nil
	}); err != nil {
		return nil, err
	}

	for i, id := range batch {
		if err := ctx.Err(); err != nil {
			// Put the unprocessed part of the batch back at the front.
			q.IDs = append(append([]string{}, batch[i:]...), rest...)
			if saveErr := r.records.saveQueue(context.WithoutCancel(ctx), q); saveErr != nil {
				slog.Warn("save queue after cancel", "error", saveErr)
			}
			return result, err
		}

		res := refresh.SafeProject(ctx, r.refresher, id)
		result.Items = append(result.Items, res)
		logResult(res)

		var next *ItemRef
		switch {
		case i+1 < len(batch):
			next = r.ref(ctx, batch[i+1])
		case len(rest) > 0:
			next = r.ref(ctx, rest[0])
		}
		if _, err := r.updateRun(ctx, p.RunID, func(p *Progress) error {
			p.record(res)
			p.announce(next)
			return nil
		}); err != nil {
			return result, err
		}
	}

	q.IDs = rest
	if err := r.records.saveQueue(ctx, q); err != nil {
		return result, err
	}
	result.Remaining = len(rest)

	if len(rest) > 0 {
		return result, nil
	}

	final, err := r.updateRun(ctx, p.RunID, func(p *Progress) error { return p.finish(r.now()) })
	if err != nil {
		return result, err
	}
	result.Done = true
	slog.Info("refresh finished", "run_id", final.RunID, "processed", final.Processed, "failed", final.Failed)
	return result, nil
}

// Drain runs batches back to back until the queue is empty.
func (r *Runner) Drain(ctx context.Context) (*Progress, error) {
	for {
		res, err := r.RunBatch(ctx)
		if err != nil {
			return nil, err
		}
		if res.Done {
			return r.Progress(ctx)
		}
	}
}

// Reset clears the queue and progress records, returning the runner to idle.
// It recovers from a running flag left behind by a crashed process.
func (r *Runner) Reset(ctx context.Context) error {
	r.scheduler.Cancel()
	if err := r.records.reset(ctx); err != nil {
		return fmt.Errorf("reset refresh state: %w", err)
	}
	slog.Info("refresh state reset")
	return nil
}

// Trigger runs one batch and logs the outcome. It is the TimerScheduler callback.
func (r *Runner) Trigger(ctx context.Context) {
	if _, err := r.RunBatch(ctx); err != nil {
		if errors.Is(err, ErrBatchInProgress) {
			slog.Debug("batch skipped", "reason", err)
			return
		}
		slog.Error("refresh batch", "error", err)
	}
}

// abandonRun finishes a run whose queue could not be written, so its
// running flag does not outlive the failed enqueue.
func (r *Runner) abandonRun(ctx context.Context, runID string, cause error) {
	_, err := r.updateRun(context.WithoutCancel(ctx), runID, func(p *Progress) error {
		if !p.Running {
			return nil
		}
		if err := p.finish(r.now()); err != nil {
			return err
		}
		p.Message = "Enqueue failed: " + cause.Error()
		return nil
	})
	if err != nil {
		slog.Error("abandon refresh run", "run_id", runID, "error", err)
	}
}

// updateRun applies fn to the progress of runID, failing if the run was reset.
func (r *Runner) updateRun(ctx context.Context, runID string, fn func(*Progress) error) (*Progress, error) {
	return r.records.updateProgress(ctx, func(p *Progress) error {
		if p.RunID != runID {
			return errRunReplaced
		}
		if err := fn(p); err != nil {
			return err
		}
		p.UpdatedAt = r.now()
		return nil
	})
}

func (r *Runner) ref(ctx context.Context, id string) *ItemRef {
	title := refresh.DisplayTitle("", "", id)
	if p, err := r.catalog.GetProject(ctx, id); err == nil {
		title = refresh.DisplayTitle(p.Title, p.RepoURL, p.ID)
	}
	return &ItemRef{ID: id, Title: title}
}

func logResult(res refresh.Result) {
	if res.OK() {
		slog.Info("project refreshed", "id", res.ID, "title", res.Title, "redirected", res.Redirected)
		return
	}
	slog.Warn("project not refreshed", "id", res.ID, "title", res.Title, "outcome", res.Outcome,
		"kind", res.Kind, "error", res.Error)
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
