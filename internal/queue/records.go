package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/joescharf/osp/internal/store"
)

// Option record names.
const (
	queueOption    = "queue"
	progressOption = "progress"
)

// maxSaveAttempts bounds the load-modify-save retry loop on version conflicts.
const maxSaveAttempts = 5

// OptionStore is the versioned key-value storage the queue persists into.
type OptionStore interface {
	GetOption(ctx context.Context, name string) (*store.Option, error)
	PutOption(ctx context.Context, name string, value []byte, expectedVersion int64) (int64, error)
	DeleteOption(ctx context.Context, name string) error
}

// pending is the persisted refresh queue.
type pending struct {
	IDs []string `json:"ids"`

	version int64
}

// records loads and saves the queue and progress option records.
type records struct {
	opts OptionStore
}

func (r records) load(ctx context.Context, name string, v any) (int64, error) {
	opt, err := r.opts.GetOption(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", name, err)
	}
	if err := json.Unmarshal(opt.Value, v); err != nil {
		return 0, fmt.Errorf("decode %s: %w", name, err)
	}
	return opt.Version, nil
}

func (r records) save(ctx context.Context, name string, v any, expected int64) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", name, err)
	}
	version, err := r.opts.PutOption(ctx, name, data, expected)
	if err != nil {
		return 0, fmt.Errorf("save %s: %w", name, err)
	}
	return version, nil
}

func (r records) loadQueue(ctx context.Context) (*pending, error) {
	q := &pending{}
	v, err := r.load(ctx, queueOption, q)
	if err != nil {
		return nil, err
	}
	q.version = v
	return q, nil
}

func (r records) saveQueue(ctx context.Context, q *pending) error {
	v, err := r.save(ctx, queueOption, q, q.version)
	if err != nil {
		return err
	}
	q.version = v
	return nil
}

func (r records) loadProgress(ctx context.Context) (*Progress, error) {
	p := idleProgress()
	v, err := r.load(ctx, progressOption, p)
	if err != nil {
		return nil, err
	}
	if !p.State.Valid() {
		p.State = StateIdle
	}
	p.version = v
	return p, nil
}

func (r records) saveProgress(ctx context.Context, p *Progress) error {
	v, err := r.save(ctx, progressOption, p, p.version)
	if err != nil {
		return err
	}
	p.version = v
	return nil
}

// updateProgress loads the progress record, applies fn and saves it with a
// version check, retrying on conflicts. fn may run several times.
func (r records) updateProgress(ctx context.Context, fn func(*Progress) error) (*Progress, error) {
	var lastErr error
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		p, err := r.loadProgress(ctx)
		if err != nil {
			return nil, err
		}
		if err := fn(p); err != nil {
			return p, err
		}
		err = r.saveProgress(ctx, p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (r records) reset(ctx context.Context) error {
	return errors.Join(
		r.opts.DeleteOption(ctx, queueOption),
		r.opts.DeleteOption(ctx, progressOption),
	)
}
