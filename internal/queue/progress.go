package queue

import (
	"fmt"
	"time"

	"github.com/joescharf/osp/internal/refresh"
)

// Largest number of entries refreshed by one batch.
const maxBatchSize = 10

// BatchSize returns how many entries a batch refreshes for a queue of total
// entries: 1 below 100 entries, else ceil(total/100) capped at 10.
func BatchSize(total int) int {
	if total < 100 {
		return 1
	}
	n := (total + 99) / 100
	if n > maxBatchSize {
		return maxBatchSize
	}
	return n
}

// ItemRef identifies the entry currently being refreshed.
type ItemRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ProcessedItem is an audit entry for a refreshed entry.
type ProcessedItem struct {
	ID      string          `json:"id"`
	Title   string          `json:"title"`
	Outcome refresh.Outcome `json:"outcome"`
}

// FailedItem is an audit entry for an entry that could not be refreshed.
type FailedItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Error string `json:"error"`
}

// Progress is the persisted state of the current or last refresh run.
type Progress struct {
	RunID          string          `json:"run_id,omitempty"`
	State          State           `json:"state"`
	Running        bool            `json:"running"`
	Total          int             `json:"total"`
	Processed      int             `json:"processed"`
	Failed         int             `json:"failed"`
	ProcessedItems []ProcessedItem `json:"processed_items"`
	FailedItems    []FailedItem    `json:"failed_items"`
	Current        *ItemRef        `json:"current"`
	Message        string          `json:"message"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	BatchSize      int             `json:"batch_size"`
	UpdatedAt      time.Time       `json:"updated_at"`

	version int64
}

func idleProgress() *Progress {
	return &Progress{State: StateIdle, ProcessedItems: []ProcessedItem{}, FailedItems: []FailedItem{}}
}

// Remaining is the number of entries not yet refreshed in this run.
func (p *Progress) Remaining() int {
	if r := p.Total - p.Processed - p.Failed; r > 0 {
		return r
	}
	return 0
}

// Percent is the share of the run already handled, 0 to 100.
func (p *Progress) Percent() int {
	if p.Total == 0 {
		if p.State == StateFinished {
			return 100
		}
		return 0
	}
	return (p.Processed + p.Failed) * 100 / p.Total
}

func (p *Progress) transition(to State) error {
	if !p.State.CanTransition(to) {
		return &InvalidTransitionError{From: p.State, To: to}
	}
	p.State = to
	if to != StateProcessing {
		p.Current = nil
	}
	return nil
}

// record applies the outcome of one entry to the counters and audit logs.
func (p *Progress) record(res refresh.Result) {
	if p.Processed+p.Failed >= p.Total {
		return
	}
	if res.OK() {
		p.Processed++
		p.ProcessedItems = append(p.ProcessedItems, ProcessedItem{ID: res.ID, Title: res.Title, Outcome: res.Outcome})
		return
	}
	p.Failed++
	p.FailedItems = append(p.FailedItems, FailedItem{ID: res.ID, Title: res.Title, Error: res.Error})
}

func (p *Progress) announce(ref *ItemRef) {
	p.Current = ref
	if ref == nil {
		return
	}
	p.Message = fmt.Sprintf("Processing %s (%d/%d)", ref.Title, p.Processed+p.Failed+1, p.Total)
}

func (p *Progress) finish(now time.Time) error {
	if err := p.transition(StateFinished); err != nil {
		return err
	}
	p.Running = false
	p.FinishedAt = &now
	p.Message = fmt.Sprintf("Completed: %d OK, %d failed (Total %d).", p.Processed, p.Failed, p.Total)
	return nil
}
