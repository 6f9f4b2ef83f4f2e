package refresh

import (
	"context"
	"fmt"
	"io"

	"github.com/joescharf/osp/internal/failure"
	"github.com/joescharf/osp/internal/models"
	"github.com/joescharf/osp/internal/store"
)

// StreamSummary counts the outcomes of a synchronous refresh.
type StreamSummary struct {
	Total  int `json:"total"`
	OK     int `json:"ok"`
	Failed int `json:"failed"`
}

// Stream refreshes ids one by one in the caller's goroutine, writing one line
// per entry to w. An empty ids refreshes every publish and draft entry.
// Writers with a Flush method are flushed after every write.
func (r *Refresher) Stream(ctx context.Context, w io.Writer, ids []string) (StreamSummary, error) {
	if len(ids) == 0 {
		projects, err := r.store.ListProjects(ctx, store.ProjectListFilter{
			Statuses: []models.ProjectStatus{models.ProjectStatusPublish, models.ProjectStatusDraft},
		})
		if err != nil {
			return StreamSummary{}, fmt.Errorf("list projects: %w", err)
		}
		for _, p := range projects {
			ids = append(ids, p.ID)
		}
	}

	sum := StreamSummary{Total: len(ids)}
	if sum.Total == 0 {
		writeLine(w, "Nothing to do.\n")
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		title := DisplayTitle("", "", id)
		if p, err := r.store.GetProject(ctx, id); err == nil {
			title = DisplayTitle(p.Title, p.RepoURL, p.ID)
		}
		writeLine(w, fmt.Sprintf("(%d/%d) %s … ", i+1, sum.Total, title))

		res := SafeProject(ctx, r, id)
		if res.OK() {
			sum.OK++
		} else {
			sum.Failed++
		}
		writeLine(w, StatusLine(res)+"\n")
	}

	writeLine(w, fmt.Sprintf("Completed: %d OK, %d failed (Total %d).\n", sum.OK, sum.Failed, sum.Total))
	return sum, nil
}

// StatusLine renders the outcome part of a streamed line.
func StatusLine(res Result) string {
	switch {
	case res.OK() && res.Redirected:
		return "OK (redirected)"
	case res.OK():
		return "OK"
	case res.Outcome == OutcomeIgnored:
		return "IGNORED: " + res.Error
	case res.Kind == failure.KindMissingRepositoryURL:
		return "SKIP: Missing repository URL"
	default:
		return "FAIL: " + res.Error
	}
}

func writeLine(w io.Writer, s string) {
	_, _ = io.WriteString(w, s)
	switch f := w.(type) {
	case interface{ Flush() }:
		f.Flush()
	case interface{ Flush() error }:
		_ = f.Flush()
	}
}
