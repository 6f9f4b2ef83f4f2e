package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joescharf/osp/internal/failure"
	"github.com/joescharf/osp/internal/metadata"
	"github.com/joescharf/osp/internal/models"
	"github.com/joescharf/osp/internal/resolver"
	"github.com/joescharf/osp/internal/store"
)

// Message stored on entries whose repository has no commits or cannot be cloned.
const msgNotCloned = "Repository is empty or could not be cloned"

// Outcome is the result class of refreshing one entry.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeIgnored Outcome = "ignored"
	OutcomeFailed  Outcome = "failed"
)

// Result holds the outcome of refreshing a single project.
type Result struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Outcome    Outcome        `json:"outcome"`
	Redirected bool           `json:"redirected,omitempty"`
	Kind       failure.Kind   `json:"kind,omitempty"`
	Error      string         `json:"error,omitempty"`
	Err        *failure.Error `json:"-"`
}

// OK reports whether the entry was refreshed.
func (r Result) OK() bool { return r.Outcome == OutcomeOK }

func (r Result) fail(outcome Outcome, err *failure.Error) Result {
	r.Outcome = outcome
	r.Err = err
	r.Kind = err.Kind
	r.Error = err.Error()
	return r
}

// ProjectRefresher refreshes a single catalog entry.
type ProjectRefresher interface {
	Project(ctx context.Context, id string) Result
}

// Resolver checks a repository URL before it is cloned.
type Resolver interface {
	Resolve(ctx context.Context, rawURL, selfID string) resolver.Result
}

// Summarizer writes a one-sentence excerpt from a project description.
type Summarizer interface {
	Summarize(ctx context.Context, title, description string) (string, error)
}

// Refresher re-derives the cached metadata of catalog entries.
type Refresher struct {
	store      store.Store
	resolver   Resolver
	fetcher    Fetcher
	summarizer Summarizer
	now        func() time.Time
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithSummarizer enables excerpt generation for entries without one.
func WithSummarizer(s Summarizer) Option {
	return func(r *Refresher) { r.summarizer = s }
}

// New creates a Refresher.
func New(s store.Store, res Resolver, f Fetcher, opts ...Option) *Refresher {
	r := &Refresher{
		store:    s,
		resolver: res,
		fetcher:  f,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cleanup removes scratch directories left by the fetcher, if it tracks any.
func (r *Refresher) Cleanup() error {
	if c, ok := r.fetcher.(interface{ Cleanup() error }); ok {
		return c.Cleanup()
	}
	return nil
}

// Project refreshes one entry. Permanent repository failures move the entry
// to ignored; transient failures leave it untouched.
func (r *Refresher) Project(ctx context.Context, id string) Result {
	res := Result{ID: id, Title: DisplayTitle("", "", id)}

	p, err := r.store.GetProject(ctx, id)
	if err != nil {
		return res.fail(OutcomeFailed, failure.Wrap(failure.KindInternal, err, "load project: %v", err))
	}
	res.Title = DisplayTitle(p.Title, p.RepoURL, p.ID)

	repoURL := strings.TrimSpace(p.RepoURL)
	if repoURL == "" {
		return res.fail(OutcomeFailed, failure.New(failure.KindMissingRepositoryURL, "Missing repository URL"))
	}

	check := r.resolver.Resolve(ctx, repoURL, p.ID)
	if check.Err != nil {
		switch {
		case check.Err.Permanent():
			if err := r.store.SetProjectStatus(ctx, p.ID, models.ProjectStatusIgnored, check.Err.Error()); err != nil {
				return res.fail(OutcomeFailed, failure.Wrap(failure.KindInternal, err, "ignore project: %v", err))
			}
			slog.Info("project ignored", "id", p.ID, "kind", check.Err.Kind, "reason", check.Err.Error())
			res.Redirected = check.Redirected
			return res.fail(OutcomeIgnored, check.Err)
		case check.Err.Kind == failure.KindInvalidURL:
			if err := r.store.SetProjectStatus(ctx, p.ID, p.Status, check.Err.Error()); err != nil {
				slog.Warn("store project error", "id", p.ID, "error", err)
			}
		}
		return res.fail(OutcomeFailed, check.Err)
	}

	if check.Redirected {
		slog.Info("repository moved", "id", p.ID, "from", p.RepoURL, "to", check.FinalURL)
		p.RepoURL = check.FinalURL
		if err := r.store.UpdateProject(ctx, p); err != nil {
			return res.fail(OutcomeFailed, failure.Wrap(failure.KindInternal, err, "save redirected URL: %v", err))
		}
		res.Redirected = true
	}

	repo := r.fetcher.Fetch(ctx, p.RepoURL)
	defer func() {
		if err := repo.Close(); err != nil {
			slog.Warn("remove clone", "id", p.ID, "error", err)
		}
	}()

	if !repo.Cloned() {
		if err := ctx.Err(); err != nil {
			return res.fail(OutcomeFailed, failure.Wrap(failure.KindNetwork, err, "Network error: %v", err))
		}
		fe := failure.New(failure.KindEmptyRepository, msgNotCloned)
		if err := r.store.SetProjectStatus(ctx, p.ID, models.ProjectStatusIgnored, fe.Error()); err != nil {
			return res.fail(OutcomeFailed, failure.Wrap(failure.KindInternal, err, "ignore project: %v", err))
		}
		return res.fail(OutcomeIgnored, fe)
	}

	r.apply(p, repo)
	r.summarize(ctx, p)
	if p.Status == models.ProjectStatusIgnored {
		p.Status = models.ProjectStatusDraft
	}
	p.Error = ""
	now := r.now()
	p.RefreshedAt = &now

	if err := r.store.UpdateProject(ctx, p); err != nil {
		return res.fail(OutcomeFailed, failure.Wrap(failure.KindInternal, err, "update project: %v", err))
	}
	res.Title = DisplayTitle(p.Title, p.RepoURL, p.ID)
	res.Outcome = OutcomeOK
	return res
}

// apply copies repository metadata onto p. Cached release and commit fields
// always follow the repository; title and description only change when the
// repository provides a value.
func (r *Refresher) apply(p *models.Project, repo Repository) {
	p.License, _ = repo.License()
	p.Version, _ = repo.Version()
	p.DownloadURL, _ = repo.DownloadURL()
	if d, ok := repo.ReleaseDate(); ok {
		p.ReleaseDate = &d
	} else {
		p.ReleaseDate = nil
	}
	if c, ok := repo.LastCommit(); ok {
		p.LastCommitHash = c.Hash
		p.LastCommitHashLong = c.HashLong
		date := c.Date.UTC()
		p.LastCommitDate = &date
	}
	if lang, ok := repo.Language(); ok {
		p.Language = lang
	}
	p.Tags = repo.Tags()

	if title, ok := repo.Title(); ok {
		p.Title = title
	}
	if desc, ok := repo.Description(); ok {
		p.Description = desc
	}
}

func (r *Refresher) summarize(ctx context.Context, p *models.Project) {
	if r.summarizer == nil || p.Excerpt != "" || p.Description == "" {
		return
	}
	excerpt, err := r.summarizer.Summarize(ctx, p.Title, p.Description)
	if err != nil {
		slog.Warn("summarize description", "id", p.ID, "error", err)
		return
	}
	if excerpt = strings.TrimSpace(excerpt); excerpt != "" {
		p.Excerpt = excerpt
	}
}

// Titler names an entry without refreshing it.
type Titler interface {
	Title(ctx context.Context, id string) string
}

// Title returns the display title of the entry id, or "Project #id" when it
// cannot be loaded.
func (r *Refresher) Title(ctx context.Context, id string) string {
	p, err := r.store.GetProject(ctx, id)
	if err != nil {
		return DisplayTitle("", "", id)
	}
	return DisplayTitle(p.Title, p.RepoURL, p.ID)
}

// SafeProject calls pr.Project, converting a panic into a failed result.
// The title is looked up first when pr is a Titler so a failed result still
// names the entry.
func SafeProject(ctx context.Context, pr ProjectRefresher, id string) (res Result) {
	title := DisplayTitle("", "", id)
	if t, ok := pr.(Titler); ok {
		title = t.Title(ctx, id)
	}
	defer func() {
		if v := recover(); v != nil {
			slog.Error("refresh panicked", "id", id, "title", title, "panic", v)
			res = Result{ID: id, Title: title}.
				fail(OutcomeFailed, failure.Wrap(failure.KindInternal, fmt.Errorf("panic: %v", v), "Internal error: %v", v))
		}
	}()
	return pr.Project(ctx, id)
}

// DisplayTitle returns title, or the repository basename, or "Project #id".
func DisplayTitle(title, repoURL, id string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	if base := metadata.RepoBasename(strings.TrimSpace(repoURL)); base != "" {
		return base
	}
	return "Project #" + id
}
