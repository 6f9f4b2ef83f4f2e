package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joescharf/osp/internal/failure"
	"github.com/joescharf/osp/internal/models"
	"github.com/joescharf/osp/internal/resolver"
	"github.com/joescharf/osp/internal/store"
)

// Import adds the repository at rawURL to the catalog as a draft and runs
// one refresh over it. URLs that are invalid, permanently unreachable or
// already cataloged are rejected with a *failure.Error and nothing is stored.
func (r *Refresher) Import(ctx context.Context, rawURL string) (*models.Project, Result, error) {
	rawURL = strings.TrimSpace(rawURL)
	check := r.resolver.Resolve(ctx, rawURL, "")
	if check.Err != nil {
		return nil, Result{}, check.Err
	}

	repoURL := resolver.Normalize(check.FinalURL)
	if existing, err := r.store.GetProjectByRepoURL(ctx, repoURL); err == nil {
		return nil, Result{}, &failure.Error{
			Kind:        failure.KindDuplicateRepository,
			Message:     fmt.Sprintf("Repository already cataloged as project %s", existing.ID),
			DuplicateOf: existing.ID,
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, Result{}, fmt.Errorf("duplicate lookup: %w", err)
	}

	p := &models.Project{RepoURL: repoURL, Status: models.ProjectStatusDraft}
	if err := r.store.CreateProject(ctx, p); err != nil {
		return nil, Result{}, err
	}
	slog.Info("project imported", "id", p.ID, "repo_url", p.RepoURL)

	res := SafeProject(ctx, r, p.ID)
	if updated, err := r.store.GetProject(ctx, p.ID); err == nil {
		p = updated
	}
	return p, res, nil
}

// Ignore moves an entry to ignored, recording reason as its error.
func (r *Refresher) Ignore(ctx context.Context, id, reason string) (*models.Project, error) {
	if reason == "" {
		reason = "Ignored manually"
	}
	return r.setStatus(ctx, id, models.ProjectStatusIgnored, reason)
}

// Activate publishes an entry and clears its stored error.
func (r *Refresher) Activate(ctx context.Context, id string) (*models.Project, error) {
	return r.setStatus(ctx, id, models.ProjectStatusPublish, "")
}

func (r *Refresher) setStatus(ctx context.Context, id string, status models.ProjectStatus, msg string) (*models.Project, error) {
	if err := r.store.SetProjectStatus(ctx, id, status, msg); err != nil {
		return nil, err
	}
	return r.store.GetProject(ctx, id)
}
