package store

import (
	"context"
	"errors"
)

// RepoLookup adapts a Store to the resolver's duplicate lookup.
type RepoLookup struct {
	Store Store
}

// ProjectIDByRepoURL returns the ID of the entry storing repoURL, if any.
func (l RepoLookup) ProjectIDByRepoURL(ctx context.Context, repoURL string) (string, bool, error) {
	p, err := l.Store.GetProjectByRepoURL(ctx, repoURL)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return p.ID, true, nil
}
