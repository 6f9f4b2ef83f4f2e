package refresh

import (
	"context"
	"time"

	"github.com/joescharf/osp/internal/git"
	"github.com/joescharf/osp/internal/metadata"
)

// Repository is the metadata view of a fetched working copy.
type Repository interface {
	Cloned() bool
	LastCommit() (git.Commit, bool)
	Version() (string, bool)
	ReleaseDate() (time.Time, bool)
	DownloadURL() (string, bool)
	License() (string, bool)
	Title() (string, bool)
	Description() (string, bool)
	Tags() []string
	Language() (string, bool)
	Close() error
}

// Fetcher clones a repository URL and exposes its metadata.
type Fetcher interface {
	Fetch(ctx context.Context, repoURL string) Repository
}

// metadataFetcher adapts *metadata.Fetcher to the Fetcher interface.
type metadataFetcher struct {
	f *metadata.Fetcher
}

// FromMetadata wraps a metadata fetcher for use by a Refresher.
func FromMetadata(f *metadata.Fetcher) Fetcher {
	return metadataFetcher{f: f}
}

func (m metadataFetcher) Fetch(ctx context.Context, repoURL string) Repository {
	return m.f.Fetch(ctx, repoURL)
}

func (m metadataFetcher) Cleanup() error {
	return m.f.Cleanup()
}
