// Package metadata clones a repository into a scratch directory and derives
// catalog metadata (last commit, latest release, license, title, description,
// tags, language) from its files.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joescharf/osp/internal/git"
)

// DefaultCloneTimeout bounds the clone and the git queries that follow it.
const DefaultCloneTimeout = 2 * time.Minute

// manifestFiles are read from the root of every working copy.
var manifestFiles = []string{
	"composer.json", "package.json", "readme.txt", "README.md",
	"LICENSE", "LICENSE.md", "LICENSE.txt",
}

// Fetcher clones repositories and keeps track of the scratch directories it
// created until they are removed.
type Fetcher struct {
	git          git.Client
	scratchDir   string
	cloneTimeout time.Duration

	mu   sync.Mutex
	dirs map[string]bool // scratch dir -> clone still loading
}

// NewFetcher returns a Fetcher cloning under scratchDir (the system temp dir
// when empty). A zero cloneTimeout uses DefaultCloneTimeout.
func NewFetcher(gc git.Client, scratchDir string, cloneTimeout time.Duration) *Fetcher {
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	if cloneTimeout <= 0 {
		cloneTimeout = DefaultCloneTimeout
	}
	return &Fetcher{
		git:          gc,
		scratchDir:   scratchDir,
		cloneTimeout: cloneTimeout,
		dirs:         make(map[string]bool),
	}
}

// Fetch clones repoURL and loads its metadata. It never fails: an invalid,
// unreachable or empty repository yields a Repository whose Cloned reports
// false and whose accessors report nothing. Callers must Close the result.
func (f *Fetcher) Fetch(ctx context.Context, repoURL string) *Repository {
	r := &Repository{url: repoURL, fetcher: f}
	if !cloneable(repoURL) {
		return r
	}

	if err := os.MkdirAll(f.scratchDir, 0o755); err != nil {
		slog.Warn("create scratch dir", "dir", f.scratchDir, "error", err)
		return r
	}
	dir, err := os.MkdirTemp(f.scratchDir, "osp-git-")
	if err != nil {
		slog.Warn("create clone dir", "error", err)
		return r
	}
	f.track(dir)
	defer f.loaded(dir)
	r.dir = dir

	ctx, cancel := context.WithTimeout(ctx, f.cloneTimeout)
	defer cancel()

	if err := f.load(ctx, r); err != nil {
		slog.Debug("repository not cloned", "url", repoURL, "error", err)
		_ = r.Close()
		r.cloned = false
		return r
	}
	r.cloned = true
	return r
}

func (f *Fetcher) load(ctx context.Context, r *Repository) error {
	if err := f.git.Clone(ctx, r.url, r.dir); err != nil {
		return err
	}
	commit, err := f.git.LastCommit(ctx, r.dir)
	if err != nil {
		return err
	}
	r.commit = commit

	// Tags outside the cloned tip are optional.
	if err := f.git.FetchTags(ctx, r.dir); err != nil {
		slog.Debug("fetch tags", "url", r.url, "error", err)
	}
	if tags, err := f.git.Tags(ctx, r.dir); err == nil && len(tags) > 0 {
		r.lastTag = tags[0]
		if date, err := f.git.TagDate(ctx, r.dir, r.lastTag); err == nil {
			r.releaseDate = date
		}
	}

	r.files = make(map[string]string, len(manifestFiles))
	for _, name := range manifestFiles {
		data, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("read %s: %w", name, err)
			}
			continue
		}
		r.files[name] = string(data)
	}
	r.language = DetectLanguage(r.dir)
	return nil
}

// Cleanup removes the scratch directories this fetcher created that are
// still present. Directories of clones another caller is still loading are
// left alone; their Close removes them.
func (f *Fetcher) Cleanup() error {
	f.mu.Lock()
	dirs := make([]string, 0, len(f.dirs))
	for d, loading := range f.dirs {
		if loading {
			continue
		}
		dirs = append(dirs, d)
		delete(f.dirs, d)
	}
	f.mu.Unlock()

	var errs []error
	for _, d := range dirs {
		if err := os.RemoveAll(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fetcher) track(dir string) {
	f.mu.Lock()
	f.dirs[dir] = true
	f.mu.Unlock()
}

// loaded marks dir as no longer in use by Fetch, if it is still tracked.
func (f *Fetcher) loaded(dir string) {
	f.mu.Lock()
	if _, ok := f.dirs[dir]; ok {
		f.dirs[dir] = false
	}
	f.mu.Unlock()
}

func (f *Fetcher) untrack(dir string) {
	f.mu.Lock()
	delete(f.dirs, dir)
	f.mu.Unlock()
}

// cloneable accepts absolute URLs with a scheme git can fetch from.
func cloneable(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git":
		return u.Host != ""
	case "file":
		return u.Path != ""
	}
	return false
}

// Repository is the metadata of one cloned working copy.
type Repository struct {
	url     string
	dir     string
	fetcher *Fetcher
	cloned  bool

	commit      git.Commit
	lastTag     string
	releaseDate time.Time
	files       map[string]string
	language    string
}

// URL returns the URL the repository was fetched from.
func (r *Repository) URL() string { return r.url }

// Cloned reports whether the clone succeeded and has at least one commit.
func (r *Repository) Cloned() bool { return r.cloned }

func (r *Repository) LastCommit() (git.Commit, bool) {
	if !r.cloned {
		return git.Commit{}, false
	}
	return r.commit, true
}

func (r *Repository) CommitURL() (string, bool) {
	if !r.cloned {
		return "", false
	}
	return git.CommitURL(r.url, r.commit.HashLong), true
}

// LastTag returns the most recently created tag.
func (r *Repository) LastTag() (string, bool) {
	if !r.cloned || r.lastTag == "" {
		return "", false
	}
	return r.lastTag, true
}

// Version is the last tag.
func (r *Repository) Version() (string, bool) { return r.LastTag() }

// ReleaseDate returns the commit date of the last tag.
func (r *Repository) ReleaseDate() (time.Time, bool) {
	if !r.cloned || r.lastTag == "" || r.releaseDate.IsZero() {
		return time.Time{}, false
	}
	return r.releaseDate, true
}

// DownloadURL returns the archive URL of the last tag on supported hosts.
func (r *Repository) DownloadURL() (string, bool) {
	tag, ok := r.LastTag()
	if !ok {
		return "", false
	}
	return git.ArchiveURL(r.url, tag)
}

func (r *Repository) License() (string, bool) {
	if !r.cloned {
		return "", false
	}
	return nonEmpty(licenseFrom(r.files))
}

func (r *Repository) Title() (string, bool) {
	if !r.cloned {
		return "", false
	}
	return nonEmpty(titleFrom(r.files, r.url))
}

func (r *Repository) Description() (string, bool) {
	if !r.cloned {
		return "", false
	}
	return nonEmpty(descriptionFrom(r.files))
}

// Tags returns manifest-derived tags, deduplicated case-insensitively.
func (r *Repository) Tags() []string {
	if !r.cloned {
		return nil
	}
	return tagsFrom(r.files)
}

func (r *Repository) Language() (string, bool) {
	if !r.cloned {
		return "", false
	}
	return nonEmpty(r.language)
}

// Close removes the scratch directory. It is safe to call more than once.
func (r *Repository) Close() error {
	if r.dir == "" {
		return nil
	}
	dir := r.dir
	r.dir = ""
	if r.fetcher != nil {
		r.fetcher.untrack(dir)
	}
	return os.RemoveAll(dir)
}

func nonEmpty(s string) (string, bool) {
	return s, s != ""
}
