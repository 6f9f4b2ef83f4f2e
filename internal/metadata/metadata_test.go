package metadata

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/osp/internal/git"
)

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
}

// initSourceRepo creates a repository with the given files committed and tagged.
func initSourceRepo(t *testing.T, files map[string]string, tag string) string {
	t.Helper()
	dir := t.TempDir()
	run(t, dir, "init", "-b", "main")
	run(t, dir, "config", "user.email", "test@test.com")
	run(t, dir, "config", "user.name", "Test")
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	run(t, dir, "add", ".")
	run(t, dir, "commit", "-m", "initial")
	if tag != "" {
		run(t, dir, "tag", tag)
	}
	return dir
}

func scratchEntries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return entries
}

func TestFetch_TaggedRepository(t *testing.T) {
	src := initSourceRepo(t, map[string]string{
		"LICENSE":   "MIT License\n\nCopyright (c) 2025 Test\n",
		"README.md": "# Demo Plugin\n\n## Description\n\nA demo.\n\n## Usage\n",
		"demo.php":  "<?php\n",
	}, "v2.1.0")

	scratch := t.TempDir()
	f := NewFetcher(git.NewClient(), scratch, time.Minute)
	repo := f.Fetch(context.Background(), "file://"+src)
	defer func() { _ = repo.Close() }()

	require.True(t, repo.Cloned())

	commit, ok := repo.LastCommit()
	require.True(t, ok)
	assert.Len(t, commit.Hash, 7)
	assert.False(t, commit.Date.IsZero())

	version, ok := repo.Version()
	assert.True(t, ok)
	assert.Equal(t, "v2.1.0", version)

	_, ok = repo.ReleaseDate()
	assert.True(t, ok)

	license, ok := repo.License()
	assert.True(t, ok)
	assert.Equal(t, "MIT License", license)

	title, _ := repo.Title()
	assert.Equal(t, "Demo Plugin", title)

	desc, _ := repo.Description()
	assert.Equal(t, "A demo.", desc)

	lang, _ := repo.Language()
	assert.Equal(t, "php", lang)

	_, ok = repo.DownloadURL()
	assert.False(t, ok, "file:// is not a known host")

	require.NoError(t, repo.Close())
	assert.Empty(t, scratchEntries(t, scratch))
}

func TestFetch_Untagged(t *testing.T) {
	src := initSourceRepo(t, map[string]string{"README.md": "plain"}, "")

	f := NewFetcher(git.NewClient(), t.TempDir(), time.Minute)
	repo := f.Fetch(context.Background(), "file://"+src)
	defer func() { _ = repo.Close() }()

	require.True(t, repo.Cloned())
	_, ok := repo.Version()
	assert.False(t, ok)
	_, ok = repo.ReleaseDate()
	assert.False(t, ok)
	_, ok = repo.DownloadURL()
	assert.False(t, ok)
	_, ok = repo.License()
	assert.False(t, ok)
}

func TestFetch_Unreachable(t *testing.T) {
	scratch := t.TempDir()
	f := NewFetcher(git.NewClient(), scratch, time.Minute)

	for _, u := range []string{"file:///nonexistent/osp/repo", "not a url", ""} {
		repo := f.Fetch(context.Background(), u)
		assert.False(t, repo.Cloned(), u)
		_, ok := repo.LastCommit()
		assert.False(t, ok)
		_, ok = repo.Title()
		assert.False(t, ok)
		assert.Nil(t, repo.Tags())
		assert.NoError(t, repo.Close())
	}
	assert.Empty(t, scratchEntries(t, scratch), "failed clones leave nothing behind")
}

func TestFetch_EmptyRepository(t *testing.T) {
	src := t.TempDir()
	run(t, src, "init", "-b", "main")

	f := NewFetcher(git.NewClient(), t.TempDir(), time.Minute)
	repo := f.Fetch(context.Background(), "file://"+src)
	defer func() { _ = repo.Close() }()
	assert.False(t, repo.Cloned())
}

// fakeClient populates the working copy instead of cloning.
type fakeClient struct {
	files    map[string]string
	tags     []string
	cloneErr error
}

func (c *fakeClient) Clone(_ context.Context, _, dir string) error {
	if c.cloneErr != nil {
		return c.cloneErr
	}
	for name, content := range c.files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			return err
		}
	}
	return nil
}

func (c *fakeClient) FetchTags(context.Context, string) error { return errors.New("offline") }

func (c *fakeClient) LastCommit(context.Context, string) (git.Commit, error) {
	return git.Commit{Hash: "abcdef1", HashLong: "abcdef1234567890", Date: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}, nil
}

func (c *fakeClient) Tags(context.Context, string) ([]string, error) { return c.tags, nil }

func (c *fakeClient) TagDate(context.Context, string, string) (time.Time, error) {
	return time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), nil
}

func TestFetch_HostedURLs(t *testing.T) {
	gc := &fakeClient{
		files: map[string]string{"composer.json": `{"name":"gudule/w4os","license":"AGPL-3.0","keywords":["opensim"]}`},
		tags:  []string{"v2.1.0", "v2.0.0"},
	}
	f := NewFetcher(gc, t.TempDir(), 0)
	repo := f.Fetch(context.Background(), "https://github.com/GuduleLapointe/w4os")
	defer func() { _ = repo.Close() }()

	require.True(t, repo.Cloned(), "tag fetch failure is not fatal")

	dl, ok := repo.DownloadURL()
	assert.True(t, ok)
	assert.Equal(t, "https://github.com/GuduleLapointe/w4os/archive/refs/tags/v2.1.0.zip", dl)

	cu, _ := repo.CommitURL()
	assert.Equal(t, "https://github.com/GuduleLapointe/w4os/commit/abcdef1234567890", cu)

	rd, _ := repo.ReleaseDate()
	assert.Equal(t, 2024, rd.Year())

	license, _ := repo.License()
	assert.Equal(t, "AGPL-3.0", license)
	assert.Equal(t, []string{"opensim", "gudule/w4os", "gudule", "w4os"}, repo.Tags())

	title, _ := repo.Title()
	assert.Equal(t, "gudule/w4os", title)
}

func TestFetcher_Cleanup(t *testing.T) {
	scratch := t.TempDir()
	f := NewFetcher(&fakeClient{files: map[string]string{"README.md": "# A"}}, scratch, 0)

	a := f.Fetch(context.Background(), "https://github.com/o/a")
	b := f.Fetch(context.Background(), "https://github.com/o/b")
	require.True(t, a.Cloned())
	require.True(t, b.Cloned())
	assert.Len(t, scratchEntries(t, scratch), 2)

	require.NoError(t, a.Close())
	assert.Len(t, scratchEntries(t, scratch), 1)

	require.NoError(t, f.Cleanup())
	assert.Empty(t, scratchEntries(t, scratch))

	// Closing after cleanup is harmless.
	assert.NoError(t, b.Close())
}

func TestFetch_CloneFailureRemovesDir(t *testing.T) {
	scratch := t.TempDir()
	f := NewFetcher(&fakeClient{cloneErr: errors.New("boom")}, scratch, 0)

	repo := f.Fetch(context.Background(), "https://github.com/o/a")
	assert.False(t, repo.Cloned())
	assert.Empty(t, scratchEntries(t, scratch))
	require.NoError(t, f.Cleanup())
}

// pausingClient clones for real, then holds the working copy until released.
type pausingClient struct {
	git.Client
	cloned  chan struct{}
	release chan struct{}
}

func (c *pausingClient) Clone(ctx context.Context, url, dir string) error {
	err := c.Client.Clone(ctx, url, dir)
	close(c.cloned)
	<-c.release
	return err
}

func TestFetcher_CleanupKeepsLoadingClone(t *testing.T) {
	src := initSourceRepo(t, map[string]string{
		"LICENSE":   "MIT License\n",
		"README.md": "# Busy Plugin\n",
	}, "v1.0.0")

	scratch := t.TempDir()
	gc := &pausingClient{Client: git.NewClient(), cloned: make(chan struct{}), release: make(chan struct{})}
	f := NewFetcher(gc, scratch, time.Minute)

	done := make(chan *Repository, 1)
	go func() { done <- f.Fetch(context.Background(), "file://"+src) }()

	<-gc.cloned
	require.NoError(t, f.Cleanup())
	assert.Len(t, scratchEntries(t, scratch), 1, "loading clone must survive a concurrent Cleanup")
	close(gc.release)

	repo := <-done
	defer func() { _ = repo.Close() }()
	require.True(t, repo.Cloned())

	license, _ := repo.License()
	assert.Equal(t, "MIT License", license)
	version, _ := repo.Version()
	assert.Equal(t, "v1.0.0", version)

	// Once loaded, an unclosed clone is collected by the next Cleanup.
	require.NoError(t, f.Cleanup())
	assert.Empty(t, scratchEntries(t, scratch))
}
