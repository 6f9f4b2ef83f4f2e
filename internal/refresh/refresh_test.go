package refresh

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/osp/internal/failure"
	"github.com/joescharf/osp/internal/git"
	"github.com/joescharf/osp/internal/models"
	"github.com/joescharf/osp/internal/resolver"
	"github.com/joescharf/osp/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fakeResolver answers from a url->result map; unknown URLs are accessible.
type fakeResolver map[string]resolver.Result

func (f fakeResolver) Resolve(_ context.Context, rawURL, _ string) resolver.Result {
	if r, ok := f[rawURL]; ok {
		return r
	}
	return resolver.Result{URL: rawURL, FinalURL: rawURL, StatusCode: 200}
}

type fakeRepo struct {
	cloned  bool
	title   string
	desc    string
	license string
	tag     string
	closed  bool
}

func (r *fakeRepo) Cloned() bool { return r.cloned }
func (r *fakeRepo) LastCommit() (git.Commit, bool) {
	return git.Commit{Hash: "abc1234", HashLong: "abc1234def", Date: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}, r.cloned
}
func (r *fakeRepo) Version() (string, bool) { return r.tag, r.tag != "" }
func (r *fakeRepo) ReleaseDate() (time.Time, bool) {
	return time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), r.tag != ""
}
func (r *fakeRepo) DownloadURL() (string, bool) {
	if r.tag == "" {
		return "", false
	}
	return "https://example.com/" + r.tag + ".zip", true
}
func (r *fakeRepo) License() (string, bool)     { return r.license, r.license != "" }
func (r *fakeRepo) Title() (string, bool)       { return r.title, r.title != "" }
func (r *fakeRepo) Description() (string, bool) { return r.desc, r.desc != "" }
func (r *fakeRepo) Tags() []string              { return []string{"demo"} }
func (r *fakeRepo) Language() (string, bool)    { return "php", true }
func (r *fakeRepo) Close() error                { r.closed = true; return nil }

type fakeFetcher struct {
	repos   map[string]*fakeRepo
	fetched []string
	cleaned int
}

func (f *fakeFetcher) Fetch(_ context.Context, repoURL string) Repository {
	f.fetched = append(f.fetched, repoURL)
	if r, ok := f.repos[repoURL]; ok {
		return r
	}
	return &fakeRepo{}
}

func (f *fakeFetcher) Cleanup() error { f.cleaned++; return nil }

type fakeSummarizer struct {
	excerpt string
	err     error
	calls   int
}

func (s *fakeSummarizer) Summarize(context.Context, string, string) (string, error) {
	s.calls++
	return s.excerpt, s.err
}

func createProject(t *testing.T, s store.Store, title, repoURL string, status models.ProjectStatus) *models.Project {
	t.Helper()
	p := &models.Project{Title: title, RepoURL: repoURL, Status: status}
	require.NoError(t, s.CreateProject(context.Background(), p))
	return p
}

func TestProject_Success(t *testing.T) {
	s := newTestStore(t)
	url := "https://github.com/owner/demo"
	p := createProject(t, s, "Old title", url, models.ProjectStatusPublish)
	require.NoError(t, s.SetProjectStatus(context.Background(), p.ID, models.ProjectStatusPublish, "Server error (503)"))

	repo := &fakeRepo{cloned: true, title: "Demo", desc: "A demo.", license: "MIT License", tag: "v2.1.0"}
	f := &fakeFetcher{repos: map[string]*fakeRepo{url: repo}}
	r := New(s, fakeResolver{}, f)

	res := r.Project(context.Background(), p.ID)
	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.True(t, res.OK())
	assert.Equal(t, "Demo", res.Title)
	assert.True(t, repo.closed, "clone removed after refresh")

	got, err := s.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Demo", got.Title)
	assert.Equal(t, "A demo.", got.Description)
	assert.Equal(t, "MIT License", got.License)
	assert.Equal(t, "v2.1.0", got.Version)
	assert.Equal(t, "https://example.com/v2.1.0.zip", got.DownloadURL)
	require.NotNil(t, got.ReleaseDate)
	assert.Equal(t, 2025, got.ReleaseDate.Year())
	assert.Equal(t, "abc1234", got.LastCommitHash)
	assert.Equal(t, "php", got.Language)
	assert.Equal(t, []string{"demo"}, got.Tags)
	assert.Empty(t, got.Error, "stored error cleared")
	assert.NotNil(t, got.RefreshedAt)
	assert.Equal(t, models.ProjectStatusPublish, got.Status)
}

func TestProject_KeepsTitleAndDescriptionWhenRepoHasNone(t *testing.T) {
	s := newTestStore(t)
	url := "https://github.com/owner/quiet"
	p := createProject(t, s, "Curated title", url, models.ProjectStatusDraft)
	p.Description = "Curated description"
	p.Version = "v1.0.0"
	require.NoError(t, s.UpdateProject(context.Background(), p))

	f := &fakeFetcher{repos: map[string]*fakeRepo{url: {cloned: true}}}
	res := New(s, fakeResolver{}, f).Project(context.Background(), p.ID)
	require.True(t, res.OK())

	got, err := s.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Curated title", got.Title)
	assert.Equal(t, "Curated description", got.Description)
	assert.Empty(t, got.Version, "cached release fields follow the repository")
	assert.Nil(t, got.ReleaseDate)
}

func TestProject_NotFoundIsIgnored(t *testing.T) {
	s := newTestStore(t)
	url := "https://github.com/owner/gone"
	p := createProject(t, s, "Gone", url, models.ProjectStatusPublish)

	res404 := resolver.Result{URL: url, FinalURL: url, StatusCode: 404,
		Err: failure.New(failure.KindClientError, "Repository not found (404)")}
	f := &fakeFetcher{}
	res := New(s, fakeResolver{url: res404}, f).Project(context.Background(), p.ID)

	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, "Repository not found (404)", res.Error)
	assert.Empty(t, f.fetched, "no clone after a permanent failure")

	got, err := s.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusIgnored, got.Status)
	assert.Equal(t, "Repository not found (404)", got.Error)
}

func TestProject_RedirectToExistingProjectIsIgnored(t *testing.T) {
	s := newTestStore(t)
	other := createProject(t, s, "New home", "https://github.com/owner/new", models.ProjectStatusPublish)
	p := createProject(t, s, "Old home", "https://github.com/owner/old", models.ProjectStatusPublish)

	dup := resolver.Result{
		URL: p.RepoURL, FinalURL: other.RepoURL, Redirected: true, DuplicateOf: other.ID, StatusCode: 200,
		Err: &failure.Error{Kind: failure.KindDuplicateRepository, DuplicateOf: other.ID,
			Message: "Redirects to existing project " + other.ID + " (" + other.RepoURL + ")"},
	}
	res := New(s, fakeResolver{p.RepoURL: dup}, &fakeFetcher{}).Project(context.Background(), p.ID)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, failure.KindDuplicateRepository, res.Kind)

	got, err := s.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusIgnored, got.Status)
	assert.Equal(t, "https://github.com/owner/old", got.RepoURL, "URL not rewritten to a duplicate")
	assert.Contains(t, got.Error, other.ID)
}

func TestProject_RedirectPersistsNewURL(t *testing.T) {
	s := newTestStore(t)
	p := createProject(t, s, "Moved", "https://github.com/owner/old", models.ProjectStatusPublish)
	moved := resolver.Result{URL: p.RepoURL, FinalURL: "https://github.com/owner/new", Redirected: true, StatusCode: 200}
	f := &fakeFetcher{repos: map[string]*fakeRepo{"https://github.com/owner/new": {cloned: true}}}

	res := New(s, fakeResolver{p.RepoURL: moved}, f).Project(context.Background(), p.ID)
	assert.True(t, res.OK())
	assert.True(t, res.Redirected)
	assert.Equal(t, "OK (redirected)", StatusLine(res))
	assert.Equal(t, []string{"https://github.com/owner/new"}, f.fetched)

	got, err := s.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/owner/new", got.RepoURL)
}

func TestProject_TransientLeavesProjectUntouched(t *testing.T) {
	s := newTestStore(t)
	url := "https://github.com/owner/flaky"
	p := createProject(t, s, "Flaky", url, models.ProjectStatusPublish)

	down := resolver.Result{URL: url, FinalURL: url, StatusCode: 503,
		Err: failure.New(failure.KindServerError, "Server error (503)")}
	res := New(s, fakeResolver{url: down}, &fakeFetcher{}).Project(context.Background(), p.ID)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "FAIL: Server error (503)", StatusLine(res))

	got, err := s.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusPublish, got.Status)
	assert.Empty(t, got.Error)
}

func TestProject_InvalidURLStoresError(t *testing.T) {
	s := newTestStore(t)
	p := createProject(t, s, "Bad", "not-a-url", models.ProjectStatusDraft)

	res := New(s, resolver.New(resolver.Config{}, nil), &fakeFetcher{}).Project(context.Background(), p.ID)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, failure.KindInvalidURL, res.Kind)

	got, err := s.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusDraft, got.Status)
	assert.NotEmpty(t, got.Error)
}

func TestProject_MissingURL(t *testing.T) {
	s := newTestStore(t)
	p := createProject(t, s, "", "  ", models.ProjectStatusDraft)

	f := &fakeFetcher{}
	res := New(s, fakeResolver{}, f).Project(context.Background(), p.ID)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, failure.KindMissingRepositoryURL, res.Kind)
	assert.Equal(t, "Missing repository URL", res.Error)
	assert.Equal(t, "SKIP: Missing repository URL", StatusLine(res))
	assert.Equal(t, "Project #"+p.ID, res.Title)
	assert.Empty(t, f.fetched)

	got, err := s.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusDraft, got.Status)
}

func TestProject_NotClonedIsIgnored(t *testing.T) {
	s := newTestStore(t)
	p := createProject(t, s, "Empty", "https://github.com/owner/empty", models.ProjectStatusPublish)

	res := New(s, fakeResolver{}, &fakeFetcher{}).Project(context.Background(), p.ID)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, "IGNORED: Repository is empty or could not be cloned", StatusLine(res))

	got, err := s.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusIgnored, got.Status)
}

func TestProject_IgnoredReturnsToDraft(t *testing.T) {
	s := newTestStore(t)
	url := "https://github.com/owner/back"
	p := createProject(t, s, "Back", url, models.ProjectStatusIgnored)

	f := &fakeFetcher{repos: map[string]*fakeRepo{url: {cloned: true}}}
	require.True(t, New(s, fakeResolver{}, f).Project(context.Background(), p.ID).OK())

	got, err := s.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusDraft, got.Status)
}

func TestProject_UnknownID(t *testing.T) {
	s := newTestStore(t)
	res := New(s, fakeResolver{}, &fakeFetcher{}).Project(context.Background(), "nope")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, failure.KindInternal, res.Kind)
}

func TestProject_Summarizer(t *testing.T) {
	s := newTestStore(t)
	url := "https://github.com/owner/sum"
	p := createProject(t, s, "Sum", url, models.ProjectStatusDraft)
	f := &fakeFetcher{repos: map[string]*fakeRepo{url: {cloned: true, desc: "Long description."}}}

	sum := &fakeSummarizer{excerpt: "Short."}
	r := New(s, fakeResolver{}, f, WithSummarizer(sum))
	require.True(t, r.Project(context.Background(), p.ID).OK())

	got, err := s.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Short.", got.Excerpt)

	// An existing excerpt is kept.
	require.True(t, r.Project(context.Background(), p.ID).OK())
	assert.Equal(t, 1, sum.calls)
}

func TestProject_SummarizerFailureIsNotFatal(t *testing.T) {
	s := newTestStore(t)
	url := "https://github.com/owner/sum"
	p := createProject(t, s, "Sum", url, models.ProjectStatusDraft)
	f := &fakeFetcher{repos: map[string]*fakeRepo{url: {cloned: true, desc: "Long description."}}}

	r := New(s, fakeResolver{}, f, WithSummarizer(&fakeSummarizer{err: errors.New("rate limited")}))
	assert.True(t, r.Project(context.Background(), p.ID).OK())
}

type panicRefresher struct{}

func (panicRefresher) Project(context.Context, string) Result { panic("boom") }

func TestSafeProject_RecoversPanic(t *testing.T) {
	res := SafeProject(context.Background(), panicRefresher{}, "p1")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, failure.KindInternal, res.Kind)
	assert.Contains(t, res.Error, "boom")
}

type panicFetcher struct{}

func (panicFetcher) Fetch(context.Context, string) Repository { panic("clone exploded") }

func TestSafeProject_PanicKeepsTitle(t *testing.T) {
	s := newTestStore(t)
	p := createProject(t, s, "Widget", "https://github.com/owner/widget", models.ProjectStatusPublish)
	r := New(s, fakeResolver{}, panicFetcher{})

	res := SafeProject(context.Background(), r, p.ID)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, p.ID, res.ID)
	assert.Equal(t, "Widget", res.Title)
	assert.Contains(t, res.Error, "clone exploded")
}

func TestRefresherTitle(t *testing.T) {
	s := newTestStore(t)
	p := createProject(t, s, "", "https://github.com/owner/gadget", models.ProjectStatusDraft)
	r := New(s, fakeResolver{}, &fakeFetcher{})

	assert.Equal(t, "gadget", r.Title(context.Background(), p.ID))
	assert.Equal(t, "Project #missing", r.Title(context.Background(), "missing"))
}

func TestCleanup(t *testing.T) {
	f := &fakeFetcher{}
	r := New(newTestStore(t), fakeResolver{}, f)
	require.NoError(t, r.Cleanup())
	assert.Equal(t, 1, f.cleaned)
}

func TestDisplayTitle(t *testing.T) {
	assert.Equal(t, "W4OS", DisplayTitle(" W4OS ", "https://github.com/a/w4os", "7"))
	assert.Equal(t, "w4os", DisplayTitle("", "https://github.com/a/w4os.git", "7"))
	assert.Equal(t, "Project #7", DisplayTitle("", "", "7"))
	assert.Equal(t, "Project #7", DisplayTitle("  ", "https://github.com", "7"))
}

type flushBuffer struct {
	bytes.Buffer
	flushes int
}

func (b *flushBuffer) Flush() { b.flushes++ }

func TestStream(t *testing.T) {
	s := newTestStore(t)
	ok := createProject(t, s, "Good", "https://github.com/owner/good", models.ProjectStatusPublish)
	gone := createProject(t, s, "Gone", "https://github.com/owner/gone", models.ProjectStatusDraft)
	missing := createProject(t, s, "", "", models.ProjectStatusDraft)
	createProject(t, s, "Skipped", "https://github.com/owner/skipped", models.ProjectStatusIgnored)

	res := fakeResolver{gone.RepoURL: {URL: gone.RepoURL, StatusCode: 404,
		Err: failure.New(failure.KindClientError, "Repository not found (404)")}}
	f := &fakeFetcher{repos: map[string]*fakeRepo{ok.RepoURL: {cloned: true}}}

	var buf flushBuffer
	sum, err := New(s, res, f).Stream(context.Background(), &buf, nil)
	require.NoError(t, err)
	assert.Equal(t, StreamSummary{Total: 3, OK: 1, Failed: 2}, sum)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "(1/3) Good … OK", lines[0])
	assert.Equal(t, "(2/3) Gone … IGNORED: Repository not found (404)", lines[1])
	assert.Equal(t, "(3/3) Project #"+missing.ID+" … SKIP: Missing repository URL", lines[2])
	assert.Equal(t, "Completed: 1 OK, 2 failed (Total 3).", lines[3])
	assert.Equal(t, 7, buf.flushes)
}

func TestStream_Empty(t *testing.T) {
	var buf bytes.Buffer
	sum, err := New(newTestStore(t), fakeResolver{}, &fakeFetcher{}).Stream(context.Background(), &buf, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Total)
	assert.Equal(t, "Nothing to do.\nCompleted: 0 OK, 0 failed (Total 0).\n", buf.String())
}

func TestStream_Canceled(t *testing.T) {
	s := newTestStore(t)
	p := createProject(t, s, "Good", "https://github.com/owner/good", models.ProjectStatusPublish)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	_, err := New(s, fakeResolver{}, &fakeFetcher{}).Stream(ctx, &buf, []string{p.ID})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}
