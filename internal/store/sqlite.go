package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/osp/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection serializes
	// the daemon's scheduler, API handlers and timer callbacks.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// CLI runs and the daemon may share the file; wait instead of failing.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Projects ---

const projectColumns = `id, title, slug, repo_url, website, status, license, version, release_date, download_url,
	last_commit_hash, last_commit_hash_long, last_commit_date, description, excerpt, language, tags, error,
	refreshed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*models.Project, error) {
	p := &models.Project{}
	var status, tagsJSON string
	var releaseDate, lastCommitDate, refreshedAt sql.NullTime

	err := row.Scan(&p.ID, &p.Title, &p.Slug, &p.RepoURL, &p.Website, &status, &p.License, &p.Version,
		&releaseDate, &p.DownloadURL, &p.LastCommitHash, &p.LastCommitHashLong, &lastCommitDate,
		&p.Description, &p.Excerpt, &p.Language, &tagsJSON, &p.Error, &refreshedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Status = models.ProjectStatus(status)
	if releaseDate.Valid {
		p.ReleaseDate = &releaseDate.Time
	}
	if lastCommitDate.Valid {
		p.LastCommitDate = &lastCommitDate.Time
	}
	if refreshedAt.Valid {
		p.RefreshedAt = &refreshedAt.Time
	}
	_ = json.Unmarshal([]byte(tagsJSON), &p.Tags)
	return p, nil
}

func marshalTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func (s *SQLiteStore) CreateProject(ctx context.Context, p *models.Project) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	if p.Status == "" {
		p.Status = models.ProjectStatusDraft
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Slug, p.RepoURL, p.Website, string(p.Status), p.License, p.Version,
		p.ReleaseDate, p.DownloadURL, p.LastCommitHash, p.LastCommitHashLong, p.LastCommitDate,
		p.Description, p.Excerpt, p.Language, marshalTags(p.Tags), p.Error, p.RefreshedAt,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// GetProjectByRepoURL returns the earliest entry whose stored repository URL
// equals repoURL, whatever its status.
func (s *SQLiteStore) GetProjectByRepoURL(ctx context.Context, repoURL string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE repo_url = ? ORDER BY rowid LIMIT 1`, repoURL)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %w for repository: %s", ErrNotFound, repoURL)
	}
	if err != nil {
		return nil, fmt.Errorf("get project by repository: %w", err)
	}
	return p, nil
}

// ListProjects returns projects in creation order.
func (s *SQLiteStore) ListProjects(ctx context.Context, filter ProjectListFilter) ([]*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var where []string
	var args []any

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(projects.tags) WHERE lower(json_each.value) = lower(?))")
		args = append(args, filter.Tag)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, p *models.Project) error {
	p.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE projects SET title=?, slug=?, repo_url=?, website=?, status=?, license=?, version=?, release_date=?,
		download_url=?, last_commit_hash=?, last_commit_hash_long=?, last_commit_date=?, description=?, excerpt=?,
		language=?, tags=?, error=?, refreshed_at=?, updated_at=?
		WHERE id=?`,
		p.Title, p.Slug, p.RepoURL, p.Website, string(p.Status), p.License, p.Version, p.ReleaseDate,
		p.DownloadURL, p.LastCommitHash, p.LastCommitHashLong, p.LastCommitDate, p.Description, p.Excerpt,
		p.Language, marshalTags(p.Tags), p.Error, p.RefreshedAt, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project %w: %s", ErrNotFound, p.ID)
	}
	return nil
}

// SetProjectStatus changes only the status and stored error of a project.
func (s *SQLiteStore) SetProjectStatus(ctx context.Context, id string, status models.ProjectStatus, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid project status: %q", status)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE projects SET status=?, error=?, updated_at=? WHERE id=?`,
		string(status), errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set project status: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project %w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project %w: %s", ErrNotFound, id)
	}
	return nil
}

// --- Options ---

func (s *SQLiteStore) GetOption(ctx context.Context, name string) (*Option, error) {
	opt := &Option{Name: name}
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value, version, updated_at FROM options WHERE name = ?`, name,
	).Scan(&value, &opt.Version, &opt.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("option %w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get option: %w", err)
	}
	opt.Value = []byte(value)
	return opt, nil
}

// PutOption writes value only if the stored version equals expectedVersion
// (0 = the option must not exist yet) and returns the new version.
func (s *SQLiteStore) PutOption(ctx context.Context, name string, value []byte, expectedVersion int64) (int64, error) {
	now := time.Now().UTC()

	var result sql.Result
	var err error
	if expectedVersion == 0 {
		result, err = s.db.ExecContext(ctx,
			`INSERT INTO options (name, value, version, updated_at) VALUES (?, ?, 1, ?)
			ON CONFLICT(name) DO NOTHING`,
			name, string(value), now,
		)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE options SET value=?, version=version+1, updated_at=? WHERE name=? AND version=?`,
			string(value), now, name, expectedVersion,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("put option %s: %w", name, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return 0, fmt.Errorf("put option %s at version %d: %w", name, expectedVersion, ErrVersionConflict)
	}
	return expectedVersion + 1, nil
}

func (s *SQLiteStore) DeleteOption(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM options WHERE name = ?", name); err != nil {
		return fmt.Errorf("delete option: %w", err)
	}
	return nil
}
