package store

import (
	"context"
	"errors"
	"time"

	"github.com/joescharf/osp/internal/models"
)

var (
	// ErrNotFound is returned when a project or option does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned by PutOption when the stored version no
	// longer matches the version the caller loaded.
	ErrVersionConflict = errors.New("option version conflict")
)

// ProjectListFilter specifies filters for listing projects.
// An empty Statuses slice matches every status.
type ProjectListFilter struct {
	Statuses []models.ProjectStatus
	Tag      string
}

// Option is a named, versioned value in the key-value option storage.
// Version 0 means the option has never been written.
type Option struct {
	Name      string
	Value     []byte
	Version   int64
	UpdatedAt time.Time
}

// Store defines the persistence interface for osp.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByRepoURL(ctx context.Context, repoURL string) (*models.Project, error)
	ListProjects(ctx context.Context, filter ProjectListFilter) ([]*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error
	SetProjectStatus(ctx context.Context, id string, status models.ProjectStatus, errMsg string) error
	DeleteProject(ctx context.Context, id string) error

	// Options
	GetOption(ctx context.Context, name string) (*Option, error)
	PutOption(ctx context.Context, name string, value []byte, expectedVersion int64) (int64, error)
	DeleteOption(ctx context.Context, name string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
