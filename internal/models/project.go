package models

import "time"

// ProjectStatus represents the lifecycle state of a catalog entry.
type ProjectStatus string

const (
	ProjectStatusPublish ProjectStatus = "publish"
	ProjectStatusDraft   ProjectStatus = "draft"
	ProjectStatusIgnored ProjectStatus = "ignored"
	ProjectStatusTrash   ProjectStatus = "trash"
)

// Valid reports whether s is a known project status.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectStatusPublish, ProjectStatusDraft, ProjectStatusIgnored, ProjectStatusTrash:
		return true
	}
	return false
}

// Active reports whether entries with this status take part in catalog-wide refreshes.
func (s ProjectStatus) Active() bool {
	return s == ProjectStatusPublish || s == ProjectStatusDraft
}

// Project represents one cataloged open-source project.
type Project struct {
	ID                 string
	Title              string
	Slug               string
	RepoURL            string
	Website            string
	Status             ProjectStatus
	License            string
	Version            string
	ReleaseDate        *time.Time
	DownloadURL        string
	LastCommitHash     string
	LastCommitHashLong string
	LastCommitDate     *time.Time
	Description        string
	Excerpt            string // short description shown in listings
	Language           string
	Tags               []string
	Error              string // last refresh error, empty when healthy
	RefreshedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
