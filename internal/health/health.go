// Package health scores how well maintained a cataloged project looks,
// based only on the metadata cached by the last refresh.
package health

import (
	"time"

	"github.com/joescharf/osp/internal/models"
)

// StaleAfter is the commit age after which a project counts as stale.
const StaleAfter = 365 * 24 * time.Hour

// Score represents the computed maintenance score of a project.
type Score struct {
	Total            int
	ActivityRecency  int // 0-40
	ReleaseFreshness int // 0-30
	RefreshHealth    int // 0-20
	Completeness     int // 0-10
}

// Scorer computes maintenance scores for catalog entries.
type Scorer struct {
	now func() time.Time
}

// NewScorer returns a new Scorer.
func NewScorer() *Scorer {
	return &Scorer{now: time.Now}
}

// Score computes a maintenance score (0-100) for p.
func (s *Scorer) Score(p *models.Project) *Score {
	now := s.now()
	h := &Score{}

	if p.LastCommitDate != nil {
		h.ActivityRecency = scoreRecency(now, *p.LastCommitDate, 40)
	}

	switch {
	case p.ReleaseDate != nil:
		h.ReleaseFreshness = scoreRecency(now, *p.ReleaseDate, 30)
	case p.Version != "":
		h.ReleaseFreshness = 10 // tagged but date unknown
	}

	switch {
	case p.RefreshedAt == nil:
		h.RefreshHealth = 5
	case p.Error != "":
		h.RefreshHealth = 0
	default:
		h.RefreshHealth = 20
	}

	if p.License != "" {
		h.Completeness += 5
	}
	if p.Description != "" || p.Excerpt != "" {
		h.Completeness += 5
	}

	h.Total = h.ActivityRecency + h.ReleaseFreshness + h.RefreshHealth + h.Completeness
	return h
}

// Stale reports whether p has not seen a commit for StaleAfter, or has
// never been refreshed successfully.
func (s *Scorer) Stale(p *models.Project) bool {
	if p.LastCommitDate == nil {
		return true
	}
	return s.now().Sub(*p.LastCommitDate) > StaleAfter
}

// scoreRecency converts the age of t to points.
func scoreRecency(now, t time.Time, maxPoints int) int {
	if t.IsZero() {
		return 0
	}
	days := int(now.Sub(t).Hours() / 24)
	switch {
	case days <= 7:
		return maxPoints
	case days <= 30:
		return int(float64(maxPoints) * 0.9)
	case days <= 90:
		return int(float64(maxPoints) * 0.75)
	case days <= 180:
		return int(float64(maxPoints) * 0.5)
	case days <= 365:
		return int(float64(maxPoints) * 0.3)
	case days <= 730:
		return int(float64(maxPoints) * 0.1)
	default:
		return 0
	}
}
