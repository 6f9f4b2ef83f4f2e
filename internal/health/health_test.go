package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/joescharf/osp/internal/models"
)

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestScorer() *Scorer {
	return &Scorer{now: func() time.Time { return fixedNow }}
}

func daysAgo(n int) *time.Time {
	t := fixedNow.Add(-time.Duration(n) * 24 * time.Hour)
	return &t
}

func TestScore_MaintainedProject(t *testing.T) {
	s := newTestScorer()

	p := &models.Project{
		LastCommitDate: daysAgo(1),
		ReleaseDate:    daysAgo(3),
		Version:        "v1.2.0",
		RefreshedAt:    daysAgo(0),
		License:        "MIT",
		Excerpt:        "A tool.",
	}

	h := s.Score(p)

	assert.Equal(t, 40, h.ActivityRecency, "recent commit should get full points")
	assert.Equal(t, 30, h.ReleaseFreshness, "recent release should get full points")
	assert.Equal(t, 20, h.RefreshHealth, "clean refresh should get full points")
	assert.Equal(t, 10, h.Completeness)
	assert.Equal(t, 100, h.Total)
}

func TestScore_AbandonedProject(t *testing.T) {
	s := newTestScorer()

	p := &models.Project{
		LastCommitDate: daysAgo(1000),
		RefreshedAt:    daysAgo(0),
		Error:          "Repository not found",
	}

	h := s.Score(p)

	assert.Equal(t, 0, h.ActivityRecency)
	assert.Equal(t, 0, h.ReleaseFreshness, "no release = no points")
	assert.Equal(t, 0, h.RefreshHealth, "failing refresh = no points")
	assert.Equal(t, 0, h.Total)
}

func TestScore_NeverRefreshed(t *testing.T) {
	h := newTestScorer().Score(&models.Project{})
	assert.Equal(t, 5, h.RefreshHealth)
	assert.Equal(t, 5, h.Total)
}

func TestScore_VersionWithoutDate(t *testing.T) {
	h := newTestScorer().Score(&models.Project{Version: "1.0"})
	assert.Equal(t, 10, h.ReleaseFreshness)
}

func TestStale(t *testing.T) {
	s := newTestScorer()
	assert.True(t, s.Stale(&models.Project{}), "no commit date counts as stale")
	assert.True(t, s.Stale(&models.Project{LastCommitDate: daysAgo(400)}))
	assert.False(t, s.Stale(&models.Project{LastCommitDate: daysAgo(30)}))
}

func TestScoreRecency(t *testing.T) {
	tests := []struct {
		name string
		days int
		want int
	}{
		{"this week", 2, 40},
		{"this quarter", 60, 30},
		{"half year", 150, 20},
		{"ancient", 800, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scoreRecency(fixedNow, *daysAgo(tt.days), 40))
		})
	}
}

func TestScoreRecency_Zero(t *testing.T) {
	assert.Equal(t, 0, scoreRecency(fixedNow, time.Time{}, 40))
}
