// Package priority ranks emails on a 0-10 scale from mailbox signals and
// the AI classification.
package priority

import (
	"fmt"
	"time"

	"triage_server/core/domain"
)

// =============================================================================
// Priority Scoring System
// =============================================================================
//
// Additive points, clamped to [0, 10]:
//   1. Mailbox signals (important flag, IMPORTANT / STARRED labels)
//   2. Classification signals when present, a flat default otherwise

// -----------------------------------------------------------------------------
// Mailbox signals
// -----------------------------------------------------------------------------
const (
	PointsImportantFlag  = 2.0
	PointsImportantLabel = 2.0
	PointsStarredLabel   = 1.0
)

// -----------------------------------------------------------------------------
// Classification signals
// -----------------------------------------------------------------------------
const (
	UrgencyWeight          = 1.5
	ImportanceWeight       = 1.0
	PointsActionRequired   = 3.0
	PointsPriorityCategory = 2.0
	PointsRecentUrgent     = 2.0 // urgency >= RecentUrgencyMin and age < RecentWindow
	PointsOpportunity      = 3.0
	PointsWorkInHours      = 1.5

	// unclassified mail should not sink below classified newsletters
	PointsUnclassified = 3.0

	RecentUrgencyMin = 4
	RecentWindow     = 24 * time.Hour
)

const (
	MinScore = 0.0
	MaxScore = 10.0
)

// Score computes the priority of one email at time now.
// A classification that fails validation is rejected, never scored.
func Score(email *domain.Email, c *domain.Classification, prefs domain.UserPreferences, now time.Time) (domain.PriorityScore, error) {
	if c != nil {
		if err := c.Validate(); err != nil {
			return domain.PriorityScore{}, fmt.Errorf("score email %s: %w", email.ID, err)
		}
	}
	return domain.NewPriorityScore(clamp(rawScore(email, c, prefs, now))), nil
}

func rawScore(email *domain.Email, c *domain.Classification, prefs domain.UserPreferences, now time.Time) float64 {
	score := mailboxPoints(email)

	if c == nil {
		return score + PointsUnclassified
	}

	score += float64(c.Urgency) * UrgencyWeight
	score += float64(c.Importance) * ImportanceWeight

	if c.ActionRequired {
		score += PointsActionRequired
	}
	if prefs.IsPriorityCategory(c.Category) {
		score += PointsPriorityCategory
	}
	if c.Urgency >= RecentUrgencyMin && now.Sub(email.Date) < RecentWindow {
		score += PointsRecentUrgent
	}

	switch c.Category {
	case domain.CategoryOpportunity:
		score += PointsOpportunity
	case domain.CategoryWork:
		if prefs.WorkingHours.Contains(now) {
			score += PointsWorkInHours
		}
	}

	return score
}

func mailboxPoints(email *domain.Email) float64 {
	var score float64
	if email.IsImportant {
		score += PointsImportantFlag
	}
	if email.HasLabel(domain.LabelImportant) {
		score += PointsImportantLabel
	}
	if email.HasLabel(domain.LabelStarred) {
		score += PointsStarredLabel
	}
	return score
}

func clamp(score float64) float64 {
	if score != score { // NaN
		return MinScore
	}
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Scorer binds Score to a clock.
type Scorer struct {
	now func() time.Time
}

// NewScorer creates a scorer. A nil clock uses time.Now.
func NewScorer(now func() time.Time) *Scorer {
	if now == nil {
		now = time.Now
	}
	return &Scorer{now: now}
}

// ScorePriority scores at the scorer's current time.
func (s *Scorer) ScorePriority(email *domain.Email, c *domain.Classification, prefs domain.UserPreferences) (domain.PriorityScore, error) {
	return Score(email, c, prefs, s.now())
}
