package domain

import "time"

// HighPriorityThreshold is the fixed cut-off for IsHighPriority.
const HighPriorityThreshold = 7.0

// PriorityScore is derived at read or write time, never stored on its own.
type PriorityScore struct {
	Score          float64 `json:"score"`
	IsHighPriority bool    `json:"is_high_priority"`
}

// NewPriorityScore derives IsHighPriority from the score.
func NewPriorityScore(score float64) PriorityScore {
	return PriorityScore{Score: score, IsHighPriority: score >= HighPriorityThreshold}
}

// ClassificationRecord is the persisted, pre-scored result for one email.
type ClassificationRecord struct {
	UserID         string    `json:"user_id"`
	EmailID        string    `json:"email_id"`
	ThreadID       string    `json:"thread_id"`
	SessionID      string    `json:"session_id"`
	Subject        string    `json:"subject"`
	Sender         string    `json:"sender"`
	Urgency        int       `json:"urgency"`
	Importance     int       `json:"importance"`
	ActionRequired bool      `json:"action_required"`
	Category       Category  `json:"category"`
	Confidence     float64   `json:"confidence"`
	Reasoning      string    `json:"reasoning,omitempty"`
	PriorityScore  float64   `json:"priority_score"`
	IsHighPriority bool      `json:"is_high_priority"`
	Labels         []string  `json:"labels,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
	ClassifiedAt   time.Time `json:"classified_at"`
}

// NewClassificationRecord joins an email, its classification and score.
func NewClassificationRecord(userID, sessionID string, email *Email, c *Classification, score PriorityScore, now time.Time) *ClassificationRecord {
	return &ClassificationRecord{
		UserID:         userID,
		EmailID:        email.ID,
		ThreadID:       email.ThreadID,
		SessionID:      sessionID,
		Subject:        email.SubjectOrEmpty(),
		Sender:         email.Sender.Email,
		Urgency:        c.Urgency,
		Importance:     c.Importance,
		ActionRequired: c.ActionRequired,
		Category:       c.Category,
		Confidence:     c.Confidence,
		Reasoning:      c.Reasoning,
		PriorityScore:  score.Score,
		IsHighPriority: score.IsHighPriority,
		Labels:         email.Labels,
		ReceivedAt:     email.Date,
		ClassifiedAt:   now,
	}
}
