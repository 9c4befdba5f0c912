package in

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"triage_server/core/domain"
)

// SubmitResult is returned as soon as the session exists.
type SubmitResult struct {
	SessionID   string `json:"session_id"`
	TotalEmails int    `json:"total_emails"`
}

// BatchService starts batch runs and reports their progress.
type BatchService interface {
	Submit(ctx context.Context, userID string, emails []*domain.Email, prefs domain.UserPreferences) (*SubmitResult, error)
	GetProgress(ctx context.Context, sessionID string) (*domain.ProgressSession, error)
	Results(ctx context.Context, userID, sessionID string) ([]*domain.ClassificationRecord, error)
}

// PriorityService scores one email synchronously.
type PriorityService interface {
	ScorePriority(email *domain.Email, c *domain.Classification, prefs domain.UserPreferences) (domain.PriorityScore, error)
}

// MeetingContent is the text a detection reads.
type MeetingContent struct {
	Subject  *string        `json:"subject,omitempty"`
	BodyText *string        `json:"body_text,omitempty"`
	BodyHTML *string        `json:"body_html,omitempty"`
	Sender   domain.Address `json:"sender"`
}

// SuggestRequest asks for meeting slots.
type SuggestRequest struct {
	UserID       string
	Token        *oauth2.Token
	Detection    *domain.MeetingDetection
	WorkingHours domain.WorkingHours
	// Window narrows the default search window when set.
	Window *domain.TimePeriod
}

// MeetingService detects meeting requests and proposes slots.
type MeetingService interface {
	DetectMeeting(content MeetingContent) *domain.MeetingDetection
	MeetingPriority(email *domain.Email, d *domain.MeetingDetection) domain.MeetingPriority
	SuggestSlots(ctx context.Context, req SuggestRequest) ([]domain.TimeSlotSuggestion, error)
}

// Clock returns the current time.
type Clock func() time.Time
