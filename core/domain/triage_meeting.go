package domain

import "time"

// MeetingType is the kind of meeting a detection refers to.
type MeetingType string

const (
	MeetingTypeInterview    MeetingType = "interview"
	MeetingTypeDemo         MeetingType = "demo"
	MeetingTypeMeeting      MeetingType = "meeting"
	MeetingTypeCall         MeetingType = "call"
	MeetingTypePresentation MeetingType = "presentation"
	MeetingTypeOther        MeetingType = "other"
)

// DefaultMeetingDuration is used when no duration is mentioned.
const DefaultMeetingDuration = 30

// MeetingDetection is the heuristic reading of one email's scheduling intent.
type MeetingDetection struct {
	HasMeetingRequest bool        `json:"has_meeting_request"`
	SuggestedTitle    *string     `json:"suggested_title,omitempty"`
	SuggestedDuration *int        `json:"suggested_duration,omitempty"` // minutes
	DetectedDates     []time.Time `json:"detected_dates,omitempty"`     // local midnight
	DetectedTimes     []string    `json:"detected_times,omitempty"`
	IsFollowUp        bool        `json:"is_follow_up"`
	MeetingType       MeetingType `json:"meeting_type,omitempty"`
}

// Duration returns the suggested duration, or the default.
func (d *MeetingDetection) Duration() time.Duration {
	if d == nil || d.SuggestedDuration == nil || *d.SuggestedDuration <= 0 {
		return DefaultMeetingDuration * time.Minute
	}
	return time.Duration(*d.SuggestedDuration) * time.Minute
}

// MatchesDate reports whether t's calendar day equals a detected date.
func (d *MeetingDetection) MatchesDate(t time.Time) bool {
	if d == nil {
		return false
	}
	for _, date := range d.DetectedDates {
		local := t.In(date.Location())
		if local.Year() == date.Year() && local.Month() == date.Month() && local.Day() == date.Day() {
			return true
		}
	}
	return false
}

// MeetingPriority ranks a detected meeting for callers.
type MeetingPriority string

const (
	MeetingPriorityLow    MeetingPriority = "low"
	MeetingPriorityMedium MeetingPriority = "medium"
	MeetingPriorityHigh   MeetingPriority = "high"
)

// TimeSlotSuggestion is a candidate meeting time. Never persisted.
type TimeSlotSuggestion struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Confidence float64   `json:"confidence"`
}

// TimePeriod is a closed-open interval [Start, End).
type TimePeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether the two periods share any instant.
func (p TimePeriod) Overlaps(o TimePeriod) bool {
	return p.Start.Before(o.End) && o.Start.Before(p.End)
}
