package meeting

import (
	"testing"
	"time"
	_ "time/tzdata"

	"triage_server/core/domain"
)

func TestPriority(t *testing.T) {
	old := monday.Add(-72 * time.Hour)

	tests := []struct {
		name  string
		email *domain.Email
		det   *domain.MeetingDetection
		want  domain.MeetingPriority
	}{
		{
			name:  "interview soon from important sender",
			email: &domain.Email{Date: monday.Add(-time.Hour), IsImportant: true},
			det: &domain.MeetingDetection{
				HasMeetingRequest: true,
				MeetingType:       domain.MeetingTypeInterview,
				DetectedDates:     []time.Time{date(2025, 3, 4)},
			},
			// 3 + 1 + 3 + 2
			want: domain.MeetingPriorityHigh,
		},
		{
			name:  "urgent demo",
			email: &domain.Email{Date: old, Subject: text("URGENT: demo")},
			det:   &domain.MeetingDetection{HasMeetingRequest: true, MeetingType: domain.MeetingTypeDemo},
			// 2 + 2
			want: domain.MeetingPriorityMedium,
		},
		{
			name:  "plain meeting next week",
			email: &domain.Email{Date: old},
			det: &domain.MeetingDetection{
				HasMeetingRequest: true,
				MeetingType:       domain.MeetingTypeMeeting,
				DetectedDates:     []time.Time{date(2025, 3, 9)},
			},
			// 1 + 1
			want: domain.MeetingPriorityLow,
		},
		{
			name:  "past dates are ignored",
			email: &domain.Email{Date: old},
			det: &domain.MeetingDetection{
				HasMeetingRequest: true,
				MeetingType:       domain.MeetingTypeCall,
				DetectedDates:     []time.Time{date(2025, 2, 28)},
			},
			want: domain.MeetingPriorityLow,
		},
		{
			name:  "labels and recency",
			email: &domain.Email{Date: monday.Add(-2 * time.Hour), Labels: []string{"IMPORTANT", "STARRED"}},
			det:   &domain.MeetingDetection{HasMeetingRequest: true, MeetingType: domain.MeetingTypeCall},
			// 1 + 1 + 1 + 1
			want: domain.MeetingPriorityMedium,
		},
		{
			name:  "no meeting",
			email: &domain.Email{Date: old},
			det:   &domain.MeetingDetection{},
			want:  domain.MeetingPriorityLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Priority(tt.email, tt.det, monday); got != tt.want {
				t.Errorf("Priority() = %v, want %v (points %d)", got, tt.want, priorityPoints(tt.email, tt.det, monday))
			}
		})
	}
}

func TestNearestDateDays_AcrossDSTChange(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	// clocks go forward on 2025-03-09, so that day has 23 hours
	now := time.Date(2025, 3, 9, 12, 0, 0, 0, ny)

	tests := []struct {
		name string
		date time.Time
		want int
	}{
		{"same day", time.Date(2025, 3, 9, 0, 0, 0, 0, ny), 0},
		{"next day", time.Date(2025, 3, 10, 0, 0, 0, 0, ny), 1},
		{"a week out", time.Date(2025, 3, 16, 0, 0, 0, 0, ny), 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := nearestDateDays([]time.Time{tt.date}, now)
			if !ok || got != tt.want {
				t.Errorf("nearestDateDays() = %d, %v, want %d", got, ok, tt.want)
			}
		})
	}
}
