package meeting

import (
	"strings"
	"time"

	"triage_server/core/domain"
)

// Priority ranks a detected meeting. Callers use it to order suggestions;
// it is not part of the detection itself.
func Priority(email *domain.Email, det *domain.MeetingDetection, now time.Time) domain.MeetingPriority {
	score := priorityPoints(email, det, now)
	switch {
	case score >= meetingHighThreshold:
		return domain.MeetingPriorityHigh
	case score >= meetingMediumThreshold:
		return domain.MeetingPriorityMedium
	default:
		return domain.MeetingPriorityLow
	}
}

func priorityPoints(email *domain.Email, det *domain.MeetingDetection, now time.Time) int {
	score := 0

	if email != nil {
		if email.IsImportant {
			score += meetingPointsImportantFlag
		}
		if email.HasLabel(domain.LabelImportant) {
			score += meetingPointsImportantLabel
		}
		if email.HasLabel(domain.LabelStarred) {
			score += meetingPointsStarredLabel
		}

		text := strings.ToLower(email.SubjectOrEmpty() + "\n" + sourceText(nil, email.BodyText, email.BodyHTML))
		if urgencyPattern.MatchString(text) {
			score += meetingPointsUrgentWords
		}
		if !email.Date.IsZero() && now.Sub(email.Date) < 24*time.Hour {
			score += meetingPointsRecent
		}
	}

	if det == nil || !det.HasMeetingRequest {
		return score
	}

	score += meetingTypePoints[det.MeetingType]

	if days, ok := nearestDateDays(det.DetectedDates, now); ok {
		switch {
		case days <= 3:
			score += meetingPointsDateWithin3
		case days <= 7:
			score += meetingPointsDateWithin7
		}
	}
	return score
}

// nearestDateDays returns the distance in days to the closest detected date
// that is today or later.
func nearestDateDays(dates []time.Time, now time.Time) (int, bool) {
	best, found := 0, false
	for _, d := range dates {
		today := midnight(now.In(d.Location()))
		if d.Before(today) {
			continue
		}
		days := calendarDays(today, d)
		if !found || days < best {
			best, found = days, true
		}
	}
	return best, found
}

// calendarDays counts date changes from a to b in b's location. Elapsed
// hours would lose a day across a DST switch.
func calendarDays(a, b time.Time) int {
	a = a.In(b.Location())
	from := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}

// Priority ranks a detection at the detector's current time.
func (d *Detector) Priority(email *domain.Email, det *domain.MeetingDetection) domain.MeetingPriority {
	return Priority(email, det, d.now())
}
