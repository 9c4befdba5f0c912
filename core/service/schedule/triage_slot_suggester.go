package schedule

import (
	"context"
	"math"
	"sort"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/in"
	"triage_server/core/port/out"
)

const (
	SearchHorizon  = 14 * 24 * time.Hour
	EventBuffer    = 15 * time.Minute
	MaxSuggestions = 5
)

// Confidence weights.
const (
	baseConfidence     = 0.5
	primeHourBonus     = 0.3 // start within [primeStartHour, primeEndHour)
	earlyMondayPenalty = 0.2 // Monday before earlyMondayHour
	lateFridayPenalty  = 0.2 // Friday from lateFridayHour on
	detectedDateBonus  = 0.4
	soonBonus          = 0.1
	soonWindow         = 3 * 24 * time.Hour
	primeStartHour     = 10
	primeEndHour       = 16
	earlyMondayHour    = 11
	lateFridayHour     = 15
)

// Suggester proposes meeting slots from calendar availability.
type Suggester struct {
	availability out.CalendarAvailability
	now          func() time.Time
}

// NewSuggester creates a suggester. A nil clock uses time.Now.
func NewSuggester(availability out.CalendarAvailability, now func() time.Time) *Suggester {
	if now == nil {
		now = time.Now
	}
	return &Suggester{availability: availability, now: now}
}

// Suggest returns up to MaxSuggestions slots, best first. A calendar with no
// free time yields an empty list.
func (s *Suggester) Suggest(ctx context.Context, req in.SuggestRequest) ([]domain.TimeSlotSuggestion, error) {
	now := s.now()
	window := domain.TimePeriod{Start: now, End: now.Add(SearchHorizon)}
	if req.Window != nil {
		if req.Window.Start.After(window.Start) {
			window.Start = req.Window.Start
		}
		if req.Window.End.Before(window.End) {
			window.End = req.Window.End
		}
	}
	if !window.Start.Before(window.End) {
		return []domain.TimeSlotSuggestion{}, nil
	}

	duration := req.Detection.Duration()
	free, err := s.availability.FreeSlots(ctx, out.FreeSlotQuery{
		UserID:       req.UserID,
		Token:        req.Token,
		Window:       window,
		Duration:     duration,
		WorkingHours: req.WorkingHours,
		Buffer:       EventBuffer,
	})
	if err != nil {
		return nil, err
	}

	// order by the unclamped score; callers see the clamped one
	type rankedSlot struct {
		suggestion domain.TimeSlotSuggestion
		raw        float64
	}
	loc := req.WorkingHours.Location()
	ranked := make([]rankedSlot, 0, len(free))
	for _, slot := range free {
		raw := rawConfidence(slot.Start.In(loc), req.Detection, now)
		ranked = append(ranked, rankedSlot{
			suggestion: domain.TimeSlotSuggestion{
				Start:      slot.Start,
				End:        slot.End,
				Confidence: clampConfidence(raw),
			},
			raw: raw,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].raw != ranked[j].raw {
			return ranked[i].raw > ranked[j].raw
		}
		return ranked[i].suggestion.Start.Before(ranked[j].suggestion.Start)
	})

	suggestions := make([]domain.TimeSlotSuggestion, len(ranked))
	for i, r := range ranked {
		suggestions[i] = r.suggestion
	}
	if len(suggestions) > MaxSuggestions {
		suggestions = suggestions[:MaxSuggestions]
	}
	return suggestions, nil
}

// Confidence scores a slot start given in the user's local time.
func Confidence(start time.Time, det *domain.MeetingDetection, now time.Time) float64 {
	return clampConfidence(rawConfidence(start, det, now))
}

func rawConfidence(start time.Time, det *domain.MeetingDetection, now time.Time) float64 {
	c := baseConfidence

	hour := start.Hour()
	if hour >= primeStartHour && hour < primeEndHour {
		c += primeHourBonus
	}
	if start.Weekday() == time.Monday && hour < earlyMondayHour {
		c -= earlyMondayPenalty
	}
	if start.Weekday() == time.Friday && hour >= lateFridayHour {
		c -= lateFridayPenalty
	}
	if det.MatchesDate(start) {
		c += detectedDateBonus
	}
	if start.Sub(now) <= soonWindow {
		c += soonBonus
	}

	return math.Round(c*100) / 100
}

func clampConfidence(c float64) float64 {
	return math.Max(0, math.Min(1, c))
}
