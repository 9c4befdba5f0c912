package meeting

import (
	"context"
	"testing"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/in"
	"triage_server/core/port/out"
	"triage_server/core/service/schedule"
	"triage_server/pkg/apperr"
)

type stubAvailability struct {
	slots []domain.TimePeriod
	calls int
}

func (s *stubAvailability) FreeSlots(context.Context, out.FreeSlotQuery) ([]domain.TimePeriod, error) {
	s.calls++
	return s.slots, nil
}

func newTestService(avail out.CalendarAvailability) *Service {
	clock := func() time.Time { return monday }
	return NewService(NewDetector(clock, time.UTC), schedule.NewSuggester(avail, clock))
}

func TestService_SuggestSlotsValidatesWorkingHours(t *testing.T) {
	avail := &stubAvailability{}
	svc := newTestService(avail)

	tests := []struct {
		name string
		req  in.SuggestRequest
	}{
		{"end before start", in.SuggestRequest{WorkingHours: domain.WorkingHours{Start: "17:00", End: "09:00", Days: []int{1}}}},
		{"bad timezone", in.SuggestRequest{WorkingHours: domain.WorkingHours{Start: "09:00", End: "17:00", Timezone: "Nowhere/City"}}},
		{"inverted window", in.SuggestRequest{
			WorkingHours: domain.DefaultPreferences().WorkingHours,
			Window:       &domain.TimePeriod{Start: monday.Add(time.Hour), End: monday},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SuggestSlots(context.Background(), tt.req)
			if apperr.GetHTTPStatus(err) != 400 {
				t.Errorf("status = %d, want 400 (err %v)", apperr.GetHTTPStatus(err), err)
			}
		})
	}
	if avail.calls != 0 {
		t.Errorf("availability called %d times, want 0", avail.calls)
	}
}

func TestService_DetectThenSuggest(t *testing.T) {
	tuesday := time.Date(2025, 3, 4, 14, 0, 0, 0, time.UTC)
	avail := &stubAvailability{slots: []domain.TimePeriod{
		{Start: monday.Add(time.Hour), End: monday.Add(90 * time.Minute)},
		{Start: tuesday, End: tuesday.Add(30 * time.Minute)},
	}}
	svc := newTestService(avail)

	det := svc.DetectMeeting(in.MeetingContent{BodyText: text("Can we meet Tuesday at 2pm to discuss the proposal?")})
	got, err := svc.SuggestSlots(context.Background(), in.SuggestRequest{
		Detection:    det,
		WorkingHours: domain.DefaultPreferences().WorkingHours,
	})
	if err != nil {
		t.Fatalf("SuggestSlots() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if !got[0].Start.Equal(tuesday) {
		t.Errorf("first slot = %v, want the detected Tuesday", got[0].Start)
	}
	if got[0].Confidence <= got[1].Confidence {
		t.Errorf("confidence not descending: %v <= %v", got[0].Confidence, got[1].Confidence)
	}
}
