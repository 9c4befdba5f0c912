package out

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"triage_server/core/domain"
)

// BusyCalendar reads busy periods from the calendar provider.
type BusyCalendar interface {
	BusyPeriods(ctx context.Context, token *oauth2.Token, window domain.TimePeriod) ([]domain.TimePeriod, error)
}

// FreeSlotQuery asks for free slots of a fixed length.
type FreeSlotQuery struct {
	UserID       string
	Token        *oauth2.Token
	Window       domain.TimePeriod
	Duration     time.Duration
	WorkingHours domain.WorkingHours
	Buffer       time.Duration // kept clear before and after existing events
}

// CalendarAvailability returns free slots of Duration within the window.
type CalendarAvailability interface {
	FreeSlots(ctx context.Context, q FreeSlotQuery) ([]domain.TimePeriod, error)
}
