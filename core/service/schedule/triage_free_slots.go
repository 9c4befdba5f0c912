// Package schedule finds free calendar time and ranks meeting slots.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

// SlotStep is the spacing between candidate start times.
const SlotStep = 30 * time.Minute

// FindFreeSlots walks the working hours inside window in SlotStep increments
// and keeps every slot of length duration that stays buffer away from all
// busy periods.
func FindFreeSlots(window domain.TimePeriod, busy []domain.TimePeriod, duration, buffer time.Duration, wh domain.WorkingHours) []domain.TimePeriod {
	if duration <= 0 || !window.Start.Before(window.End) {
		return nil
	}

	loc := wh.Location()
	sorted := make([]domain.TimePeriod, len(busy))
	copy(sorted, busy)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var free []domain.TimePeriod
	start := window.Start.In(loc)
	for day := midnight(start); day.Before(window.End); day = day.AddDate(0, 0, 1) {
		if !wh.HasDay(day.Weekday()) {
			continue
		}
		dayStart, dayEnd, ok := wh.Bounds(day)
		if !ok {
			return nil
		}

		current := dayStart
		if current.Before(start) {
			current = alignUp(start, dayStart)
		}
		for {
			slotEnd := current.Add(duration)
			if slotEnd.After(dayEnd) || slotEnd.After(window.End) {
				break
			}
			slot := domain.TimePeriod{Start: current, End: slotEnd}
			if isClear(slot, sorted, buffer) {
				free = append(free, slot)
			}
			current = current.Add(SlotStep)
		}
	}
	return free
}

// alignUp returns the first step boundary, counted from origin, at or after t.
func alignUp(t, origin time.Time) time.Time {
	offset := t.Sub(origin)
	steps := offset / SlotStep
	if offset%SlotStep != 0 {
		steps++
	}
	return origin.Add(steps * SlotStep)
}

func isClear(slot domain.TimePeriod, busy []domain.TimePeriod, buffer time.Duration) bool {
	padded := domain.TimePeriod{Start: slot.Start.Add(-buffer), End: slot.End.Add(buffer)}
	for _, b := range busy {
		if !b.Start.Before(padded.End) {
			return true // sorted: nothing later can overlap
		}
		if padded.Overlaps(b) {
			return false
		}
	}
	return true
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// BusyAvailability answers free-slot queries from a provider's busy list.
type BusyAvailability struct {
	calendar out.BusyCalendar
}

// NewBusyAvailability creates availability backed by calendar.
func NewBusyAvailability(calendar out.BusyCalendar) *BusyAvailability {
	return &BusyAvailability{calendar: calendar}
}

// FreeSlots implements out.CalendarAvailability.
func (a *BusyAvailability) FreeSlots(ctx context.Context, q out.FreeSlotQuery) ([]domain.TimePeriod, error) {
	// widen the busy query so events just outside the window still push
	// the buffer into it
	busyWindow := domain.TimePeriod{Start: q.Window.Start.Add(-q.Buffer), End: q.Window.End.Add(q.Buffer)}
	busy, err := a.calendar.BusyPeriods(ctx, q.Token, busyWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load busy periods: %w", err)
	}
	return FindFreeSlots(q.Window, busy, q.Duration, q.Buffer, q.WorkingHours), nil
}

var _ out.CalendarAvailability = (*BusyAvailability)(nil)
