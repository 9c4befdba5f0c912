package domain

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// WorkingHours is a weekly clock range. Start is inclusive, End exclusive.
type WorkingHours struct {
	Start    string `json:"start" yaml:"start"` // HH:MM
	End      string `json:"end" yaml:"end"`     // HH:MM
	Days     []int  `json:"days" yaml:"days"`   // 0=Sunday ... 6=Saturday
	Timezone string `json:"timezone,omitempty" yaml:"timezone"`
}

// NotificationSettings controls push delivery of results.
type NotificationSettings struct {
	Push             bool `json:"push" yaml:"push"`
	Email            bool `json:"email" yaml:"email"`
	HighPriorityOnly bool `json:"high_priority_only" yaml:"high_priority_only"`
}

// UserPreferences is read-only context for one pipeline invocation.
type UserPreferences struct {
	PriorityCategories   []Category           `json:"priority_categories" yaml:"priority_categories"`
	WorkingHours         WorkingHours         `json:"working_hours" yaml:"working_hours"`
	NotificationSettings NotificationSettings `json:"notification_settings" yaml:"notification_settings"`
}

// DefaultPreferences returns Mon-Fri 09:00-17:00 UTC with work prioritized.
func DefaultPreferences() UserPreferences {
	return UserPreferences{
		PriorityCategories: []Category{CategoryWork},
		WorkingHours: WorkingHours{
			Start:    "09:00",
			End:      "17:00",
			Days:     []int{1, 2, 3, 4, 5},
			Timezone: "UTC",
		},
		NotificationSettings: NotificationSettings{Push: true},
	}
}

// IsPriorityCategory reports whether c is one of the user's priority categories.
func (p *UserPreferences) IsPriorityCategory(c Category) bool {
	for _, pc := range p.PriorityCategories {
		if pc == c {
			return true
		}
	}
	return false
}

var ErrInvalidClock = errors.New("clock must be HH:MM")

// ParseClock parses HH:MM into minutes after midnight.
func ParseClock(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	h, errH := strconv.Atoi(s[:2])
	m, errM := strconv.Atoi(s[3:])
	if errH != nil || errM != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return h*60 + m, nil
}

// Validate checks the clock strings, day indices and timezone.
func (w WorkingHours) Validate() error {
	start, err := ParseClock(w.Start)
	if err != nil {
		return fmt.Errorf("working_hours.start: %w", err)
	}
	end, err := ParseClock(w.End)
	if err != nil {
		return fmt.Errorf("working_hours.end: %w", err)
	}
	if end <= start {
		return fmt.Errorf("working_hours: end %s must be after start %s", w.End, w.Start)
	}
	for _, d := range w.Days {
		if d < 0 || d > 6 {
			return fmt.Errorf("working_hours.days: %d is not a weekday index", d)
		}
	}
	if _, err := w.location(); err != nil {
		return fmt.Errorf("working_hours.timezone: %w", err)
	}
	return nil
}

func (w WorkingHours) location() (*time.Location, error) {
	if w.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(w.Timezone)
}

// Location returns the configured timezone, UTC when unset or unknown.
func (w WorkingHours) Location() *time.Location {
	loc, err := w.location()
	if err != nil {
		return time.UTC
	}
	return loc
}

// HasDay reports whether the weekday is a working day.
func (w WorkingHours) HasDay(d time.Weekday) bool {
	for _, day := range w.Days {
		if day == int(d) {
			return true
		}
	}
	return false
}

// Bounds returns the start and end of working hours on t's calendar day.
func (w WorkingHours) Bounds(t time.Time) (time.Time, time.Time, bool) {
	start, err := ParseClock(w.Start)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err := ParseClock(w.End)
	if err != nil || end <= start {
		return time.Time{}, time.Time{}, false
	}
	t = t.In(w.Location())
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return midnight.Add(time.Duration(start) * time.Minute), midnight.Add(time.Duration(end) * time.Minute), true
}

// Contains reports whether t falls on a working day within [start, end).
func (w WorkingHours) Contains(t time.Time) bool {
	local := t.In(w.Location())
	if !w.HasDay(local.Weekday()) {
		return false
	}
	start, end, ok := w.Bounds(local)
	if !ok {
		return false
	}
	return !local.Before(start) && local.Before(end)
}
