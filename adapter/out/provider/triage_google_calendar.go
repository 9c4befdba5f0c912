package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/httputil"
)

const primaryCalendar = "primary"

// GoogleCalendarAdapter reads busy periods through the free/busy API.
type GoogleCalendarAdapter struct {
	oauthConfig *oauth2.Config
	calendarIDs []string
	endpoint    string // overrides the API base URL, used in tests
}

// NewGoogleCalendarAdapter creates a calendar adapter. With no calendar ids
// only the primary calendar is consulted.
func NewGoogleCalendarAdapter(oauthConfig *oauth2.Config, calendarIDs ...string) *GoogleCalendarAdapter {
	if len(calendarIDs) == 0 {
		calendarIDs = []string{primaryCalendar}
	}
	return &GoogleCalendarAdapter{oauthConfig: oauthConfig, calendarIDs: calendarIDs}
}

// getService creates a Calendar service with token.
func (a *GoogleCalendarAdapter) getService(ctx context.Context, token *oauth2.Token) (*calendar.Service, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httputil.GoogleClient())
	opts := []option.ClientOption{option.WithHTTPClient(a.oauthConfig.Client(ctx, token))}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}
	return calendar.NewService(ctx, opts...)
}

// BusyPeriods returns the merged busy periods of all configured calendars
// overlapping window.
func (a *GoogleCalendarAdapter) BusyPeriods(ctx context.Context, token *oauth2.Token, window domain.TimePeriod) ([]domain.TimePeriod, error) {
	if token == nil {
		return nil, fmt.Errorf("calendar token is required")
	}
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	items := make([]*calendar.FreeBusyRequestItem, len(a.calendarIDs))
	for i, id := range a.calendarIDs {
		items[i] = &calendar.FreeBusyRequestItem{Id: id}
	}

	resp, err := svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: window.Start.UTC().Format(time.RFC3339),
		TimeMax: window.End.UTC().Format(time.RFC3339),
		Items:   items,
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to query free/busy: %w", err)
	}

	var periods []domain.TimePeriod
	for calID, cal := range resp.Calendars {
		if len(cal.Errors) > 0 {
			return nil, fmt.Errorf("free/busy for %s: %s", calID, cal.Errors[0].Reason)
		}
		for _, busy := range cal.Busy {
			start, err := time.Parse(time.RFC3339, busy.Start)
			if err != nil {
				continue
			}
			end, err := time.Parse(time.RFC3339, busy.End)
			if err != nil || !end.After(start) {
				continue
			}
			periods = append(periods, domain.TimePeriod{Start: start, End: end})
		}
	}
	return periods, nil
}

var _ out.BusyCalendar = (*GoogleCalendarAdapter)(nil)
