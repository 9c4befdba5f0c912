package provider

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

// calendarFreeBusyScope allows freebusy.query and nothing else. The calendar
// package has no constant for it.
const calendarFreeBusyScope = "https://www.googleapis.com/auth/calendar.freebusy"

// GoogleConfig holds Google OAuth client settings.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// NewGoogleOAuthConfig builds the OAuth config shared by the Gmail and
// Calendar adapters. Only read scopes are requested.
func NewGoogleOAuthConfig(cfg GoogleConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			gmail.GmailReadonlyScope,
			calendarFreeBusyScope,
		},
		Endpoint: google.Endpoint,
	}
}
