package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Well-known mailbox labels.
const (
	LabelImportant = "IMPORTANT"
	LabelStarred   = "STARRED"
)

// Address is a mailbox address with an optional display name.
type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// String formats the address as "Name <email>" when a name is present.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// Email is a message as delivered by the mail provider. It is never mutated
// by the pipeline.
type Email struct {
	ID          string    `json:"id"`
	ThreadID    string    `json:"thread_id"`
	Subject     *string   `json:"subject,omitempty"`
	Sender      Address   `json:"sender"`
	Recipients  []Address `json:"recipients,omitempty"`
	Date        time.Time `json:"date"`
	Snippet     string    `json:"snippet"`
	BodyText    *string   `json:"body_text,omitempty"`
	BodyHTML    *string   `json:"body_html,omitempty"`
	IsRead      bool      `json:"is_read"`
	IsImportant bool      `json:"is_important"`
	Labels      []string  `json:"labels,omitempty"`
}

var (
	ErrEmailMissingID   = errors.New("email id is required")
	ErrEmailMissingDate = errors.New("email date is required")
)

// Validate rejects records that cannot be processed.
func (e *Email) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return ErrEmailMissingID
	}
	if e.Date.IsZero() {
		return ErrEmailMissingDate
	}
	return nil
}

// HasLabel reports whether the email carries the exact label.
func (e *Email) HasLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// SubjectOrEmpty returns the subject or "" when absent.
func (e *Email) SubjectOrEmpty() string {
	if e.Subject == nil {
		return ""
	}
	return *e.Subject
}

// HasContent reports whether there is any text to classify.
func (e *Email) HasContent() bool {
	if strings.TrimSpace(e.SubjectOrEmpty()) != "" || strings.TrimSpace(e.Snippet) != "" {
		return true
	}
	if e.BodyText != nil && strings.TrimSpace(*e.BodyText) != "" {
		return true
	}
	return e.BodyHTML != nil && strings.TrimSpace(*e.BodyHTML) != ""
}

// StringPtr returns a pointer to s, or nil for "".
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
