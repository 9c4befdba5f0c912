package domain

import (
	"errors"
	"fmt"
	"time"
)

// SessionStatus is the lifecycle state of a batch run.
type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	// StatusCancelled is a legal terminal state that no component produces yet.
	StatusCancelled SessionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var sessionTransitions = map[SessionStatus][]SessionStatus{
	StatusPending: {StatusRunning, StatusFailed},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to SessionStatus) bool {
	for _, next := range sessionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrSessionTerminal   = errors.New("session already finished")
	ErrIndexOutOfRange   = errors.New("item index out of range")
)

// ProgressSession tracks one batch run. It has a single writer, the
// orchestrator that created it. Readers always receive a Clone.
type ProgressSession struct {
	SessionID                string        `json:"session_id"`
	UserID                   string        `json:"user_id"`
	Status                   SessionStatus `json:"status"`
	TotalEmails              int           `json:"total_emails"`
	ProcessedEmails          int           `json:"processed_emails"`
	SuccessfulEmails         int           `json:"successful_emails"`
	FailedEmails             int           `json:"failed_emails"`
	CurrentIndex             int           `json:"current_index"`
	CurrentEmailSubject      *string       `json:"current_email_subject"`
	StartedAt                time.Time     `json:"started_at"`
	UpdatedAt                time.Time     `json:"updated_at"`
	CompletedAt              *time.Time    `json:"completed_at"`
	ErrorMessage             *string       `json:"error_message"`
	EstimatedTimeRemainingMs *int64        `json:"estimated_time_remaining_ms"`
	AverageProcessingTimeMs  *int64        `json:"average_processing_time_ms"`
}

// NewProgressSession creates a pending session.
func NewProgressSession(sessionID, userID string, total int, now time.Time) *ProgressSession {
	return &ProgressSession{
		SessionID:   sessionID,
		UserID:      userID,
		Status:      StatusPending,
		TotalEmails: total,
		StartedAt:   now,
		UpdatedAt:   now,
	}
}

// Transition moves the session to the next status.
func (s *ProgressSession) Transition(to SessionStatus, now time.Time) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = now
	if to.IsTerminal() {
		t := now
		s.CompletedAt = &t
		s.CurrentEmailSubject = nil
	}
	return nil
}

// BeginItem records the item about to be processed and refreshes the
// estimate from the rolling average, if one exists yet.
func (s *ProgressSession) BeginItem(index int, subject *string, avg *time.Duration, now time.Time) error {
	if s.Status.IsTerminal() {
		return ErrSessionTerminal
	}
	if index < 0 || index >= s.TotalEmails {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, s.TotalEmails)
	}

	s.CurrentIndex = index
	s.CurrentEmailSubject = copyString(subject)
	if avg != nil {
		avgMs := avg.Milliseconds()
		eta := avgMs * int64(s.TotalEmails-index)
		s.AverageProcessingTimeMs = &avgMs
		s.EstimatedTimeRemainingMs = &eta
	}
	s.UpdatedAt = now
	return nil
}

// RecordResult counts one processed item.
func (s *ProgressSession) RecordResult(success bool, now time.Time) error {
	if s.Status.IsTerminal() {
		return ErrSessionTerminal
	}
	if s.ProcessedEmails >= s.TotalEmails {
		return fmt.Errorf("%w: all %d items already processed", ErrIndexOutOfRange, s.TotalEmails)
	}
	if success {
		s.SuccessfulEmails++
	} else {
		s.FailedEmails++
	}
	s.ProcessedEmails++
	s.UpdatedAt = now
	return nil
}

// Complete finishes a running session.
func (s *ProgressSession) Complete(now time.Time) error {
	if err := s.Transition(StatusCompleted, now); err != nil {
		return err
	}
	s.ProcessedEmails = s.TotalEmails
	var zero int64
	s.EstimatedTimeRemainingMs = &zero
	return nil
}

// Fail finishes the session with an orchestration error.
func (s *ProgressSession) Fail(message string, now time.Time) error {
	if err := s.Transition(StatusFailed, now); err != nil {
		return err
	}
	s.ErrorMessage = &message
	return nil
}

// CountersConsistent reports whether successful+failed equals processed.
func (s *ProgressSession) CountersConsistent() bool {
	return s.SuccessfulEmails+s.FailedEmails == s.ProcessedEmails
}

// Clone returns a deep copy safe to hand to readers.
func (s *ProgressSession) Clone() *ProgressSession {
	if s == nil {
		return nil
	}
	c := *s
	c.CurrentEmailSubject = copyString(s.CurrentEmailSubject)
	c.ErrorMessage = copyString(s.ErrorMessage)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	if s.EstimatedTimeRemainingMs != nil {
		v := *s.EstimatedTimeRemainingMs
		c.EstimatedTimeRemainingMs = &v
	}
	if s.AverageProcessingTimeMs != nil {
		v := *s.AverageProcessingTimeMs
		c.AverageProcessingTimeMs = &v
	}
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// ProgressEvent is the push notification sent after each session write.
type ProgressEvent struct {
	Seq       int64            `json:"seq"`
	SessionID string           `json:"session_id"`
	UserID    string           `json:"user_id"`
	Session   *ProgressSession `json:"session"`
	Timestamp time.Time        `json:"timestamp"`
}
