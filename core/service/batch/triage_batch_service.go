// Package batch runs email classification batches and tracks their progress.
package batch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/core/port/in"
	"triage_server/core/port/out"
	"triage_server/pkg/apperr"
)

// Config controls batch limits and pacing.
type Config struct {
	MaxEmails     int           // per submission (default: 50)
	Concurrency   int           // items classified in parallel (default: 1)
	ItemTimeout   time.Duration // hard limit per classify call (default: 30s)
	ItemDelay     time.Duration // pause between items or groups (default: 500ms)
	MaxRetries    int           // extra attempts for api_error and timeout (default: 0)
	RetryBackoff  time.Duration // multiplied by the attempt number (default: 1s)
	AverageWindow int           // samples in the rolling average (default: 20)
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		MaxEmails:     50,
		Concurrency:   1,
		ItemTimeout:   30 * time.Second,
		ItemDelay:     500 * time.Millisecond,
		MaxRetries:    0,
		RetryBackoff:  time.Second,
		AverageWindow: 20,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxEmails <= 0 {
		c.MaxEmails = def.MaxEmails
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = def.ItemTimeout
	}
	if c.ItemDelay < 0 {
		c.ItemDelay = 0
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = def.RetryBackoff
	}
	if c.AverageWindow <= 0 {
		c.AverageWindow = def.AverageWindow
	}
	return c
}

// Service accepts submissions and answers progress queries. The work itself
// runs wherever the launcher sends it.
type Service struct {
	cfg        Config
	store      out.ProgressStore
	repository out.ClassificationRepository
	launcher   out.BatchLauncher
	notifier   out.ProgressNotifier
	now        func() time.Time
	newID      func() string
	log        zerolog.Logger
}

// ServiceDeps are the collaborators of Service. Notifier is optional.
type ServiceDeps struct {
	Store      out.ProgressStore
	Repository out.ClassificationRepository
	Launcher   out.BatchLauncher
	Notifier   out.ProgressNotifier
	Clock      func() time.Time
	Log        zerolog.Logger
}

func NewService(cfg Config, deps ServiceDeps) *Service {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		cfg:        cfg.withDefaults(),
		store:      deps.Store,
		repository: deps.Repository,
		launcher:   deps.Launcher,
		notifier:   deps.Notifier,
		now:        now,
		newID:      uuid.NewString,
		log:        deps.Log.With().Str("component", "batch").Logger(),
	}
}

// Submit validates the batch, creates a pending session and hands the job
// to the launcher. It returns as soon as the session exists.
func (s *Service) Submit(ctx context.Context, userID string, emails []*domain.Email, prefs domain.UserPreferences) (*in.SubmitResult, error) {
	if err := s.validate(emails, prefs); err != nil {
		return nil, err
	}

	session := domain.NewProgressSession(s.newID(), userID, len(emails), s.now())
	if err := s.store.Create(ctx, session); err != nil {
		return nil, apperr.DatabaseError("create progress session", err)
	}
	s.notify(ctx, session)

	job := &out.BatchJob{
		SessionID:   session.SessionID,
		UserID:      userID,
		Emails:      emails,
		Preferences: prefs,
	}
	if err := s.launcher.Launch(ctx, job); err != nil {
		s.log.Error().Err(err).Str("session_id", session.SessionID).Msg("failed to launch batch")
		if ferr := session.Fail(fmt.Sprintf("failed to start batch: %v", err), s.now()); ferr == nil {
			if serr := s.store.Save(ctx, session); serr != nil {
				s.log.Error().Err(serr).Str("session_id", session.SessionID).Msg("failed to record launch failure")
			}
			s.notify(ctx, session)
		}
		return nil, apperr.Wrap(err, apperr.CodeInternalError, "failed to start batch", http.StatusInternalServerError).
			WithDetail("session_id", session.SessionID)
	}

	s.log.Info().
		Str("session_id", session.SessionID).
		Str("user_id", userID).
		Int("total", len(emails)).
		Msg("batch submitted")

	return &in.SubmitResult{SessionID: session.SessionID, TotalEmails: len(emails)}, nil
}

func (s *Service) validate(emails []*domain.Email, prefs domain.UserPreferences) error {
	if len(emails) == 0 {
		return apperr.EmptyBatch()
	}
	if len(emails) > s.cfg.MaxEmails {
		return apperr.BatchTooLarge(len(emails), s.cfg.MaxEmails)
	}
	for i, email := range emails {
		if email == nil {
			return apperr.InvalidInput(fmt.Sprintf("emails[%d]", i), "email is null")
		}
		if err := email.Validate(); err != nil {
			return apperr.InvalidInput(fmt.Sprintf("emails[%d]", i), err.Error())
		}
	}
	if err := prefs.WorkingHours.Validate(); err != nil {
		return apperr.ValidationFailed(err.Error())
	}
	return nil
}

// GetProgress returns a snapshot of the session.
func (s *Service) GetProgress(ctx context.Context, sessionID string) (*domain.ProgressSession, error) {
	session, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, out.ErrSessionNotFound) {
		return nil, apperr.NotFound("progress session")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get progress session", err)
	}
	return session, nil
}

// Results lists the scored records of a session owned by userID, highest
// score first.
func (s *Service) Results(ctx context.Context, userID, sessionID string) ([]*domain.ClassificationRecord, error) {
	session, err := s.GetProgress(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, apperr.NotFound("progress session")
	}

	records, err := s.repository.ListBySession(ctx, userID, sessionID)
	if err != nil {
		return nil, apperr.DatabaseError("list classifications", err)
	}
	return records, nil
}

func (s *Service) notify(ctx context.Context, session *domain.ProgressSession) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, session); err != nil {
		s.log.Debug().Err(err).Str("session_id", session.SessionID).Msg("progress notify failed")
	}
}

var _ in.BatchService = (*Service)(nil)
