package meeting

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/core/port/in"
	"triage_server/core/service/schedule"
	"triage_server/pkg/apperr"
	"triage_server/pkg/logger"
)

// Service implements in.MeetingService.
type Service struct {
	detector  *Detector
	suggester *schedule.Suggester
	log       zerolog.Logger
}

// NewService wires a detector and a slot suggester.
func NewService(detector *Detector, suggester *schedule.Suggester) *Service {
	return &Service{
		detector:  detector,
		suggester: suggester,
		log:       logger.Component("meeting"),
	}
}

func (s *Service) DetectMeeting(content in.MeetingContent) *domain.MeetingDetection {
	return s.detector.Detect(content)
}

func (s *Service) MeetingPriority(email *domain.Email, d *domain.MeetingDetection) domain.MeetingPriority {
	return s.detector.Priority(email, d)
}

// SuggestSlots validates the working hours and ranks free slots.
func (s *Service) SuggestSlots(ctx context.Context, req in.SuggestRequest) ([]domain.TimeSlotSuggestion, error) {
	if err := req.WorkingHours.Validate(); err != nil {
		return nil, apperr.ValidationFailed(err.Error())
	}
	if req.Window != nil && !req.Window.Start.Before(req.Window.End) {
		return nil, apperr.InvalidInput("window", "start must be before end")
	}

	start := time.Now()
	slots, err := s.suggester.Suggest(ctx, req)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", req.UserID).Msg("slot suggestion failed")
		return nil, apperr.ExternalError("calendar", err)
	}

	s.log.Debug().
		Str("user_id", req.UserID).
		Int("slots", len(slots)).
		Dur("took", time.Since(start)).
		Msg("suggested meeting slots")
	return slots, nil
}

var _ in.MeetingService = (*Service)(nil)
