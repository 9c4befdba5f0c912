package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"triage_server/core/domain"
	"triage_server/core/port/in"
	"triage_server/core/port/out"
	"triage_server/infra/middleware"
	"triage_server/pkg/apperr"
)

const (
	defaultGmailFetch = 20
	gmailQueryInbox   = "in:inbox"
)

// TriageHandler serves batch classification, priority and meeting routes.
type TriageHandler struct {
	batch     in.BatchService
	scorer    in.PriorityService
	meeting   in.MeetingService
	mail      out.MailProvider
	progress  out.ProgressSubscriber
	heartbeat time.Duration
	maxFetch  int
	defaults  domain.UserPreferences
	log       zerolog.Logger
}

// TriageHandlerDeps are the handler collaborators. Mail and Progress are
// optional; their routes answer 503 when absent.
type TriageHandlerDeps struct {
	Batch     in.BatchService
	Scorer    in.PriorityService
	Meeting   in.MeetingService
	Mail      out.MailProvider
	Progress  out.ProgressSubscriber
	Heartbeat time.Duration
	MaxBatch  int // caps Gmail max_results; zero means no cap
	Defaults  domain.UserPreferences
	Log       zerolog.Logger
}

func NewTriageHandler(deps TriageHandlerDeps) *TriageHandler {
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &TriageHandler{
		batch:     deps.Batch,
		scorer:    deps.Scorer,
		meeting:   deps.Meeting,
		mail:      deps.Mail,
		progress:  deps.Progress,
		heartbeat: heartbeat,
		maxFetch:  deps.MaxBatch,
		defaults:  deps.Defaults,
		log:       deps.Log.With().Str("handler", "triage").Logger(),
	}
}

// Register registers triage routes. submitLimit guards the two submit
// routes and may be nil.
func (h *TriageHandler) Register(router fiber.Router, submitLimit fiber.Handler) {
	if submitLimit == nil {
		submitLimit = func(c *fiber.Ctx) error { return c.Next() }
	}

	batches := router.Group("/triage/batches")
	batches.Post("/", submitLimit, h.SubmitBatch)
	batches.Post("/gmail", submitLimit, h.SubmitGmailBatch)
	batches.Get("/:id", h.GetProgress)
	batches.Get("/:id/stream", h.StreamProgress)
	batches.Get("/:id/results", h.Results)

	router.Post("/triage/priority", h.ScorePriority)
	router.Post("/triage/meetings/detect", h.DetectMeeting)
	router.Post("/triage/meetings/suggest", h.SuggestSlots)
}

// =============================================================================
// Batches
// =============================================================================

type submitBatchRequest struct {
	Emails      []*domain.Email         `json:"emails"`
	Preferences *domain.UserPreferences `json:"preferences,omitempty"`
}

type gmailBatchRequest struct {
	AccessToken string                  `json:"access_token"`
	Query       string                  `json:"query,omitempty"`
	LabelIDs    []string                `json:"label_ids,omitempty"`
	MaxResults  int                     `json:"max_results,omitempty"`
	Preferences *domain.UserPreferences `json:"preferences,omitempty"`
}

// SubmitBatch starts a batch run and returns 202 with the session id.
func (h *TriageHandler) SubmitBatch(c *fiber.Ctx) error {
	var req submitBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body").WithError(err)
	}

	result, err := h.batch.Submit(c.Context(), middleware.UserID(c), req.Emails, h.preferences(req.Preferences))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(result)
}

// SubmitGmailBatch fetches the newest inbox messages and submits them.
func (h *TriageHandler) SubmitGmailBatch(c *fiber.Ctx) error {
	if h.mail == nil {
		return apperr.New("SERVICE_UNAVAILABLE", "mail provider not configured", fiber.StatusServiceUnavailable)
	}

	var req gmailBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body").WithError(err)
	}
	if strings.TrimSpace(req.AccessToken) == "" {
		return apperr.InvalidInput("access_token", "is required")
	}
	if req.MaxResults <= 0 {
		req.MaxResults = defaultGmailFetch
	}
	if h.maxFetch > 0 && req.MaxResults > h.maxFetch {
		req.MaxResults = h.maxFetch
	}
	if req.Query == "" && len(req.LabelIDs) == 0 {
		req.Query = gmailQueryInbox
	}

	emails, err := h.mail.FetchMessages(c.Context(), &oauth2.Token{AccessToken: req.AccessToken}, out.MailQuery{
		Query:      req.Query,
		LabelIDs:   req.LabelIDs,
		MaxResults: req.MaxResults,
	})
	if err != nil {
		return apperr.ExternalError("gmail", err)
	}

	result, err := h.batch.Submit(c.Context(), middleware.UserID(c), emails, h.preferences(req.Preferences))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(result)
}

// GetProgress returns the current session snapshot.
func (h *TriageHandler) GetProgress(c *fiber.Ctx) error {
	session, err := h.ownedSession(c)
	if err != nil {
		return err
	}
	return c.JSON(session)
}

// Results lists the session's scored emails, highest score first.
func (h *TriageHandler) Results(c *fiber.Ctx) error {
	records, err := h.batch.Results(c.Context(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"session_id": c.Params("id"),
		"results":    records,
		"count":      len(records),
	})
}

// ownedSession loads the session named in the path. Sessions of other users
// are reported as missing.
func (h *TriageHandler) ownedSession(c *fiber.Ctx) (*domain.ProgressSession, error) {
	session, err := h.batch.GetProgress(c.Context(), c.Params("id"))
	if err != nil {
		return nil, err
	}
	if session.UserID != middleware.UserID(c) {
		return nil, apperr.NotFound("progress session")
	}
	return session, nil
}

// =============================================================================
// Priority
// =============================================================================

type priorityRequest struct {
	Email          *domain.Email           `json:"email"`
	Classification *domain.Classification  `json:"classification"`
	Preferences    *domain.UserPreferences `json:"preferences,omitempty"`
}

// ScorePriority scores one email. A missing classification is scored as
// unclassified.
func (h *TriageHandler) ScorePriority(c *fiber.Ctx) error {
	var req priorityRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body").WithError(err)
	}
	if req.Email == nil {
		return apperr.InvalidInput("email", "is required")
	}
	score, err := h.scorer.ScorePriority(req.Email, req.Classification, h.preferences(req.Preferences))
	if err != nil {
		return apperr.ValidationFailed(err.Error())
	}
	return c.JSON(score)
}

// =============================================================================
// Meetings
// =============================================================================

type detectRequest struct {
	in.MeetingContent
	Labels      []string  `json:"labels,omitempty"`
	IsImportant bool      `json:"is_important,omitempty"`
	Date        time.Time `json:"date,omitempty"`
}

type detectResponse struct {
	*domain.MeetingDetection
	Priority domain.MeetingPriority `json:"priority"`
}

// DetectMeeting reads scheduling intent from email content.
func (h *TriageHandler) DetectMeeting(c *fiber.Ctx) error {
	var req detectRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body").WithError(err)
	}

	det := h.meeting.DetectMeeting(req.MeetingContent)
	email := &domain.Email{
		Subject:     req.Subject,
		Sender:      req.Sender,
		BodyText:    req.BodyText,
		BodyHTML:    req.BodyHTML,
		Labels:      req.Labels,
		IsImportant: req.IsImportant,
		Date:        req.Date,
	}
	return c.JSON(detectResponse{
		MeetingDetection: det,
		Priority:         h.meeting.MeetingPriority(email, det),
	})
}

type suggestRequest struct {
	AccessToken  string                   `json:"access_token"`
	Detection    *domain.MeetingDetection `json:"detection,omitempty"`
	Content      *in.MeetingContent       `json:"content,omitempty"`
	WorkingHours *domain.WorkingHours     `json:"working_hours,omitempty"`
	Window       *domain.TimePeriod       `json:"window,omitempty"`
}

// SuggestSlots proposes up to five free meeting slots.
func (h *TriageHandler) SuggestSlots(c *fiber.Ctx) error {
	var req suggestRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body").WithError(err)
	}
	if strings.TrimSpace(req.AccessToken) == "" {
		return apperr.InvalidInput("access_token", "is required")
	}

	det := req.Detection
	if det == nil && req.Content != nil {
		det = h.meeting.DetectMeeting(*req.Content)
	}
	hours := h.defaults.WorkingHours
	if req.WorkingHours != nil {
		hours = *req.WorkingHours
	}

	slots, err := h.meeting.SuggestSlots(c.Context(), in.SuggestRequest{
		UserID:       middleware.UserID(c),
		Token:        &oauth2.Token{AccessToken: req.AccessToken},
		Detection:    det,
		WorkingHours: hours,
		Window:       req.Window,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"suggestions": slots})
}

func (h *TriageHandler) preferences(p *domain.UserPreferences) domain.UserPreferences {
	if p == nil {
		return h.defaults
	}
	return *p
}
