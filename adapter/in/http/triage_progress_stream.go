package http

import (
	"bufio"
	"time"

	"github.com/gofiber/fiber/v2"

	"triage_server/adapter/out/realtime"
	"triage_server/core/domain"
	"triage_server/pkg/apperr"
)

// StreamProgress pushes session snapshots as server-sent events until the
// session finishes or the client goes away. Polling GetProgress stays the
// source of truth; a dropped event is repaired by the next one.
func (h *TriageHandler) StreamProgress(c *fiber.Ctx) error {
	if h.progress == nil {
		return apperr.New("SERVICE_UNAVAILABLE", "progress push not configured", fiber.StatusServiceUnavailable)
	}

	// subscribe before reading the snapshot so no write between the two is
	// missed; events older than the snapshot are skipped below
	sessionID := c.Params("id")
	events := h.progress.Subscribe(sessionID)
	session, err := h.ownedSession(c)
	if err != nil {
		h.progress.Unsubscribe(sessionID, events)
		return err
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	log := h.log.With().Str("session_id", sessionID).Logger()
	heartbeat := h.heartbeat

	shown := session.ProcessedEmails
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.progress.Unsubscribe(sessionID, events)
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		// the current snapshot first, so late subscribers are never blank
		if !writeEvent(w, &domain.ProgressEvent{
			SessionID: sessionID,
			UserID:    session.UserID,
			Session:   session,
			Timestamp: time.Now().UTC(),
		}) || session.Status.IsTerminal() {
			return
		}

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if event.Session == nil || event.Session.ProcessedEmails < shown {
					continue
				}
				shown = event.Session.ProcessedEmails
				if !writeEvent(w, event) {
					log.Debug().Msg("client disconnected during write")
					return
				}
				if event.Session.Status.IsTerminal() {
					return
				}
			case <-ticker.C:
				w.WriteString(": heartbeat\n\n")
				if err := w.Flush(); err != nil {
					log.Debug().Err(err).Msg("client disconnected during heartbeat")
					return
				}
			}
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, event *domain.ProgressEvent) bool {
	frame, err := realtime.FormatEvent(event)
	if err != nil {
		return true
	}
	if _, err := w.Write(frame); err != nil {
		return false
	}
	return w.Flush() == nil
}
