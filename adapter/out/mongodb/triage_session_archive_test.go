package mongodb

import (
	"context"
	"testing"
	"time"

	"triage_server/core/domain"
)

func TestSessionDocument_RoundTrip(t *testing.T) {
	started := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	done := started.Add(2 * time.Minute)
	msg := "classifier unavailable"
	avg := int64(1200)

	s := &domain.ProgressSession{
		SessionID:               "s1",
		UserID:                  "u1",
		Status:                  domain.StatusFailed,
		TotalEmails:             4,
		ProcessedEmails:         2,
		SuccessfulEmails:        1,
		FailedEmails:            1,
		ErrorMessage:            &msg,
		AverageProcessingTimeMs: &avg,
		StartedAt:               started,
		CompletedAt:             &done,
	}

	archivedAt := done.Add(time.Second)
	doc := toSessionDocument(s, archivedAt, time.Hour)
	if !doc.ExpiresAt.Equal(archivedAt.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want archive time + ttl", doc.ExpiresAt)
	}

	got := doc.toEntity()
	if got.Status != domain.StatusFailed || got.ProcessedEmails != 2 || got.FailedEmails != 1 {
		t.Errorf("counters lost: %+v", got)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != msg {
		t.Errorf("ErrorMessage = %v, want %q", got.ErrorMessage, msg)
	}
	if !got.UpdatedAt.Equal(done) {
		t.Errorf("UpdatedAt = %v, want completion time", got.UpdatedAt)
	}
	if !got.CountersConsistent() {
		t.Error("counters inconsistent after round trip")
	}
}

func TestSessionArchive_SkipsUnfinishedSessions(t *testing.T) {
	// collection is nil: any write attempt would panic
	a := &SessionArchive{ttl: time.Hour, now: time.Now}

	for _, s := range []*domain.ProgressSession{
		nil,
		{SessionID: "p", Status: domain.StatusPending},
		{SessionID: "r", Status: domain.StatusRunning},
	} {
		if err := a.Archive(context.Background(), s); err != nil {
			t.Errorf("Archive() error = %v", err)
		}
	}
}
