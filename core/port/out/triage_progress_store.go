package out

import (
	"context"
	"errors"
	"time"

	"triage_server/core/domain"
)

var (
	ErrSessionNotFound = errors.New("progress session not found")
	ErrSessionExists   = errors.New("progress session already exists")
	// ErrStaleProgress rejects a write that would lower processed_emails.
	ErrStaleProgress = errors.New("stale progress update")
)

// ProgressStore holds one record per batch run. Each session has a single
// writer; reads may come from anywhere.
type ProgressStore interface {
	Create(ctx context.Context, session *domain.ProgressSession) error
	Save(ctx context.Context, session *domain.ProgressSession) error
	Get(ctx context.Context, sessionID string) (*domain.ProgressSession, error)
	// DeleteFinishedBefore removes terminal sessions completed before cutoff.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ProgressNotifier pushes "session changed" notifications. Delivery is best
// effort; readers fall back to ProgressStore.Get.
type ProgressNotifier interface {
	Notify(ctx context.Context, session *domain.ProgressSession) error
}

// ProgressSubscriber is implemented by notifiers that fan out to readers.
type ProgressSubscriber interface {
	Subscribe(sessionID string) <-chan *domain.ProgressEvent
	Unsubscribe(sessionID string, ch <-chan *domain.ProgressEvent)
}

// SessionArchive keeps finished sessions after the live store drops them.
type SessionArchive interface {
	Archive(ctx context.Context, session *domain.ProgressSession) error
}
