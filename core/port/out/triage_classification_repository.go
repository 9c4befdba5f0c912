package out

import (
	"context"

	"triage_server/core/domain"
)

// ClassificationRepository stores pre-scored classification records,
// upserted by (user_id, email_id).
type ClassificationRepository interface {
	Upsert(ctx context.Context, record *domain.ClassificationRecord) error
	// ListBySession returns records ordered by priority score, highest first.
	ListBySession(ctx context.Context, userID, sessionID string) ([]*domain.ClassificationRecord, error)
	GetByEmail(ctx context.Context, userID, emailID string) (*domain.ClassificationRecord, error)
}
