package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

// =============================================================================
// MongoDB Session Archive
// =============================================================================

const (
	collectionSessions = "triage_sessions"

	DefaultArchiveTTL = 30 * 24 * time.Hour
)

// ErrArchivedSessionNotFound is returned by Get for unknown ids.
var ErrArchivedSessionNotFound = errors.New("archived session not found")

// SessionArchive keeps finished progress sessions for later inspection.
// Documents expire through a TTL index on expires_at.
type SessionArchive struct {
	collection *mongo.Collection
	ttl        time.Duration
	now        func() time.Time
}

// NewSessionArchive creates the archive. A zero ttl uses DefaultArchiveTTL.
func NewSessionArchive(db *mongo.Database, ttl time.Duration) *SessionArchive {
	if ttl <= 0 {
		ttl = DefaultArchiveTTL
	}
	return &SessionArchive{
		collection: db.Collection(collectionSessions),
		ttl:        ttl,
		now:        time.Now,
	}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *SessionArchive) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "completed_at", Value: -1},
			},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// sessionDocument represents the MongoDB document structure.
type sessionDocument struct {
	SessionID           string     `bson:"session_id"`
	UserID              string     `bson:"user_id"`
	Status              string     `bson:"status"`
	TotalEmails         int        `bson:"total_emails"`
	ProcessedEmails     int        `bson:"processed_emails"`
	SuccessfulEmails    int        `bson:"successful_emails"`
	FailedEmails        int        `bson:"failed_emails"`
	ErrorMessage        *string    `bson:"error_message,omitempty"`
	AverageProcessingMs *int64     `bson:"average_processing_ms,omitempty"`
	StartedAt           time.Time  `bson:"started_at"`
	CompletedAt         *time.Time `bson:"completed_at,omitempty"`
	ArchivedAt          time.Time  `bson:"archived_at"`
	ExpiresAt           time.Time  `bson:"expires_at"`
}

func toSessionDocument(s *domain.ProgressSession, now time.Time, ttl time.Duration) *sessionDocument {
	return &sessionDocument{
		SessionID:           s.SessionID,
		UserID:              s.UserID,
		Status:              string(s.Status),
		TotalEmails:         s.TotalEmails,
		ProcessedEmails:     s.ProcessedEmails,
		SuccessfulEmails:    s.SuccessfulEmails,
		FailedEmails:        s.FailedEmails,
		ErrorMessage:        s.ErrorMessage,
		AverageProcessingMs: s.AverageProcessingTimeMs,
		StartedAt:           s.StartedAt,
		CompletedAt:         s.CompletedAt,
		ArchivedAt:          now,
		ExpiresAt:           now.Add(ttl),
	}
}

func (d *sessionDocument) toEntity() *domain.ProgressSession {
	s := &domain.ProgressSession{
		SessionID:               d.SessionID,
		UserID:                  d.UserID,
		Status:                  domain.SessionStatus(d.Status),
		TotalEmails:             d.TotalEmails,
		ProcessedEmails:         d.ProcessedEmails,
		SuccessfulEmails:        d.SuccessfulEmails,
		FailedEmails:            d.FailedEmails,
		ErrorMessage:            d.ErrorMessage,
		AverageProcessingTimeMs: d.AverageProcessingMs,
		StartedAt:               d.StartedAt,
		UpdatedAt:               d.ArchivedAt,
		CompletedAt:             d.CompletedAt,
	}
	if d.CompletedAt != nil {
		s.UpdatedAt = *d.CompletedAt
	}
	return s
}

// Archive upserts a finished session. Non-terminal sessions are ignored.
func (a *SessionArchive) Archive(ctx context.Context, s *domain.ProgressSession) error {
	if s == nil || !s.Status.IsTerminal() {
		return nil
	}

	doc := toSessionDocument(s, a.now(), a.ttl)
	opts := options.Replace().SetUpsert(true)
	if _, err := a.collection.ReplaceOne(ctx, bson.M{"session_id": s.SessionID}, doc, opts); err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}
	return nil
}

// Get returns an archived session.
func (a *SessionArchive) Get(ctx context.Context, sessionID string) (*domain.ProgressSession, error) {
	var doc sessionDocument
	err := a.collection.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrArchivedSessionNotFound
		}
		return nil, fmt.Errorf("failed to get archived session: %w", err)
	}
	return doc.toEntity(), nil
}

var _ out.SessionArchive = (*SessionArchive)(nil)
