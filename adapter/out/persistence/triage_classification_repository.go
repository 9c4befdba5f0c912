package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

// Dialect selects the SQL flavour of the connected database.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DialectOf derives the dialect from the sqlx driver name.
func DialectOf(db *sqlx.DB) Dialect {
	if db.DriverName() == "sqlite" {
		return DialectSQLite
	}
	return DialectPostgres
}

// =============================================================================
// Classification Repository
// =============================================================================

// ClassificationRepository implements out.ClassificationRepository on sqlx.
type ClassificationRepository struct {
	db      *sqlx.DB
	dialect Dialect
}

func NewClassificationRepository(db *sqlx.DB) *ClassificationRepository {
	return &ClassificationRepository{db: db, dialect: DialectOf(db)}
}

// classificationRow represents the database row.
type classificationRow struct {
	UserID         string    `db:"user_id"`
	EmailID        string    `db:"email_id"`
	ThreadID       string    `db:"thread_id"`
	SessionID      string    `db:"session_id"`
	Subject        string    `db:"subject"`
	Sender         string    `db:"sender"`
	Urgency        int       `db:"urgency"`
	Importance     int       `db:"importance"`
	ActionRequired bool      `db:"action_required"`
	Category       string    `db:"category"`
	Confidence     float64   `db:"confidence"`
	Reasoning      string    `db:"reasoning"`
	PriorityScore  float64   `db:"priority_score"`
	IsHighPriority bool      `db:"is_high_priority"`
	Labels         labelList `db:"labels"`
	ReceivedAt     time.Time `db:"received_at"`
	ClassifiedAt   time.Time `db:"classified_at"`
}

func (r *classificationRow) toEntity() *domain.ClassificationRecord {
	return &domain.ClassificationRecord{
		UserID:         r.UserID,
		EmailID:        r.EmailID,
		ThreadID:       r.ThreadID,
		SessionID:      r.SessionID,
		Subject:        r.Subject,
		Sender:         r.Sender,
		Urgency:        r.Urgency,
		Importance:     r.Importance,
		ActionRequired: r.ActionRequired,
		Category:       domain.Category(r.Category),
		Confidence:     r.Confidence,
		Reasoning:      r.Reasoning,
		PriorityScore:  r.PriorityScore,
		IsHighPriority: r.IsHighPriority,
		Labels:         []string(r.Labels),
		ReceivedAt:     r.ReceivedAt.UTC(),
		ClassifiedAt:   r.ClassifiedAt.UTC(),
	}
}

const classificationColumns = `user_id, email_id, thread_id, session_id, subject, sender,
	urgency, importance, action_required, category, confidence, reasoning,
	priority_score, is_high_priority, labels, received_at, classified_at`

// Upsert inserts or replaces the record for (user_id, email_id).
func (a *ClassificationRepository) Upsert(ctx context.Context, rec *domain.ClassificationRecord) error {
	if rec == nil || rec.UserID == "" || rec.EmailID == "" {
		return ErrInvalidInput
	}
	labels, err := a.labelsValue(rec.Labels)
	if err != nil {
		return err
	}

	query := a.db.Rebind(`INSERT INTO triage_classifications (` + classificationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, email_id) DO UPDATE SET
			thread_id = excluded.thread_id,
			session_id = excluded.session_id,
			subject = excluded.subject,
			sender = excluded.sender,
			urgency = excluded.urgency,
			importance = excluded.importance,
			action_required = excluded.action_required,
			category = excluded.category,
			confidence = excluded.confidence,
			reasoning = excluded.reasoning,
			priority_score = excluded.priority_score,
			is_high_priority = excluded.is_high_priority,
			labels = excluded.labels,
			received_at = excluded.received_at,
			classified_at = excluded.classified_at`)

	_, err = a.db.ExecContext(ctx, query,
		rec.UserID, rec.EmailID, rec.ThreadID, rec.SessionID, rec.Subject, rec.Sender,
		rec.Urgency, rec.Importance, rec.ActionRequired, string(rec.Category), rec.Confidence, rec.Reasoning,
		rec.PriorityScore, rec.IsHighPriority, labels, rec.ReceivedAt.UTC(), rec.ClassifiedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert classification: %w", err)
	}
	return nil
}

// ListBySession returns a session's records, highest score first.
func (a *ClassificationRepository) ListBySession(ctx context.Context, userID, sessionID string) ([]*domain.ClassificationRecord, error) {
	var rows []classificationRow
	query := a.db.Rebind(`SELECT ` + classificationColumns + ` FROM triage_classifications
		WHERE user_id = ? AND session_id = ?
		ORDER BY priority_score DESC, received_at DESC, email_id`)

	if err := a.db.SelectContext(ctx, &rows, query, userID, sessionID); err != nil {
		return nil, fmt.Errorf("failed to list classifications: %w", err)
	}

	records := make([]*domain.ClassificationRecord, len(rows))
	for i := range rows {
		records[i] = rows[i].toEntity()
	}
	return records, nil
}

// GetByEmail returns the latest record for an email, or ErrNotFound.
func (a *ClassificationRepository) GetByEmail(ctx context.Context, userID, emailID string) (*domain.ClassificationRecord, error) {
	var row classificationRow
	query := a.db.Rebind(`SELECT ` + classificationColumns + ` FROM triage_classifications
		WHERE user_id = ? AND email_id = ?`)

	if err := a.db.GetContext(ctx, &row, query, userID, emailID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get classification: %w", err)
	}
	return row.toEntity(), nil
}

func (a *ClassificationRepository) labelsValue(labels []string) (any, error) {
	if labels == nil {
		labels = []string{}
	}
	if a.dialect == DialectPostgres {
		return pq.Array(labels), nil
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// labelList scans either a postgres text[] literal or a JSON array.
type labelList []string

func (l *labelList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("labels: unsupported column type %T", src)
	}

	if len(raw) > 0 && raw[0] == '[' {
		return json.Unmarshal(raw, (*[]string)(l))
	}
	var arr pq.StringArray
	if err := arr.Scan(raw); err != nil {
		return err
	}
	*l = labelList(arr)
	return nil
}

var _ out.ClassificationRepository = (*ClassificationRepository)(nil)
