package persistence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schema = map[Dialect][]string{
	DialectPostgres: {
		`CREATE TABLE IF NOT EXISTS triage_classifications (
			user_id          TEXT NOT NULL,
			email_id         TEXT NOT NULL,
			thread_id        TEXT NOT NULL DEFAULT '',
			session_id       TEXT NOT NULL,
			subject          TEXT NOT NULL DEFAULT '',
			sender           TEXT NOT NULL DEFAULT '',
			urgency          SMALLINT NOT NULL,
			importance       SMALLINT NOT NULL,
			action_required  BOOLEAN NOT NULL,
			category         TEXT NOT NULL,
			confidence       DOUBLE PRECISION NOT NULL,
			reasoning        TEXT NOT NULL DEFAULT '',
			priority_score   DOUBLE PRECISION NOT NULL,
			is_high_priority BOOLEAN NOT NULL,
			labels           TEXT[] NOT NULL DEFAULT '{}',
			received_at      TIMESTAMPTZ NOT NULL,
			classified_at    TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, email_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_triage_classifications_session
			ON triage_classifications (user_id, session_id, priority_score DESC)`,
	},
	DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS triage_classifications (
			user_id          TEXT NOT NULL,
			email_id         TEXT NOT NULL,
			thread_id        TEXT NOT NULL DEFAULT '',
			session_id       TEXT NOT NULL,
			subject          TEXT NOT NULL DEFAULT '',
			sender           TEXT NOT NULL DEFAULT '',
			urgency          INTEGER NOT NULL,
			importance       INTEGER NOT NULL,
			action_required  BOOLEAN NOT NULL,
			category         TEXT NOT NULL,
			confidence       REAL NOT NULL,
			reasoning        TEXT NOT NULL DEFAULT '',
			priority_score   REAL NOT NULL,
			is_high_priority BOOLEAN NOT NULL,
			labels           TEXT NOT NULL DEFAULT '[]',
			received_at      DATETIME NOT NULL,
			classified_at    DATETIME NOT NULL,
			PRIMARY KEY (user_id, email_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_triage_classifications_session
			ON triage_classifications (user_id, session_id, priority_score DESC)`,
	},
}

// Migrate creates the tables the repositories need.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schema[DialectOf(db)] {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
