package out

import (
	"context"

	"triage_server/core/domain"
)

// BatchJob is the detached work of one submission.
type BatchJob struct {
	SessionID   string                 `json:"session_id"`
	UserID      string                 `json:"user_id"`
	Emails      []*domain.Email        `json:"emails"`
	Preferences domain.UserPreferences `json:"preferences"`
}

// BatchLauncher hands a job to whatever runs it, either an in-process pool
// or a stream consumed by worker processes.
type BatchLauncher interface {
	Launch(ctx context.Context, job *BatchJob) error
}
