package out

import (
	"context"

	"golang.org/x/oauth2"

	"triage_server/core/domain"
)

// MailQuery selects messages from the provider.
type MailQuery struct {
	Query      string // provider search syntax
	LabelIDs   []string
	MaxResults int
}

// MailProvider supplies emails. Read-only.
type MailProvider interface {
	FetchMessages(ctx context.Context, token *oauth2.Token, q MailQuery) ([]*domain.Email, error)
}
