package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/httputil"
	"triage_server/pkg/resilience"
)

const (
	defaultMaxResults = 50
	maxFetchResults   = 500
	fetchConcurrency  = 10
	perMessageTimeout = 15 * time.Second
)

// GmailAdapter fetches inbox messages for triage.
type GmailAdapter struct {
	config   *oauth2.Config
	breaker  *resilience.Breaker
	endpoint string
	log      zerolog.Logger
}

// NewGmailAdapter creates a new Gmail adapter.
func NewGmailAdapter(config *oauth2.Config, log zerolog.Logger) *GmailAdapter {
	log = log.With().Str("component", "gmail").Logger()
	return &GmailAdapter{
		config:  config,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerConfig("gmail-api"), log),
		log:     log,
	}
}

func (a *GmailAdapter) getService(ctx context.Context, token *oauth2.Token) (*gmail.Service, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httputil.GoogleClient())
	opts := []option.ClientOption{option.WithHTTPClient(a.config.Client(ctx, token))}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}
	return gmail.NewService(ctx, opts...)
}

// FetchMessages lists the newest messages matching q and returns them
// parsed, newest first. Messages that fail to download or parse are
// skipped and logged.
func (a *GmailAdapter) FetchMessages(ctx context.Context, token *oauth2.Token, q out.MailQuery) ([]*domain.Email, error) {
	if token == nil {
		return nil, fmt.Errorf("gmail token is required")
	}
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	maxResults := q.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if maxResults > maxFetchResults {
		maxResults = maxFetchResults
	}

	req := svc.Users.Messages.List("me").MaxResults(int64(maxResults))
	if q.Query != "" {
		req = req.Q(q.Query)
	}
	if len(q.LabelIDs) > 0 {
		req = req.LabelIds(q.LabelIDs...)
	}

	var list *gmail.ListMessagesResponse
	err = a.breaker.Execute(func() error {
		var callErr error
		list, callErr = req.Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return a.fetchRaw(ctx, svc, list.Messages), nil
}

// fetchRaw downloads messages in RFC 5322 form with bounded concurrency,
// keeping list order.
func (a *GmailAdapter) fetchRaw(ctx context.Context, svc *gmail.Service, refs []*gmail.Message) []*domain.Email {
	emails := make([]*domain.Email, len(refs))

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(fetchConcurrency)

	for i, ref := range refs {
		g.Go(func() error {
			msgCtx, cancel := context.WithTimeout(ctx, perMessageTimeout)
			defer cancel()

			var msg *gmail.Message
			err := a.breaker.Execute(func() error {
				var callErr error
				msg, callErr = svc.Users.Messages.Get("me", ref.Id).Format("raw").Context(msgCtx).Do()
				return callErr
			})
			if err != nil {
				a.log.Warn().Err(err).Str("message_id", ref.Id).Msg("failed to fetch message")
				return nil
			}

			email, err := convertRawMessage(msg)
			if err != nil {
				a.log.Warn().Err(err).Str("message_id", ref.Id).Msg("failed to parse message")
				return nil
			}
			mu.Lock()
			emails[i] = email
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	fetched := emails[:0]
	for _, e := range emails {
		if e != nil {
			fetched = append(fetched, e)
		}
	}
	return fetched
}

// convertRawMessage merges Gmail metadata with the parsed MIME message.
func convertRawMessage(msg *gmail.Message) (*domain.Email, error) {
	raw, err := base64.URLEncoding.DecodeString(msg.Raw)
	if err != nil {
		if raw, err = base64.RawURLEncoding.DecodeString(msg.Raw); err != nil {
			return nil, fmt.Errorf("failed to decode raw message: %w", err)
		}
	}

	email, err := ParseRFC5322(raw)
	if err != nil {
		return nil, err
	}

	email.ID = msg.Id
	email.ThreadID = msg.ThreadId
	email.Labels = msg.LabelIds
	if msg.Snippet != "" {
		email.Snippet = msg.Snippet
	}
	email.IsRead = !email.HasLabel("UNREAD")
	email.IsImportant = email.HasLabel(domain.LabelImportant)
	if email.Date.IsZero() && msg.InternalDate > 0 {
		email.Date = time.UnixMilli(msg.InternalDate).UTC()
	}
	return email, nil
}

var _ out.MailProvider = (*GmailAdapter)(nil)
