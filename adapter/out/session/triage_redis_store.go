package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/cache"
)

const (
	sessionKeyPrefix = "triage:session:"
	// ProgressChannelPrefix is followed by the session id.
	ProgressChannelPrefix = "triage:progress:"
	DefaultSessionTTL     = 24 * time.Hour
)

// RedisStore keeps sessions as JSON values with a TTL, so finished sessions
// expire without a sweeper.
type RedisStore struct {
	cache *cache.RedisCache
	ttl   time.Duration
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisStore{cache: cache.NewRedisCache(client, sessionKeyPrefix), ttl: ttl}
}

func (s *RedisStore) Create(ctx context.Context, session *domain.ProgressSession) error {
	ok, err := s.cache.SetJSONNX(ctx, session.SessionID, session, s.ttl)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if !ok {
		return out.ErrSessionExists
	}
	return nil
}

func (s *RedisStore) Save(ctx context.Context, session *domain.ProgressSession) error {
	err := s.cache.UpdateJSON(ctx, session.SessionID, s.ttl, func(raw []byte) (any, error) {
		if raw == nil {
			return nil, out.ErrSessionNotFound
		}
		var current domain.ProgressSession
		if err := json.Unmarshal(raw, &current); err != nil {
			return nil, fmt.Errorf("corrupt session record: %w", err)
		}
		if err := checkProgression(&current, session); err != nil {
			return nil, err
		}
		return session, nil
	})
	if errors.Is(err, out.ErrSessionNotFound) || errors.Is(err, out.ErrStaleProgress) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*domain.ProgressSession, error) {
	var session domain.ProgressSession
	found, err := s.cache.GetJSON(ctx, sessionID, &session)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !found {
		return nil, out.ErrSessionNotFound
	}
	return &session, nil
}

// DeleteFinishedBefore is a no-op: keys expire on their own.
func (s *RedisStore) DeleteFinishedBefore(context.Context, time.Time) (int, error) {
	return 0, nil
}

var _ out.ProgressStore = (*RedisStore)(nil)

// RedisNotifier publishes session snapshots so API processes can fan them
// out to their SSE clients.
type RedisNotifier struct {
	client redis.UniversalClient
}

func NewRedisNotifier(client redis.UniversalClient) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Notify(ctx context.Context, session *domain.ProgressSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, ProgressChannelPrefix+session.SessionID, data).Err()
}

var _ out.ProgressNotifier = (*RedisNotifier)(nil)

// Relay subscribes to every progress channel and forwards decoded sessions
// to a local notifier until ctx ends.
func Relay(ctx context.Context, client redis.UniversalClient, local out.ProgressNotifier, log zerolog.Logger) error {
	pubsub := client.PSubscribe(ctx, ProgressChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to progress: %w", err)
	}
	log.Info().Str("pattern", ProgressChannelPrefix+"*").Msg("progress relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var session domain.ProgressSession
			if err := json.Unmarshal([]byte(msg.Payload), &session); err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed progress message")
				continue
			}
			if err := local.Notify(ctx, &session); err != nil {
				log.Debug().Err(err).Str("session_id", session.SessionID).Msg("local notify failed")
			}
		}
	}
}

// MultiNotifier sends to every notifier and returns the first error.
type MultiNotifier []out.ProgressNotifier

func (m MultiNotifier) Notify(ctx context.Context, session *domain.ProgressSession) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, session); err != nil && first == nil {
			first = err
		}
	}
	return first
}
