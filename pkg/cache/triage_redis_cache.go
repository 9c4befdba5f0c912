// Package cache is a thin JSON layer over go-redis.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// ErrCASConflict is returned when a watched key changed during Update.
var ErrCASConflict = errors.New("cache: concurrent update")

// RedisCache stores JSON values under plain keys.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache creates a cache whose keys all start with prefix.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Key returns the full key for id.
func (c *RedisCache) Key(id string) string {
	return c.prefix + id
}

// Client exposes the underlying client for pub/sub and streams.
func (c *RedisCache) Client() redis.UniversalClient {
	return c.client
}

// GetJSON decodes the value at id into dest. found is false when the key
// does not exist.
func (c *RedisCache) GetJSON(ctx context.Context, id string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, c.Key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON stores value at id.
func (c *RedisCache) SetJSON(ctx context.Context, id string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.Key(id), data, ttl).Err()
}

// SetJSONNX stores value only when id is absent. It reports whether the
// value was written.
func (c *RedisCache) SetJSONNX(ctx context.Context, id string, value any, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	return c.client.SetNX(ctx, c.Key(id), data, ttl).Result()
}

// UpdateJSON runs a check-and-set on id. fn receives the raw current value
// (nil when absent) and returns the value to write, or an error to abort.
func (c *RedisCache) UpdateJSON(ctx context.Context, id string, ttl time.Duration, fn func(current []byte) (any, error)) error {
	key := c.Key(id)
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrCASConflict
	}
	return err
}

// Delete removes id.
func (c *RedisCache) Delete(ctx context.Context, id string) error {
	return c.client.Del(ctx, c.Key(id)).Err()
}

// TTL returns the remaining lifetime of id.
func (c *RedisCache) TTL(ctx context.Context, id string) (time.Duration, error) {
	return c.client.TTL(ctx, c.Key(id)).Result()
}
