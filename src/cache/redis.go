package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "credpool:unusable:"

// RedisStore is a Redis-backed exhaustion cache, shared across instances.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed exhaustion cache.
func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// IsMarkedUnusable reports whether the fingerprint has an unexpired mark.
func (s *RedisStore) IsMarkedUnusable(ctx context.Context, fingerprint string) (bool, error) {
	n, err := s.client.Exists(ctx, keyPrefix+fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("exhaustion cache: exists: %w", err)
	}
	return n > 0, nil
}

// MarkUnusable records the fingerprint as unusable for ttl.
func (s *RedisStore) MarkUnusable(ctx context.Context, fingerprint string, ttl time.Duration) error {
	if err := s.client.Set(ctx, keyPrefix+fingerprint, "1", ttl).Err(); err != nil {
		return fmt.Errorf("exhaustion cache: set: %w", err)
	}
	return nil
}

// ClearAll deletes every mark under the cache prefix.
func (s *RedisStore) ClearAll(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		// Delete in batches so a large pool doesn't build one huge command
		if len(keys) >= 100 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("exhaustion cache: del: %w", err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("exhaustion cache: scan: %w", err)
	}
	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("exhaustion cache: del: %w", err)
		}
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
