package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounterStore backs the gate with redis so multiple instances share one
// view of usage. INCR gives the atomic check-and-count; the key expires at
// the period boundary.
type RedisCounterStore struct {
	client *redis.Client
}

func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

func (s *RedisCounterStore) Increment(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	if s.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment quota counter: %w", err)
	}

	if count == 1 {
		if err := s.client.ExpireAt(ctx, key, expireAt).Err(); err != nil {
			return count, fmt.Errorf("failed to set quota expiry: %w", err)
		}
	}

	return count, nil
}

func (s *RedisCounterStore) Decrement(ctx context.Context, key string) (int64, error) {
	if s.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}

	count, err := s.client.Decr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to decrement quota counter: %w", err)
	}
	if count < 0 {
		// Clamp over-release at zero; the counter stays consistent for the
		// next period either way.
		if err := s.client.Incr(ctx, key).Err(); err != nil {
			return 0, fmt.Errorf("failed to clamp quota counter: %w", err)
		}
		return 0, nil
	}
	return count, nil
}
