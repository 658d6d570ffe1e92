package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func attemptKey(carrierRef string) string {
	return "attempt:" + carrierRef
}

func (c *RedisCache) StoreAttempt(ctx context.Context, carrierRef string, ref AttemptRef) error {
	ref.PlacedAt = ref.PlacedAt.UTC()

	b, err := json.Marshal(ref)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, attemptKey(carrierRef), b, c.ttl).Err()
}

func (c *RedisCache) LoadAttempt(ctx context.Context, carrierRef string) (*AttemptRef, error) {
	raw, err := c.rdb.Get(ctx, attemptKey(carrierRef)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}

	var ref AttemptRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}
