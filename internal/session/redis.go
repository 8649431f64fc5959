package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/askdoc/askdoc/internal/cache"
)

const keyPrefix = "askdoc:session:"

// RedisStore keeps sessions in Redis so they survive restarts and are
// shared by the API and worker processes.
type RedisStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

func NewRedisStore(c *cache.Cache, ttl time.Duration) *RedisStore {
	return &RedisStore{cache: c, ttl: ttl}
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	var s Session
	err := r.cache.Get(ctx, keyPrefix+id, &s)
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return &s, nil
}

func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	if err := r.cache.Set(ctx, keyPrefix+s.ID, s, r.ttl); err != nil {
		return fmt.Errorf("store session %s: %w", s.ID, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return r.cache.Delete(ctx, keyPrefix+id)
}

func (r *RedisStore) Reset(ctx context.Context) error {
	if _, err := r.cache.DeleteByPrefix(ctx, keyPrefix); err != nil {
		return fmt.Errorf("reset sessions: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error { return nil }
