package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores each session as one Redis hash whose TTL is refreshed
// on every write.
type RedisBackend struct {
	Client *redis.Client
	TTL    time.Duration
}

// NewRedisBackend wraps an initialized client.
func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{Client: client, TTL: ttl}
}

// HashKey returns the Redis key holding a session's values.
func HashKey(sessionID string) string {
	return fmt.Sprintf("coreg:session:%s", sessionID)
}

// Open returns the store for sessionID.
func (b *RedisBackend) Open(sessionID string) Store {
	return &redisStore{backend: b, id: sessionID, key: HashKey(sessionID)}
}

// Exists reports whether the session hash is present.
func (b *RedisBackend) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := b.Client.Exists(ctx, HashKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", sessionID, err)
	}
	return n > 0, nil
}

type redisStore struct {
	backend *RedisBackend
	id      string
	key     string
}

func (s *redisStore) ID() string { return s.id }

func (s *redisStore) touch(ctx context.Context) {
	if s.backend.TTL > 0 {
		s.backend.Client.Expire(ctx, s.key, s.backend.TTL)
	}
}

func (s *redisStore) Get(ctx context.Context, field string) (string, bool, error) {
	v, err := s.backend.Client.HGet(ctx, s.key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("hget %s: %w", field, err)
	}
	return v, true, nil
}

func (s *redisStore) Set(ctx context.Context, field, value string) error {
	if err := s.backend.Client.HSet(ctx, s.key, field, value).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", field, err)
	}
	s.touch(ctx)
	return nil
}

func (s *redisStore) SetNX(ctx context.Context, field, value string) (bool, error) {
	ok, err := s.backend.Client.HSetNX(ctx, s.key, field, value).Result()
	if err != nil {
		return false, fmt.Errorf("hsetnx %s: %w", field, err)
	}
	s.touch(ctx)
	return ok, nil
}

func (s *redisStore) Delete(ctx context.Context, field string) error {
	if err := s.backend.Client.HDel(ctx, s.key, field).Err(); err != nil {
		return fmt.Errorf("hdel %s: %w", field, err)
	}
	return nil
}

func (s *redisStore) All(ctx context.Context) (map[string]string, error) {
	vals, err := s.backend.Client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	return vals, nil
}
