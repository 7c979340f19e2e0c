// Package cache keeps a short-lived copy of the signature list in Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"petition/api/internal/signature"
)

const defaultTTL = 30 * time.Second

// ErrMiss is returned when the list is not cached.
var ErrMiss = fmt.Errorf("signature list not cached")

// entry is the JSON document stored under the list key
type entry struct {
	Signatures []signature.Signature `json:"signatures"`
	CachedAt   time.Time             `json:"cached_at"`
}

// RedisStore caches the newest-first signature list under one key
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: "petition:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key() string {
	return s.prefix + "signatures"
}

// SaveSignatures stores the list with the store TTL
func (s *RedisStore) SaveSignatures(ctx context.Context, list []signature.Signature) error {
	if list == nil {
		list = []signature.Signature{}
	}
	data, err := json.Marshal(entry{Signatures: list, CachedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal signatures: %w", err)
	}
	if err := s.client.Set(ctx, s.key(), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save signatures: %w", err)
	}
	return nil
}

// LoadSignatures returns the cached list or ErrMiss
func (s *RedisStore) LoadSignatures(ctx context.Context) ([]signature.Signature, error) {
	raw, err := s.client.Get(ctx, s.key()).Result()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("load signatures: %w", err)
	}

	var cached entry
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return nil, fmt.Errorf("unmarshal signatures: %w", err)
	}
	return cached.Signatures, nil
}

// Invalidate drops the cached list
func (s *RedisStore) Invalidate(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("invalidate signatures: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
