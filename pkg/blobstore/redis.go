package blobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps payloads as Redis string values under a key prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an already connected client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Put stores data and returns a redis:// locator naming the key.
func (s *RedisStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, s.prefix+key, data, 0).Err(); err != nil {
		return "", fmt.Errorf("failed to store sample in redis: %w", err)
	}
	return "redis://" + s.prefix + key, nil
}

// Get returns the payload stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sample from redis: %w", err)
	}
	return data, nil
}

var _ Store = (*RedisStore)(nil)
