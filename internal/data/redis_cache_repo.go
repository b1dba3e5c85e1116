package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCacheRepo implements the CacheRepository interface using Redis.
type RedisCacheRepo struct {
	client redis.UniversalClient
}

// NewRedisCacheRepo creates a new RedisCacheRepo with the given Redis client.
func NewRedisCacheRepo(client redis.UniversalClient) *RedisCacheRepo {
	return &RedisCacheRepo{client: client}
}

// Set stores a value in Redis with the given key and TTL.
func (r *RedisCacheRepo) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	return r.client.Set(ctx, key, value, ttl).Err()
}

// Get retrieves a value from Redis by key.
func (r *RedisCacheRepo) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("key cannot be empty")
	}

	result, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Key doesn't exist
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	return []byte(result), nil
}

// Delete removes a key from Redis.
func (r *RedisCacheRepo) Delete(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}

	result, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis del: %w", err)
	}

	return result > 0, nil
}

// Exists checks if a key exists in Redis.
func (r *RedisCacheRepo) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}

	result, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}

	return result > 0, nil
}

// SetIfNotExists atomically sets a key only if it doesn't already exist.
func (r *RedisCacheRepo) SetIfNotExists(
	ctx context.Context,
	key string,
	value []byte,
	ttl time.Duration,
) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}

	actualTTL := ttl
	if ttl <= 0 {
		actualTTL = time.Second
	}

	// SETNX with a separate EXPIRE is not atomic; SET with NX + TTL is.
	cmd := r.client.SetArgs(ctx, key, value, redis.SetArgs{Mode: "NX", TTL: actualTTL})
	status, err := cmd.Result()
	if err != nil {
		// When the NX condition is not met Redis returns a nil reply, which
		// go-redis surfaces as redis.Nil. Treat it as "was not set".
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis SET NX: %w", err)
	}

	return status == "OK", nil
}

// Health checks the health of the Redis connection.
func (r *RedisCacheRepo) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
