package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultQueryTimeout = 2 * time.Second

// Redis is a Collection backed by a single Redis hash.
//
// Unlike a cache, a collection is the source of truth: every error is
// returned to the caller wrapped in ErrUnavailable so the gateway can answer
// 503 instead of pretending a record does not exist.
type Redis struct {
	client       *redis.Client
	key          string
	queryTimeout time.Duration
}

// NewRedis wraps an existing client. The caller owns the client lifecycle.
// key is the name of the hash, e.g. "models" or "tokens".
func NewRedis(client *redis.Client, key string) *Redis {
	return &Redis{client: client, key: key, queryTimeout: defaultQueryTimeout}
}

// Key returns the hash name this collection reads and writes.
func (r *Redis) Key() string { return r.key }

func (r *Redis) GetAll(ctx context.Context) (map[string][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: HGETALL %s: %v", ErrUnavailable, r.key, err)
	}

	out := make(map[string][]byte, len(fields))
	for id, v := range fields {
		out[id] = []byte(v)
	}
	return out, nil
}

func (r *Redis) Get(ctx context.Context, id string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	val, err := r.client.HGet(ctx, r.key, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: HGET %s: %v", ErrUnavailable, r.key, err)
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, id string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	if err := r.client.HSet(ctx, r.key, id, value).Err(); err != nil {
		return fmt.Errorf("%w: HSET %s: %v", ErrUnavailable, r.key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	if err := r.client.HDel(ctx, r.key, id).Err(); err != nil {
		return fmt.Errorf("%w: HDEL %s: %v", ErrUnavailable, r.key, err)
	}
	return nil
}

// Ping verifies the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
