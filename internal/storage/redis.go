package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisKV keeps the snapshot under a single namespaced Redis key. SET is an
// atomic replace, which is exactly the adapter's write contract.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV connects and pings the server before returning.
func NewRedisKV(ctx context.Context, addr, password string, db int) (*RedisKV, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisKV{client: client}, nil
}

func (r *RedisKV) Load(ctx context.Context) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, StorageKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, true, nil
}

func (r *RedisKV) Store(ctx context.Context, data []byte) error {
	if err := r.client.Set(ctx, StorageKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Close releases the client connection pool.
func (r *RedisKV) Close() error {
	return r.client.Close()
}
