// Package scratch implements the Scratch Store: a thin flat-key Redis
// cache used by the Authorization Gate for fast, non-durable lookups that
// don't belong in the Session Store (active-share hints, the redis-pps
// transaction policy set).
package scratch

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore wraps a Redis connection for flat key/value scratch data.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials addr, picking up an optional password from
// REDIS_PASSWORD exactly as the rest of this codebase's Redis clients do.
func NewRedisStore(addr string) (*RedisStore, error) {
	password := os.Getenv("REDIS_PASSWORD")

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromEnv dials the endpoint named in ELASTICACHE_URL, the
// environment variable this service uses in place of the more generic
// REDIS_URL.
func NewRedisStoreFromEnv() (*RedisStore, error) {
	addr := os.Getenv("ELASTICACHE_URL")
	if addr == "" {
		addr = "localhost:6379"
	}
	return NewRedisStore(addr)
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Set writes key/value with an optional TTL (0 disables expiry).
func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Get reads key, returning ok=false (no error) when the key is absent.
func (r *RedisStore) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Del removes key.
func (r *RedisStore) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// IsMember reports whether value is present in the redis-pps set for
// customerID, the pre-provisioned policy set the Authorization Gate
// consults for per-message transaction authorization.
func (r *RedisStore) IsMember(ctx context.Context, setKey, value string) (bool, error) {
	return r.client.SIsMember(ctx, setKey, value).Result()
}
