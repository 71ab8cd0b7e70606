package rulecache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrMiss is returned by RemoteCache.Get when the key isn't present. It
// is never a failure the caller must act on — a miss just means "load from
// source" — but it must be distinguishable from a genuine connection error
// so callers can log the difference.
var ErrMiss = errors.New("rulecache: remote miss")

// RemoteCache is the tier-2 cache backing interface. It exists so unit
// tests can fake the remote tier without a real Redis instance, and so the
// remote tier can be wired to nothing at all (disabled) without special
// casing the rest of the cache.
type RemoteCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// RedisRemoteCache adapts a go-redis client to RemoteCache.
type RedisRemoteCache struct {
	Client *redis.Client
}

func (r *RedisRemoteCache) Get(ctx context.Context, key string) (string, error) {
	v, err := r.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return v, err
}

func (r *RedisRemoteCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.Client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisRemoteCache) Del(ctx context.Context, keys ...string) error {
	return r.Client.Del(ctx, keys...).Err()
}
