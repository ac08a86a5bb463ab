package tracker

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// WindowClient is the slice of pkg/redis the shared stores need.
type WindowClient interface {
	SlidingWindowHit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error)
	SlidingWindowCount(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	WindowKey(scope, subject string) string
	LockoutKey(scope, subject string) string
}

// RedisStore shares sliding windows across instances via sorted sets.
type RedisStore struct {
	client WindowClient
}

func NewRedisStore(client WindowClient) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Hit(ctx context.Context, scope, subject string, window time.Duration, now time.Time) (int64, error) {
	return r.client.SlidingWindowHit(ctx, r.client.WindowKey(scope, subject), window, now)
}

func (r *RedisStore) Count(ctx context.Context, scope, subject string, window time.Duration, now time.Time) (int64, error) {
	return r.client.SlidingWindowCount(ctx, r.client.WindowKey(scope, subject), window, now)
}

func (r *RedisStore) Reset(ctx context.Context, scope, subject string) error {
	return r.client.Del(ctx, r.client.WindowKey(scope, subject))
}

// RedisLocks stores the lockout deadline (unix millis) under a key expiring with it.
type RedisLocks struct {
	client WindowClient
}

func NewRedisLocks(client WindowClient) *RedisLocks {
	return &RedisLocks{client: client}
}

func (r *RedisLocks) Lock(ctx context.Context, scope, subject string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.client.LockoutKey(scope, subject), strconv.FormatInt(until.UnixMilli(), 10), ttl)
}

func (r *RedisLocks) LockedUntil(ctx context.Context, scope, subject string, now time.Time) (time.Time, bool, error) {
	raw, err := r.client.Get(ctx, r.client.LockoutKey(scope, subject))
	if errors.Is(err, goredis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	until := time.UnixMilli(ms).UTC()
	if !until.After(now) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (r *RedisLocks) Clear(ctx context.Context, scope, subject string) error {
	return r.client.Del(ctx, r.client.LockoutKey(scope, subject))
}
