// Package redis wraps go-redis with the namespaced keys and Lua scripts the
// trackers, idempotency replay and cron lock share.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/credits-backend/pkg/config"
	"github.com/angelmondragon/credits-backend/pkg/logger"
)

const keyNamespace = "cr"

// Key families under the namespace.
const (
	familyIdempotency = "idempotency"
	familyWindow      = "window"
	familyLockout     = "lockout"
	familyLock        = "lock"
)

// slidingWindowScript trims entries older than the window, optionally records
// one hit, and returns the remaining cardinality. Scores are unix millis.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if ARGV[4] == '1' then
  redis.call('ZADD', key, now, ARGV[3])
  redis.call('PEXPIRE', key, window)
end
return redis.call('ZCARD', key)
`

// compareAndDeleteScript deletes KEYS[1] only while it still holds ARGV[1].
const compareAndDeleteScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

type cmdable interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Client is the shared redis handle. The zero value and a nil pointer report
// errors instead of panicking.
type Client struct {
	cmd cmdable
	raw *redis.Client
}

// New dials redis from cfg and verifies the connection.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"addr": opts.Addr, "db": opts.DB}), "redis connection established")
	}
	return &Client{cmd: raw, raw: raw}, nil
}

// options prefers CREDITS_REDIS_URL; explicit pool and timeout settings fill
// whatever the URL leaves unset.
func options(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case strings.TrimSpace(cfg.URL) != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	case strings.TrimSpace(cfg.Address) != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}
	default:
		return nil, errors.New("redis url or address is required")
	}

	opts.ClientName = "credits-backend"
	if opts.DB == 0 {
		opts.DB = cfg.DB
	}
	fillInt(&opts.PoolSize, cfg.PoolSize)
	fillInt(&opts.MinIdleConns, cfg.MinIdleConns)
	fillDuration(&opts.DialTimeout, cfg.DialTimeout)
	fillDuration(&opts.ReadTimeout, cfg.ReadTimeout)
	fillDuration(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func fillInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

func fillDuration(dst *time.Duration, v time.Duration) {
	if *dst == 0 {
		*dst = v
	}
}

func (c *Client) conn() (cmdable, error) {
	if c == nil || c.cmd == nil {
		return nil, errors.New("redis client not initialized")
	}
	return c.cmd, nil
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	cmd, err := c.conn()
	if err != nil {
		return "", err
	}
	return cmd.Get(ctx, key).Result()
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	cmd, err := c.conn()
	if err != nil {
		return err
	}
	return cmd.Set(ctx, key, value, ttl).Err()
}

func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	cmd, err := c.conn()
	if err != nil {
		return false, err
	}
	return cmd.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	cmd, err := c.conn()
	if err != nil {
		return err
	}
	return cmd.Del(ctx, keys...).Err()
}

// CompareAndDelete removes key only if it still holds expected, atomically.
func (c *Client) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	cmd, err := c.conn()
	if err != nil {
		return false, err
	}
	n, err := cmd.Eval(ctx, compareAndDeleteScript, []string{key}, expected).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SlidingWindowHit records one occurrence at now and returns the count inside (now-window, now].
func (c *Client) SlidingWindowHit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	return c.slidingWindow(ctx, key, window, now, true)
}

// SlidingWindowCount returns the count inside (now-window, now] without recording.
func (c *Client) SlidingWindowCount(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	return c.slidingWindow(ctx, key, window, now, false)
}

func (c *Client) slidingWindow(ctx context.Context, key string, window time.Duration, now time.Time, record bool) (int64, error) {
	cmd, err := c.conn()
	if err != nil {
		return 0, err
	}
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}
	flag := "0"
	if record {
		flag = "1"
	}
	nowMS := now.UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMS, uuid.NewString())
	return cmd.Eval(ctx, slidingWindowScript, []string{key}, nowMS, window.Milliseconds(), member, flag).Int64()
}

func (c *Client) Ping(ctx context.Context) error {
	cmd, err := c.conn()
	if err != nil {
		return err
	}
	return cmd.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

// IdempotencyKey namespaces a stored response.
func (c *Client) IdempotencyKey(scope, id string) string {
	return key(familyIdempotency, scope, id)
}

// WindowKey namespaces a sliding-window sorted set.
func (c *Client) WindowKey(scope, subject string) string {
	return key(familyWindow, scope, subject)
}

// LockoutKey namespaces a lockout deadline.
func (c *Client) LockoutKey(scope, subject string) string {
	return key(familyLockout, scope, subject)
}

// LockKey namespaces a distributed mutex.
func (c *Client) LockKey(name string) string {
	return key(familyLock, name)
}

func key(parts ...string) string {
	out := make([]string, 0, len(parts)+1)
	out = append(out, keyNamespace)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, ":")
}
