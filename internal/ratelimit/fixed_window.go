package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// FixedWindowLimiter limits requests per key in a fixed time window.
// Counters live in Redis so every instance shares the same quota.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration

	redisClient redis.UniversalClient
	redisPrefix string
}

// NewRedisFixedWindowLimiter creates a Redis-backed distributed limiter with its own client.
func NewRedisFixedWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	return NewFixedWindowLimiter(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	}), prefix, limit, window)
}

// NewFixedWindowLimiter creates a limiter on an existing Redis client.
func NewFixedWindowLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	if client == nil {
		return nil, errors.New("rate limiter redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "busconnect:ratelimit"
	}
	return &FixedWindowLimiter{
		limit:       limit,
		window:      window,
		redisClient: client,
		redisPrefix: prefix,
	}, nil
}

// Allow returns true when the key is within quota.
// On Redis failures, it fails closed and returns false.
func (l *FixedWindowLimiter) Allow(key string) bool {
	ok, _ := l.AllowContext(context.Background(), key)
	return ok
}

// AllowContext is Allow with a caller context. When the key is over quota it also
// returns the time left until the current window resets.
func (l *FixedWindowLimiter) AllowContext(ctx context.Context, key string) (bool, time.Duration) {
	if l == nil {
		return false, 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	if windowMs <= 0 {
		return true, 0
	}
	now := time.Now().UTC().UnixMilli()
	windowSlot := now / windowMs
	retryAfter := time.Duration(windowMs-now%windowMs) * time.Millisecond
	redisKey := fmt.Sprintf("%s:%s:%d", l.redisPrefix, key, windowSlot)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	res, err := fixedWindowScript.Run(ctx, l.redisClient, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return false, l.window
	}
	if res > int64(l.limit) {
		return false, retryAfter
	}
	return true, 0
}
