package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFixedWindowLimiterRedis(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 2, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	if !limiter.Allow("ip-1") {
		t.Fatalf("first request should pass")
	}
	if !limiter.Allow("ip-1") {
		t.Fatalf("second request should pass")
	}
	if limiter.Allow("ip-1") {
		t.Fatalf("third request should be blocked")
	}
	if !limiter.Allow("ip-2") {
		t.Fatalf("other keys keep their own quota")
	}
}

func TestFixedWindowLimiterReportsRetryAfter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := NewFixedWindowLimiter(client, "test:ratelimit", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	if ok, _ := limiter.AllowContext(context.Background(), "login|ip-1"); !ok {
		t.Fatalf("first request should pass")
	}
	ok, retry := limiter.AllowContext(context.Background(), "login|ip-1")
	if ok {
		t.Fatalf("second request should be blocked")
	}
	if retry <= 0 || retry > time.Minute {
		t.Fatalf("unexpected retry after: %v", retry)
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	redis.Close()
	if limiter.Allow("ip-1") {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterRequiresRedisAddr(t *testing.T) {
	limiter, err := NewRedisFixedWindowLimiter("", "", "test:ratelimit", 1, time.Second)
	if err == nil || limiter != nil {
		t.Fatalf("expected constructor error for empty redis addr")
	}
}

func TestFixedWindowLimiterRejectsNonPositiveLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	if _, err := NewFixedWindowLimiter(client, "", 0, time.Second); err == nil {
		t.Fatalf("expected error for zero limit")
	}
}
