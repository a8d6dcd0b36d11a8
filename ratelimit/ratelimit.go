// Package ratelimit implements a distributed fixed-window rate limiter on
// Redis. The counter increment, TTL arm, and limit check run as one atomic
// server-side Lua script.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// rateLimitScript increments the window counter for KEYS[1], arms the TTL on
// the first hit, and returns 1 while the count is within ARGV[1].
var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])

if current == 1 then
    redis.call("EXPIRE", KEYS[1], ARGV[2])
end

if current > tonumber(ARGV[1]) then
    return 0
end

return 1
`)

// Limiter is a per-key fixed-window rate limiter. Any Redis failure admits
// the request (fail-open): the limiter guards a best-effort receiver, so
// availability wins over strict enforcement.
type Limiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// Connect opens a Redis client for the limiter and verifies it with a ping.
func Connect(ctx context.Context, redisURL string, limit int, window time.Duration) (*Limiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return New(client, limit, window), nil
}

// New wraps an existing Redis client.
func New(client *redis.Client, limit int, window time.Duration) *Limiter {
	return &Limiter{client: client, limit: limit, window: window}
}

func (l *Limiter) Close() error {
	return l.client.Close()
}

// Allow reports whether one more request for ip fits inside the current
// window.
func (l *Limiter) Allow(ctx context.Context, ip string) bool {
	key := "rate_limit:" + ip
	windowSecs := int(l.window / time.Second)

	allowed, err := rateLimitScript.Run(ctx, l.client, []string{key}, l.limit, windowSecs).Int()
	if err != nil {
		slog.Error("Rate limiter store error, admitting request", "ip", ip, "error", err)
		return true
	}
	return allowed == 1
}
