// Package ratelimit implements the fixed-window request limiter used in
// front of the public demo API.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited is returned when a key has exhausted its window budget.
var ErrRateLimited = errors.New("rate_limited")

// Limiter counts requests per key in Redis with an INCR + EXPIRE window.
// A nil client disables limiting entirely.
type Limiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// New builds a limiter from a Redis URL. An empty URL disables limiting.
func New(redisURL string, limit int64, window time.Duration) (*Limiter, error) {
	l := &Limiter{limit: limit, window: window}
	if redisURL == "" {
		return l, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.MaxRetries = 2
	l.client = redis.NewClient(opts)
	return l, nil
}

// Allow consumes one request for key. It returns ErrRateLimited on breach
// and fails open on Redis errors so an unavailable Redis never breaks the
// demo.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	if l.client == nil {
		return nil
	}

	redisKey := "rl:" + key
	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil
	}
	if count.Val() > l.limit {
		return ErrRateLimited
	}
	return nil
}

// Close releases the Redis connection.
func (l *Limiter) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}
