package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rhoffman0214/BobsComponents/internal/domain"
)

// RateLimiter allows or denies requests using a sliding-window count in Redis.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Limit() int
}

// SlidingWindowLimiter keeps one sorted set per key whose members are the
// admitted request timestamps.
type SlidingWindowLimiter struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// LimiterOption configures a SlidingWindowLimiter.
type LimiterOption func(*SlidingWindowLimiter)

func WithKeyPrefix(p string) LimiterOption                { return func(l *SlidingWindowLimiter) { l.prefix = p } }
func WithLimiterClock(now func() time.Time) LimiterOption { return func(l *SlidingWindowLimiter) { l.now = now } }

// NewRateLimiter returns a Redis-backed sliding-window rate limiter.
// limit is the maximum number of admitted requests per window for a key.
func NewRateLimiter(client redis.UniversalClient, limit int, window time.Duration, opts ...LimiterOption) *SlidingWindowLimiter {
	l := &SlidingWindowLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "ratelimit:actions:",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *SlidingWindowLimiter) Limit() int { return l.limit }

// Allow records the request and reports whether it is within the limit.
// Denied requests are removed again so they do not extend the lockout.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now().UnixNano()
	windowStart := now - l.window.Nanoseconds()
	rkey := l.prefix + key
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	pipe := l.client.TxPipeline()
	// Evict timestamps that fell outside the window.
	pipe.ZRemRangeByScore(ctx, rkey, "0", strconv.FormatInt(windowStart, 10))
	pipe.ZAdd(ctx, rkey, redis.Z{Score: float64(now), Member: member})
	countCmd := pipe.ZCard(ctx, rkey)
	// Keep the key alive for at least one more window.
	pipe.Expire(ctx, rkey, l.window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limiter pipeline for %q: %w", key, err)
	}

	if countCmd.Val() <= int64(l.limit) {
		return true, nil
	}
	if err := l.client.ZRem(ctx, rkey, member).Err(); err != nil {
		return false, fmt.Errorf("rate limiter rollback for %q: %w", key, err)
	}
	return false, nil
}

// Check is Allow expressed as an error: nil when allowed, a
// *domain.RateLimitExceededError when denied.
func Check(ctx context.Context, l RateLimiter, key string) error {
	ok, err := l.Allow(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return &domain.RateLimitExceededError{Key: key, Limit: l.Limit()}
	}
	return nil
}
