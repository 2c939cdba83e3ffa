// Package ratelimit caps requests per client per minute.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Window is the fixed window the per-minute limit applies to.
const Window = time.Minute

// Limiter decides whether key may make another request.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter counts requests in a fixed one-minute window shared by every
// server process.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, perMinute int) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  perMinute,
		prefix: "ratelimit",
		now:    time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window := l.now().Truncate(Window).Unix()
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, window)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}

	return incr.Val() <= int64(l.limit), nil
}

// idleTTL is how long an unused bucket is kept. A full bucket refills within
// one Window, so dropping it after that loses no state.
const idleTTL = 2 * Window

// MemoryLimiter keeps one token bucket per key in process. It is used when
// no Redis is configured.
type MemoryLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*memoryEntry
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

type memoryEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMemoryLimiter(perMinute int) *MemoryLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &MemoryLimiter{
		limiters: make(map[string]*memoryEntry),
		limit:    rate.Every(Window / time.Duration(perMinute)),
		burst:    perMinute,
		now:      time.Now,
	}
}

func (l *MemoryLimiter) getLimiter(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= Window {
		l.evictIdle(now)
		l.lastSweep = now
	}

	entry, exists := l.limiters[key]
	if !exists {
		entry = &memoryEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// evictIdle drops buckets untouched for idleTTL. Caller holds mu.
func (l *MemoryLimiter) evictIdle(now time.Time) {
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) >= idleTTL {
			delete(l.limiters, key)
		}
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	return l.getLimiter(key, now).AllowN(now, 1), nil
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// FailOpen lets requests through when the wrapped limiter errors, so a Redis
// outage degrades rate limiting instead of the whole API.
type FailOpen struct {
	next   Limiter
	logger *zap.Logger
}

func NewFailOpen(next Limiter, logger *zap.Logger) *FailOpen {
	return &FailOpen{next: next, logger: logger.Named("ratelimit")}
}

func (f *FailOpen) Allow(ctx context.Context, key string) (bool, error) {
	ok, err := f.next.Allow(ctx, key)
	if err != nil {
		f.logger.Warn("limiter unavailable, allowing request", zap.Error(err))
		return true, nil
	}
	return ok, nil
}
