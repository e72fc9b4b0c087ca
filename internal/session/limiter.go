package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

type LimiterConfig struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
}

// RedisLimiter is a fixed window counter shared by every instance.
type RedisLimiter struct {
	config *LimiterConfig
	client redis.UniversalClient
}

func NewRedisLimiter(config *LimiterConfig, client redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{config: config, client: client}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window := time.Now().UnixNano() / int64(l.config.Window)
	counterKey := fmt.Sprintf("%sratelimit:%s:%d", l.config.KeyPrefix, key, window)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, counterKey)
		pipe.Expire(ctx, counterKey, l.config.Window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("rate counter: %w", err)
	}

	return incr.Val() <= int64(l.config.MaxRequests), nil
}

// MemoryLimiter is a per-process token bucket per key.
type MemoryLimiter struct {
	config   *LimiterConfig
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
}

func NewMemoryLimiter(config *LimiterConfig) *MemoryLimiter {
	return &MemoryLimiter{
		config:   config,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		every := l.config.Window / time.Duration(l.config.MaxRequests)
		limiter = rate.NewLimiter(rate.Every(every), l.config.MaxRequests)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow(), nil
}
