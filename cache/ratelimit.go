package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter allows at most a fixed number of events per key and window
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type windowCounter struct {
	count int
	start time.Time
}

// MemoryRateLimiter counts events per key; a counter resets once its window expired
type MemoryRateLimiter struct {
	limit    int
	window   time.Duration
	now      func() time.Time
	mu       sync.Mutex
	counters map[string]*windowCounter
}

// NewMemoryRateLimiter allows limit events per window for every key
func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		counters: make(map[string]*windowCounter),
	}
}

func (l *MemoryRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	counter, ok := l.counters[key]
	if !ok || now.Sub(counter.start) >= l.window {
		l.counters[key] = &windowCounter{count: 1, start: now}
		l.sweep(now)
		return true, nil
	}
	if counter.count >= l.limit {
		return false, nil
	}
	counter.count++
	return true, nil
}

// sweep drops expired counters so idle keys do not accumulate
func (l *MemoryRateLimiter) sweep(now time.Time) {
	for key, counter := range l.counters {
		if now.Sub(counter.start) >= l.window {
			delete(l.counters, key)
		}
	}
}

// RedisRateLimiter keeps the counters in Redis so every instance shares them
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewRedisRateLimiter allows limit events per window for every key
func NewRedisRateLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

// windowScript counts one event and starts the window when the key has no
// expiry, so a counter can never outlive its window.
var windowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := windowScript.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return count <= int64(l.limit), nil
}
