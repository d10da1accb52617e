package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// ErrNotObtained is returned when the lock is held by someone else
var ErrNotObtained = errors.New("lock not obtained")

// ReleaseFunc releases an obtained lock
type ReleaseFunc func(ctx context.Context) error

// Locker obtains short lived exclusive locks by key
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error)
}

// MemoryLocker is a process local Locker
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewMemoryLocker creates a process local Locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time), now: time.Now}
}

func (l *MemoryLocker) Obtain(_ context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiresAt, ok := l.held[key]; ok && now.Before(expiresAt) {
		return nil, ErrNotObtained
	}
	expiresAt := now.Add(ttl)
	l.held[key] = expiresAt

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(expiresAt) {
			delete(l.held, key)
		}
		return nil
	}, nil
}

// RedisLocker obtains locks through redislock
type RedisLocker struct {
	client *redislock.Client
	prefix string
}

// NewRedisLocker wraps a redislock client
func NewRedisLocker(client *redislock.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	lock, err := l.client.Obtain(ctx, l.prefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}
