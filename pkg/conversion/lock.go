package conversion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLocked is returned when another holder owns the lock
var ErrLocked = errors.New("lock is held by another conversion")

// ReleaseFunc gives a lock back. Releasing a lock that expired and was
// taken by someone else is a no-op.
type ReleaseFunc func(ctx context.Context) error

// Locker hands out short-lived exclusive locks keyed by name
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error)
}

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX, so it holds across
// service instances
type RedisLocker struct {
	redis  *redis.Client
	prefix string
}

// NewRedisLocker creates a RedisLocker. Keys are stored as "<prefix>:<key>".
func NewRedisLocker(redisClient *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "leadflow:lock"
	}
	return &RedisLocker{redis: redisClient, prefix: prefix}
}

// Acquire takes the lock for ttl or returns ErrLocked
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	fullKey := fmt.Sprintf("%s:%s", l.prefix, key)
	token := uuid.New().String()

	ok, err := l.redis.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.redis, []string{fullKey}, token).Err(); err != nil {
			return fmt.Errorf("failed to release lock: %w", err)
		}
		return nil
	}, nil
}

type memoryLock struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker implements Locker within one process
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	now   func() time.Time
}

// NewMemoryLocker creates a MemoryLocker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]memoryLock),
		now:   time.Now,
	}
}

// Acquire takes the lock for ttl or returns ErrLocked
func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.locks[key]; ok && now.Before(held.expiresAt) {
		return nil, ErrLocked
	}

	token := uuid.New().String()
	l.locks[key] = memoryLock{token: token, expiresAt: now.Add(ttl)}

	return func(ctx context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.locks[key]; ok && held.token == token {
			delete(l.locks, key)
		}
		return nil
	}, nil
}
