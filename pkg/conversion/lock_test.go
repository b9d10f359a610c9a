package conversion

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client, "test:lock"), mr
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "org-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:org-1"))
	assert.Equal(t, time.Minute, mr.TTL("test:lock:org-1"))

	_, err = locker.Acquire(ctx, "org-1", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	// other keys are independent
	other, err := locker.Acquire(ctx, "org-2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("test:lock:org-1"))

	again, err := locker.Acquire(ctx, "org-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestRedisLocker_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "org-1", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	current, err := locker.Acquire(ctx, "org-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	assert.True(t, mr.Exists("test:lock:org-1"), "stale release must not drop the new holder's lock")

	require.NoError(t, current(ctx))
	assert.False(t, mr.Exists("test:lock:org-1"))
}

func TestRedisLocker_RedisUnavailable(t *testing.T) {
	locker, mr := newRedisLocker(t)
	mr.Close()

	_, err := locker.Acquire(context.Background(), "org-1", time.Minute)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocked)
}

func TestMemoryLocker(t *testing.T) {
	locker := NewMemoryLocker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "org-1", time.Second)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "org-1", time.Second)
	assert.ErrorIs(t, err, ErrLocked)

	now = now.Add(2 * time.Second)
	current, err := locker.Acquire(ctx, "org-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	_, err = locker.Acquire(ctx, "org-1", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, current(ctx))
	release, err := locker.Acquire(ctx, "org-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}
