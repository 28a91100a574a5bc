package lock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseLocker(t *testing.T, l Locker) {
	ctx := context.Background()

	held, err := l.Held(ctx)
	require.NoError(t, err)
	assert.False(t, held)

	release, err := l.Acquire(ctx)
	require.NoError(t, err)

	held, err = l.Held(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	_, err = l.Acquire(ctx)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, release(ctx))
	held, err = l.Held(ctx)
	require.NoError(t, err)
	assert.False(t, held)

	release, err = l.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestMemoryLock(t *testing.T) {
	exerciseLocker(t, NewMemoryLock())
}

func TestMemoryLockReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLock()
	release, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, release(ctx))

	other, err := l.Acquire(ctx)
	require.NoError(t, err)
	// a second call of the first release must not free the new holder
	require.NoError(t, release(ctx))
	held, _ := l.Held(ctx)
	assert.True(t, held)
	require.NoError(t, other(ctx))
}

func redisClient(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		t.Skip("Redis is not available, skipping test")
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLock(t *testing.T) {
	client := redisClient(t)
	key := "test:scraper:run-lock"
	client.Del(context.Background(), key)
	t.Cleanup(func() { client.Del(context.Background(), key) })

	exerciseLocker(t, NewRedisLock(client, key, time.Minute))
}

func TestRedisLockReleaseKeepsForeignToken(t *testing.T) {
	ctx := context.Background()
	client := redisClient(t)
	key := "test:scraper:run-lock-foreign"
	client.Del(ctx, key)
	t.Cleanup(func() { client.Del(ctx, key) })

	l := NewRedisLock(client, key, time.Minute)
	release, err := l.Acquire(ctx)
	require.NoError(t, err)

	// simulate expiry and takeover by another run
	require.NoError(t, client.Set(ctx, key, "someone-else", time.Minute).Err())
	require.NoError(t, release(ctx))

	val, err := client.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}
