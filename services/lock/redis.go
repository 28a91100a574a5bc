package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gabrrrielll/real-estate-scraper/pkg/errors"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock taken over by another run is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a Locker shared by every process using the same Redis key.
// The TTL bounds how long a crashed run blocks the next one.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

var _ Locker = (*RedisLock)(nil)

// NewRedisLock creates a lock on key
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{client: client, key: key, ttl: ttl}
}

func (l *RedisLock) Acquire(ctx context.Context) (Release, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, errors.NewCache(l.key, "failed to acquire run lock", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return errors.NewCache(l.key, "failed to release run lock", err)
		}
		return nil
	}, nil
}

func (l *RedisLock) Held(ctx context.Context) (bool, error) {
	n, err := l.client.Exists(ctx, l.key).Result()
	if err != nil {
		return false, errors.NewCache(l.key, "failed to read run lock", err)
	}
	return n > 0, nil
}
