package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New creates a new Redis client and verifies connectivity.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}

// Locker hands out short-lived exclusive locks backed by SET NX.
type Locker struct {
	client redis.Cmdable
}

// NewLocker wraps a redis client.
func NewLocker(client redis.Cmdable) *Locker {
	return &Locker{client: client}
}

// TryLock attempts to take key for ttl. The returned release func is a no-op when the
// lock was not acquired.
func (l *Locker) TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, func(context.Context), error) {
	if l == nil || l.client == nil {
		return false, func(context.Context) {}, fmt.Errorf("platform/cache: locker not configured")
	}
	ok, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, func(context.Context) {}, fmt.Errorf("platform/cache: lock %s: %w", key, err)
	}
	if !ok {
		return false, func(context.Context) {}, nil
	}
	release := func(ctx context.Context) {
		// Only the owner may release; a lock that expired and was re-taken stays put.
		current, err := l.client.Get(ctx, key).Result()
		if err == nil && current == owner {
			_ = l.client.Del(ctx, key).Err()
		}
	}
	return true, release, nil
}
