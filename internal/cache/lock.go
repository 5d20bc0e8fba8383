package cache

import (
	"context"
	"fmt"
	"time"

	"aiforge/internal/ecode"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NoopLock is the Locker used when no Redis endpoint is configured; a
// single-process deployment has no cross-process race to guard against.
type NoopLock struct{}

func (NoopLock) Lock(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}

// DistributedLock is a Redis SETNX-based mutual exclusion lock guarding
// cache stats updates across multiple orchestrator processes sharing one
// sqlite cache file, grounded on the teacher's
// internal/statemanager/redis_statemanager.go client usage pattern.
type DistributedLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDistributedLock builds a lock against a Redis instance at addr.
func NewDistributedLock(addr string, ttl time.Duration) *DistributedLock {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &DistributedLock{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

// Lock blocks (with a short retry loop) until it acquires key, returning an
// unlock function that releases it. Acquisition failure after the retry
// budget surfaces as an ecode.CodeCacheLockFailed to the caller.
func (l *DistributedLock) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := "aiforge:lock:" + key

	deadline := time.Now().Add(3 * time.Second)
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("cache: redis lock error: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ecode.New(ecode.CodeCacheLockFailed, "cache", "lock", fmt.Sprintf("timed out acquiring lock %s", key))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	unlock := func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		val, err := l.client.Get(unlockCtx, redisKey).Result()
		if err == nil && val == token {
			l.client.Del(unlockCtx, redisKey)
		}
	}
	return unlock, nil
}

// Close releases the underlying Redis client connection.
func (l *DistributedLock) Close() error {
	return l.client.Close()
}
