package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hypemarket/engine/internal/domain"
)

// releaseScript deletes a lock key only while it still carries the holder's
// token. Without the token check, a sweep that outlived its TTL could release
// the lock a second instance has since acquired.
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const lockPrefix = "lock:"

// LockManager implements domain.LockManager with SET NX plus a token-checked
// release. It serializes singleton jobs, like the monitor sweep, across
// engine instances.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLockManager creates a LockManager over the shared pool.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.raw(),
		release: redis.NewScript(releaseScript),
	}
}

// Acquire takes the lock for key with the given TTL, returning an idempotent
// unlock function, or domain.ErrLockHeld when another instance has it. The
// TTL bounds how long a crashed holder can block the next sweep.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	redisKey := lockPrefix + key

	ok, err := lm.rdb.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's context may already be cancelled when deferred
			// unlocks run, so release on a fresh one.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.release.Run(releaseCtx, lm.rdb, []string{redisKey}, token).Err()
		})
	}
	return unlock, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
