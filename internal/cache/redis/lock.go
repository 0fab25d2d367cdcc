package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

// unlockScript releases a lock only when the stored token matches the
// holder's, so an expired-and-reacquired lock is never released by the old
// holder.
const unlockScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager hands out distributed locks keyed under sentinel:lock:*. The
// EVM adapter takes one per wallet so concurrent timers never race on a
// nonce.
type LockManager struct {
	rdb    *redis.Client
	unlock *redis.Script
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:    c.Underlying(),
		unlock: redis.NewScript(unlockScript),
	}
}

// Acquire takes the named lock for at most ttl and returns a release
// function that is safe to call more than once. A lock held elsewhere
// returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	k := key("lock", name)

	ok, err := lm.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// The caller's context may already be cancelled when the
			// deferred release runs.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlock.Run(ctx, lm.rdb, []string{k}, token).Err()
		})
	}
	return release, nil
}

var _ domain.LockManager = (*LockManager)(nil)
