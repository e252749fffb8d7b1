package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

// releaseTimeout bounds the unlock round trip once the caller is done.
const releaseTimeout = 5 * time.Second

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1], so a
// holder whose lease expired cannot release the next holder's lock.
var compareAndDelete = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// LockManager implements domain.LockManager with SET NX leases. The vault
// service takes one lease per vault for the length of an operation; a
// crashed holder's lease lapses after its TTL.
type LockManager struct {
	rdb      *redis.Client
	newToken func() string
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		newToken: uuid.NewString,
	}
}

// Acquire takes the lease on key or returns domain.ErrLockHeld. The
// returned release func is idempotent and runs on its own deadline.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("redis: lock %s: ttl must be positive", key)
	}
	token := lm.newToken()
	redisKey := "lock:" + key

	won, err := lm.rdb.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: lock %s: %w", key, err)
	}
	if !won {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			defer cancel()
			_ = compareAndDelete.Run(releaseCtx, lm.rdb, []string{redisKey}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
