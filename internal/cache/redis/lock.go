package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/yieldvault/internal/domain"
)

// releaseLua deletes the lock only while it still holds the caller's token,
// so a holder whose ttl lapsed cannot free the next holder's lock.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// releaseTimeout bounds the release call, which runs detached from the
// holder's context.
const releaseTimeout = 5 * time.Second

// LockManager implements domain.LockManager with one SET NX key per vault.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseLua),
	}
}

// Acquire takes the harvest lock of vault for ttl.
func (lm *LockManager) Acquire(ctx context.Context, vault common.Address, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("redis: harvest lock %s: ttl %s: %w", vault.Hex(), ttl, domain.ErrInvalidParam)
	}
	key := harvestLockKey(vault)
	token := uuid.New().String()

	ok, err := lm.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire harvest lock %s: %w", vault.Hex(), err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: harvest lock %s: %w", vault.Hex(), domain.ErrLockHeld)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = lm.release.Run(releaseCtx, lm.rdb, []string{key}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
