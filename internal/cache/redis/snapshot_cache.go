package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/yieldvault/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache. Each vault's latest snapshot
// is stored as JSON under its address next to its version counter, so a
// stale writer cannot replace a newer snapshot.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
	set *redis.Script
}

// setIfNewerLua writes KEYS[1] (payload) and KEYS[2] (version) only when
// ARGV[2] is greater than the stored version.
const setIfNewerLua = `
local current = tonumber(redis.call('GET', KEYS[2]) or '-1')
if tonumber(ARGV[2]) <= current then
    return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
    redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
    redis.call('SET', KEYS[2], ARGV[2], 'PX', ttl)
else
    redis.call('SET', KEYS[1], ARGV[1])
    redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`

// NewSnapshotCache creates a SnapshotCache backed by the given Client. A zero
// ttl keeps snapshots until overwritten.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{
		rdb: c.Underlying(),
		ttl: ttl,
		set: redis.NewScript(setIfNewerLua),
	}
}

// Set stores state unless a newer version is already cached.
func (sc *SnapshotCache) Set(ctx context.Context, state *domain.VaultState) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", state.Vault.Hex(), err)
	}
	keys := []string{snapshotKey(state.Vault), snapshotVersionKey(state.Vault)}
	if err := sc.set.Run(ctx, sc.rdb, keys, body, state.Version, sc.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", state.Vault.Hex(), err)
	}
	return nil
}

// Get returns the cached snapshot of vault, or domain.ErrNotFound.
func (sc *SnapshotCache) Get(ctx context.Context, vault common.Address) (*domain.VaultState, error) {
	body, err := sc.rdb.Get(ctx, snapshotKey(vault)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get snapshot %s: %w", vault.Hex(), err)
	}
	var state domain.VaultState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("redis: unmarshal snapshot %s: %w", vault.Hex(), err)
	}
	return &state, nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
