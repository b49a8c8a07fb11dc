package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SnapshotCache holds the latest vault snapshot for fast API reads.
type SnapshotCache interface {
	Set(ctx context.Context, state *VaultState) error
	Get(ctx context.Context, vault common.Address) (*VaultState, error)
}

// RateLimiter counts requests per client in a sliding window.
type RateLimiter interface {
	// Allow records one request from client and reports whether it fits
	// within limit per window, together with the requests left.
	Allow(ctx context.Context, client string, limit int, window time.Duration) (allowed bool, remaining int, err error)
}

// LockManager hands out the per-vault harvest lock shared by keeper
// replicas.
type LockManager interface {
	// Acquire takes the harvest lock of vault for ttl. It returns
	// ErrLockHeld when another holder has it. unlock is safe to call more
	// than once and from any goroutine.
	Acquire(ctx context.Context, vault common.Address, ttl time.Duration) (unlock func(), err error)
}

// EventRecord is one entry of a vault's event log. ID orders entries and
// is the cursor for EventBus.Since.
type EventRecord struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// EventBus fans vault events out to live subscribers and keeps a bounded
// log of them for late readers.
type EventBus interface {
	// Publish appends payload to the vault's log, then delivers it to the
	// vault's subscribers. It returns the log ID.
	Publish(ctx context.Context, vault common.Address, payload []byte) (string, error)
	Subscribe(ctx context.Context, vault common.Address) (<-chan []byte, error)
	// Since returns up to count entries logged after afterID, oldest first.
	// An empty afterID reads from the start of the log.
	Since(ctx context.Context, vault common.Address, afterID string, count int) ([]EventRecord, error)
	// Latest returns the newest count entries, oldest first.
	Latest(ctx context.Context, vault common.Address, count int) ([]EventRecord, error)
}
