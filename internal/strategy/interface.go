package strategy

import (
	"context"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/alanyoungcy/yieldvault/internal/vault"
	"github.com/ethereum/go-ethereum/common"
)

// Strategy is a vault strategy that can be looked up by name.
type Strategy interface {
	vault.Strategy
	Name() string
	Kind() string
	// HarvestTrigger reports whether a keeper should harvest now.
	HarvestTrigger(ctx context.Context, now time.Time) bool
}

// Kinds understood by Build.
const (
	KindLender  = "lender"
	KindReserve = "reserve"
)

// Config holds strategy configuration.
type Config struct {
	Name              string
	Kind              string
	Pool              string
	DebtRatio         uint64
	MinDebtPerHarvest *big.Int
	MaxDebtPerHarvest *big.Int
	Trigger           Trigger
}

// Trigger controls when a keeper considers a harvest worthwhile.
type Trigger struct {
	// MinReportDelay suppresses harvests more frequent than this.
	MinReportDelay time.Duration
	// MaxReportDelay forces a harvest once this long has passed.
	MaxReportDelay time.Duration
	// DebtThreshold is the credit, debt outstanding or loss that justifies
	// an early harvest.
	DebtThreshold *big.Int
}

// base carries what every strategy shares: identity, the vault it serves and
// the emergency exit flag.
type base struct {
	name    string
	kind    string
	addr    common.Address
	vault   common.Address
	token   domain.Token
	reader  vault.Reader
	trigger Trigger
	exit    atomic.Bool
}

func (b *base) Name() string            { return b.name }
func (b *base) Kind() string            { return b.kind }
func (b *base) Address() common.Address { return b.addr }
func (b *base) Vault() common.Address   { return b.vault }
func (b *base) EmergencyExit() bool     { return b.exit.Load() }

func (b *base) loose(ctx context.Context) (*big.Int, error) {
	return b.token.BalanceOf(ctx, b.addr)
}

// harvestTrigger implements the shared trigger policy given the strategy's
// own asset estimate.
func (b *base) harvestTrigger(now time.Time, estimated *big.Int) bool {
	snap := b.reader.Snapshot()
	rec, ok := snap.Record(b.addr)
	if !ok || !rec.Active {
		return false
	}
	since := now.Sub(rec.LastReport)
	if b.trigger.MinReportDelay > 0 && since < b.trigger.MinReportDelay {
		return false
	}
	if b.trigger.MaxReportDelay > 0 && since >= b.trigger.MaxReportDelay {
		return true
	}
	if b.EmergencyExit() || rec.EmergencyExit {
		return rec.TotalDebt.Sign() > 0
	}
	threshold := b.trigger.DebtThreshold
	if threshold == nil {
		threshold = new(big.Int)
	}
	if b.reader.DebtOutstanding(b.addr).Cmp(threshold) > 0 {
		return true
	}
	if estimated != nil && new(big.Int).Add(estimated, threshold).Cmp(rec.TotalDebt) < 0 {
		return true
	}
	return b.reader.CreditAvailable(b.addr).Cmp(threshold) > 0
}
