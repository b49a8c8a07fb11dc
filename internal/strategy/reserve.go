package strategy

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/alanyoungcy/yieldvault/internal/crypto"
	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/alanyoungcy/yieldvault/internal/vault"
	"github.com/ethereum/go-ethereum/common"
)

// Reserve holds what it is lent without deploying it. It earns nothing and
// can always repay in full, which makes it a safe migration target.
type Reserve struct {
	base
}

// NewReserve creates a Reserve strategy for the vault behind reader.
func NewReserve(name string, reader vault.Reader, token domain.Token, trigger Trigger) *Reserve {
	snap := reader.Snapshot()
	return &Reserve{base: base{
		name:    name,
		kind:    KindReserve,
		addr:    crypto.DeriveAddress("strategy:" + snap.Vault.Hex() + ":" + name),
		vault:   snap.Vault,
		token:   token,
		reader:  reader,
		trigger: trigger,
	}}
}

func (r *Reserve) EstimatedTotalAssets(ctx context.Context) (*big.Int, error) {
	bal, err := r.loose(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve %s: balance: %w", r.name, err)
	}
	return bal, nil
}

// Invest is a no-op: the funds simply stay at the strategy address.
func (r *Reserve) Invest(context.Context, *big.Int) error { return nil }

func (r *Reserve) Withdraw(ctx context.Context, amount *big.Int) (*big.Int, error) {
	bal, err := r.loose(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve %s: balance: %w", r.name, err)
	}
	out := amount
	if bal.Cmp(out) < 0 {
		out = bal
	}
	if err := r.token.Transfer(ctx, r.addr, r.vault, out); err != nil {
		return nil, fmt.Errorf("reserve %s: repay: %w", r.name, err)
	}
	return new(big.Int).Set(out), nil
}

func (r *Reserve) Migrate(ctx context.Context, next common.Address) (*big.Int, error) {
	bal, err := r.loose(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve %s: balance: %w", r.name, err)
	}
	if err := r.token.Transfer(ctx, r.addr, next, bal); err != nil {
		return nil, fmt.Errorf("reserve %s: migrate: %w", r.name, err)
	}
	return bal, nil
}

func (r *Reserve) SetEmergencyExit(context.Context) error {
	r.exit.Store(true)
	return nil
}

func (r *Reserve) HarvestTrigger(ctx context.Context, now time.Time) bool {
	est, err := r.EstimatedTotalAssets(ctx)
	if err != nil {
		return false
	}
	return r.harvestTrigger(now, est)
}

var _ Strategy = (*Reserve)(nil)
