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

// Lender supplies everything it is lent to a SimPool. Its assets are the
// loose balance at its address plus its pool position.
type Lender struct {
	base
	pool *SimPool
}

// NewLender creates a Lender for the vault behind reader.
func NewLender(name string, reader vault.Reader, token domain.Token, pool *SimPool, trigger Trigger) *Lender {
	snap := reader.Snapshot()
	return &Lender{
		base: base{
			name:    name,
			kind:    KindLender,
			addr:    crypto.DeriveAddress("strategy:" + snap.Vault.Hex() + ":" + name),
			vault:   snap.Vault,
			token:   token,
			reader:  reader,
			trigger: trigger,
		},
		pool: pool,
	}
}

// Pool returns the market the lender supplies to.
func (l *Lender) Pool() *SimPool { return l.pool }

func (l *Lender) EstimatedTotalAssets(ctx context.Context) (*big.Int, error) {
	loose, err := l.loose(ctx)
	if err != nil {
		return nil, fmt.Errorf("lender %s: balance: %w", l.name, err)
	}
	return loose.Add(loose, l.pool.BalanceOf(l.addr)), nil
}

// Invest supplies the whole loose balance, not only amount, so funds left
// over from earlier partial withdrawals go back to work too.
func (l *Lender) Invest(ctx context.Context, amount *big.Int) error {
	if l.EmergencyExit() {
		return nil
	}
	loose, err := l.loose(ctx)
	if err != nil {
		return fmt.Errorf("lender %s: balance: %w", l.name, err)
	}
	if loose.Sign() == 0 {
		return nil
	}
	if err := l.pool.Supply(ctx, l.addr, loose); err != nil {
		return fmt.Errorf("lender %s: %w", l.name, err)
	}
	return nil
}

// Withdraw frees up to amount, redeeming from the pool when the loose balance
// is short. The pool's exit fee means less than requested may arrive.
func (l *Lender) Withdraw(ctx context.Context, amount *big.Int) (*big.Int, error) {
	loose, err := l.loose(ctx)
	if err != nil {
		return nil, fmt.Errorf("lender %s: balance: %w", l.name, err)
	}
	if loose.Cmp(amount) < 0 {
		got, err := l.pool.Redeem(ctx, l.addr, new(big.Int).Sub(amount, loose))
		if err != nil {
			return nil, fmt.Errorf("lender %s: %w", l.name, err)
		}
		loose.Add(loose, got)
	}
	out := new(big.Int).Set(amount)
	if out.Cmp(loose) > 0 {
		out.Set(loose)
	}
	if err := l.token.Transfer(ctx, l.addr, l.vault, out); err != nil {
		return nil, fmt.Errorf("lender %s: repay: %w", l.name, err)
	}
	return out, nil
}

// Migrate exits the pool and hands every unit to next.
func (l *Lender) Migrate(ctx context.Context, next common.Address) (*big.Int, error) {
	if err := l.exitPool(ctx); err != nil {
		return nil, err
	}
	loose, err := l.loose(ctx)
	if err != nil {
		return nil, fmt.Errorf("lender %s: balance: %w", l.name, err)
	}
	if err := l.token.Transfer(ctx, l.addr, next, loose); err != nil {
		return nil, fmt.Errorf("lender %s: migrate: %w", l.name, err)
	}
	return loose, nil
}

// SetEmergencyExit leaves the pool immediately so the next harvest can repay
// from the loose balance.
func (l *Lender) SetEmergencyExit(ctx context.Context) error {
	l.exit.Store(true)
	return l.exitPool(ctx)
}

func (l *Lender) HarvestTrigger(ctx context.Context, now time.Time) bool {
	est, err := l.EstimatedTotalAssets(ctx)
	if err != nil {
		return false
	}
	return l.harvestTrigger(now, est)
}

func (l *Lender) exitPool(ctx context.Context) error {
	pos := l.pool.BalanceOf(l.addr)
	if pos.Sign() == 0 {
		return nil
	}
	if _, err := l.pool.Redeem(ctx, l.addr, pos); err != nil {
		return fmt.Errorf("lender %s: exit pool: %w", l.name, err)
	}
	return nil
}

var _ Strategy = (*Lender)(nil)
