package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// DepositResult describes a committed deposit.
type DepositResult struct {
	Amount *big.Int `json:"amount"`
	Shares *big.Int `json:"shares"`
}

// Deposit moves amount from the caller into the vault and mints shares at the
// current rate, rounding down.
func (v *Vault) Deposit(ctx context.Context, caller domain.Caller, amount *big.Int) (DepositResult, error) {
	if amount == nil || amount.Sign() <= 0 {
		return DepositResult{}, fmt.Errorf("vault: deposit amount: %w", domain.ErrInvalidParam)
	}
	opCtx, release, err := v.enter(ctx, "deposit")
	if err != nil {
		return DepositResult{}, err
	}
	defer release()

	w := v.working()
	if w.EmergencyShutdown {
		return DepositResult{}, fmt.Errorf("vault: deposit: %w", domain.ErrShutdown)
	}

	total := w.TotalAssets()
	if new(big.Int).Add(total, amount).Cmp(w.DepositLimit) > 0 {
		return DepositResult{}, fmt.Errorf("vault: deposit %s with %s of %s used: %w",
			amount, total, w.DepositLimit, domain.ErrDepositLimit)
	}
	if w.TotalShares.Sign() > 0 && total.Sign() == 0 {
		return DepositResult{}, fmt.Errorf("vault: deposit into vault with no assets backing %s shares: %w",
			w.TotalShares, domain.ErrZeroShares)
	}
	shares := w.SharesForAmount(amount)
	if shares.Sign() == 0 {
		return DepositResult{}, fmt.Errorf("vault: deposit %s: %w", amount, domain.ErrZeroShares)
	}

	if err := v.token.Transfer(opCtx, caller.Address, v.addr, amount); err != nil {
		return DepositResult{}, fmt.Errorf("vault: deposit transfer: %w", err)
	}

	w.Idle.Add(w.Idle, amount)
	mint(w, caller.Address, shares)
	v.commit(w)

	v.logger.InfoContext(ctx, "deposit",
		slog.String("depositor", caller.Address.Hex()),
		slog.String("amount", amount.String()),
		slog.String("shares", shares.String()),
	)
	return DepositResult{Amount: new(big.Int).Set(amount), Shares: shares}, nil
}

func mint(w *domain.VaultState, holder common.Address, shares *big.Int) {
	bal, ok := w.Balances[holder]
	if !ok {
		bal = new(big.Int)
		w.Balances[holder] = bal
	}
	bal.Add(bal, shares)
	w.TotalShares.Add(w.TotalShares, shares)
}

func burn(w *domain.VaultState, holder common.Address, shares *big.Int) {
	bal := w.Balances[holder]
	bal.Sub(bal, shares)
	if bal.Sign() == 0 {
		delete(w.Balances, holder)
	}
	w.TotalShares.Sub(w.TotalShares, shares)
}
