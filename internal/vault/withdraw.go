package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// WithdrawResult describes a withdrawal attempt. On ErrSlippage Shares is
// zero and Paid is zero, while Freed reports what strategies returned to idle.
type WithdrawResult struct {
	Shares    *big.Int `json:"shares"`
	Owed      *big.Int `json:"owed"`
	Paid      *big.Int `json:"paid"`
	Shortfall *big.Int `json:"shortfall"`
	Freed     *big.Int `json:"freed"`
}

// Withdraw burns shares of the caller and pays their value to recipient.
// Idle funds are used first, then strategies are asked for the remainder in
// withdrawal queue order. A shortfall is accepted as long as it stays within
// maxLossBps of the amount owed. A nil shares value redeems the caller's
// whole balance.
//
// When the loss bound is exceeded ErrSlippage is returned and no shares are
// burned, but funds already returned by strategies stay in idle and their
// debt reduction is committed.
func (v *Vault) Withdraw(ctx context.Context, caller domain.Caller, shares *big.Int, recipient common.Address, maxLossBps uint64) (WithdrawResult, error) {
	if maxLossBps > domain.MaxBPS {
		return WithdrawResult{}, fmt.Errorf("vault: withdraw max loss %d bps: %w", maxLossBps, domain.ErrInvalidParam)
	}
	if recipient == (common.Address{}) {
		recipient = caller.Address
	}
	opCtx, release, err := v.enter(ctx, "withdraw")
	if err != nil {
		return WithdrawResult{}, err
	}
	defer release()

	w := v.working()
	balance := w.BalanceOf(caller.Address)
	if shares == nil {
		shares = balance
	}
	if shares.Sign() <= 0 {
		return WithdrawResult{}, fmt.Errorf("vault: withdraw: %w", domain.ErrZeroShares)
	}
	if shares.Cmp(balance) > 0 {
		return WithdrawResult{}, fmt.Errorf("vault: withdraw %s shares with balance %s: %w",
			shares, balance, domain.ErrInsufficientShares)
	}

	owed := w.ShareValue(shares)
	freed := v.liquidate(opCtx, w, owed)

	available := minInt(w.Idle, owed)
	shortfall := new(big.Int).Sub(owed, available)
	res := WithdrawResult{
		Shares:    new(big.Int),
		Owed:      owed,
		Paid:      new(big.Int),
		Shortfall: shortfall,
		Freed:     freed,
	}

	lossBound := new(big.Int).Mul(owed, new(big.Int).SetUint64(maxLossBps))
	if new(big.Int).Mul(shortfall, big.NewInt(domain.MaxBPS)).Cmp(lossBound) > 0 {
		if freed.Sign() > 0 {
			v.commit(w)
		}
		v.logger.WarnContext(ctx, "withdraw rejected",
			slog.String("holder", caller.Address.Hex()),
			slog.String("owed", owed.String()),
			slog.String("shortfall", shortfall.String()),
			slog.Uint64("max_loss_bps", maxLossBps),
		)
		return res, fmt.Errorf("vault: withdraw owed %s short %s beyond %d bps: %w",
			owed, shortfall, maxLossBps, domain.ErrSlippage)
	}

	reconciled := cloneState(w)
	burn(w, caller.Address, shares)
	w.Idle.Sub(w.Idle, available)

	if available.Sign() > 0 {
		if err := v.token.Transfer(opCtx, v.addr, recipient, available); err != nil {
			if freed.Sign() > 0 {
				v.commit(reconciled)
			}
			return res, fmt.Errorf("vault: withdraw payout: %w", err)
		}
	}
	v.commit(w)

	res.Shares = new(big.Int).Set(shares)
	res.Paid = available
	v.logger.InfoContext(ctx, "withdraw",
		slog.String("holder", caller.Address.Hex()),
		slog.String("recipient", recipient.Hex()),
		slog.String("shares", shares.String()),
		slog.String("paid", available.String()),
		slog.String("shortfall", shortfall.String()),
	)
	return res, nil
}

// liquidate walks the withdrawal queue asking strategies for the part of
// owed that idle cannot cover. Freed funds are moved into idle and reduce the
// strategy's debt. A failing strategy counts as having freed nothing.
func (v *Vault) liquidate(ctx context.Context, w *domain.VaultState, owed *big.Int) *big.Int {
	total := new(big.Int)
	for _, addr := range w.Queue {
		if w.Idle.Cmp(owed) >= 0 {
			break
		}
		rec := w.Strategies[addr]
		s, ok := v.strategies[addr]
		if !ok || rec.TotalDebt.Sign() == 0 {
			continue
		}
		ask := minInt(new(big.Int).Sub(owed, w.Idle), rec.TotalDebt)

		freed, err := v.pull(ctx, s, ask)
		if err != nil {
			v.logger.WarnContext(ctx, "strategy withdraw failed",
				slog.String("strategy", addr.Hex()),
				slog.String("requested", ask.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		repaid := minInt(freed, rec.TotalDebt)
		rec.TotalDebt.Sub(rec.TotalDebt, repaid)
		w.TotalDebt.Sub(w.TotalDebt, repaid)
		w.Idle.Add(w.Idle, freed)
		w.Strategies[addr] = rec
		total.Add(total, freed)
	}
	return total
}
