package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"slices"

	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// AddStrategy registers s with a debt ratio in basis points and per-harvest
// debt bounds. Governance only.
func (v *Vault) AddStrategy(ctx context.Context, caller domain.Caller, s Strategy, debtRatio uint64, minPerHarvest, maxPerHarvest *big.Int) error {
	if err := authorize(caller, "add strategy", domain.RoleGovernance); err != nil {
		return err
	}
	if s == nil || s.Address() == (common.Address{}) {
		return fmt.Errorf("vault: add strategy: %w", domain.ErrInvalidParam)
	}
	addr := s.Address()
	if minPerHarvest == nil {
		minPerHarvest = new(big.Int)
	}
	if maxPerHarvest == nil {
		maxPerHarvest = domain.Unlimited()
	}
	if minPerHarvest.Sign() < 0 || minPerHarvest.Cmp(maxPerHarvest) > 0 {
		return fmt.Errorf("vault: add strategy %s: min %s > max %s: %w",
			addr.Hex(), minPerHarvest, maxPerHarvest, domain.ErrInvalidParam)
	}
	if s.Vault() != v.addr {
		return fmt.Errorf("vault: add strategy %s bound to %s: %w", addr.Hex(), s.Vault().Hex(), domain.ErrWrongVault)
	}

	_, release, err := v.enter(ctx, "add strategy")
	if err != nil {
		return err
	}
	defer release()

	w := v.working()
	if w.EmergencyShutdown {
		return fmt.Errorf("vault: add strategy: %w", domain.ErrShutdown)
	}
	if _, ok := w.Strategies[addr]; ok {
		return fmt.Errorf("vault: add strategy %s: %w", addr.Hex(), domain.ErrDuplicate)
	}
	if len(w.Queue) >= domain.MaxStrategies {
		return fmt.Errorf("vault: add strategy %s: %w", addr.Hex(), domain.ErrQueueFull)
	}
	if debtRatio > domain.MaxBPS-w.DebtRatio {
		return fmt.Errorf("vault: add strategy %s ratio %d with %d allocated: %w",
			addr.Hex(), debtRatio, w.DebtRatio, domain.ErrCapacity)
	}

	now := v.clock()
	w.Strategies[addr] = domain.StrategyRecord{
		Strategy:          addr,
		DebtRatio:         debtRatio,
		MinDebtPerHarvest: new(big.Int).Set(minPerHarvest),
		MaxDebtPerHarvest: new(big.Int).Set(maxPerHarvest),
		TotalDebt:         new(big.Int),
		TotalGain:         new(big.Int),
		TotalLoss:         new(big.Int),
		Activation:        now,
		LastReport:        now,
		Active:            true,
	}
	w.Queue = append(w.Queue, addr)
	w.DebtRatio += debtRatio
	v.strategies[addr] = s
	v.commit(w)

	v.logger.InfoContext(ctx, "strategy added",
		slog.String("strategy", addr.Hex()),
		slog.Uint64("debt_ratio", debtRatio),
	)
	return nil
}

// UpdateDebtRatio changes the share of total assets lent to a strategy.
// Governance only.
func (v *Vault) UpdateDebtRatio(ctx context.Context, caller domain.Caller, addr common.Address, debtRatio uint64) error {
	return v.updateRecord(ctx, caller, "update debt ratio", addr, func(w *domain.VaultState, rec *domain.StrategyRecord) error {
		if rec.Revoked {
			return fmt.Errorf("vault: update debt ratio of revoked %s: %w", addr.Hex(), domain.ErrNotActive)
		}
		allocated := w.DebtRatio - rec.DebtRatio
		if debtRatio > domain.MaxBPS-allocated {
			return fmt.Errorf("vault: update debt ratio %s to %d with %d allocated: %w",
				addr.Hex(), debtRatio, allocated, domain.ErrCapacity)
		}
		w.DebtRatio = allocated + debtRatio
		rec.DebtRatio = debtRatio
		return nil
	})
}

// UpdateMinDebtPerHarvest changes the smallest credit worth extending.
// Governance only.
func (v *Vault) UpdateMinDebtPerHarvest(ctx context.Context, caller domain.Caller, addr common.Address, amount *big.Int) error {
	return v.updateRecord(ctx, caller, "update min debt per harvest", addr, func(_ *domain.VaultState, rec *domain.StrategyRecord) error {
		if amount == nil || amount.Sign() < 0 || amount.Cmp(rec.MaxDebtPerHarvest) > 0 {
			return fmt.Errorf("vault: update min debt per harvest %s: %w", addr.Hex(), domain.ErrInvalidParam)
		}
		rec.MinDebtPerHarvest = new(big.Int).Set(amount)
		return nil
	})
}

// UpdateMaxDebtPerHarvest changes the largest credit extended per harvest.
// Governance only.
func (v *Vault) UpdateMaxDebtPerHarvest(ctx context.Context, caller domain.Caller, addr common.Address, amount *big.Int) error {
	return v.updateRecord(ctx, caller, "update max debt per harvest", addr, func(_ *domain.VaultState, rec *domain.StrategyRecord) error {
		if amount == nil || amount.Cmp(rec.MinDebtPerHarvest) < 0 {
			return fmt.Errorf("vault: update max debt per harvest %s: %w", addr.Hex(), domain.ErrInvalidParam)
		}
		rec.MaxDebtPerHarvest = new(big.Int).Set(amount)
		return nil
	})
}

// RevokeStrategy sets the strategy's debt ratio to zero so subsequent
// harvests return all of its debt. A revoked strategy without debt is
// deactivated immediately. Governance or guardian.
func (v *Vault) RevokeStrategy(ctx context.Context, caller domain.Caller, addr common.Address) error {
	if err := authorize(caller, "revoke strategy", domain.RoleGovernance, domain.RoleGuardian); err != nil {
		return err
	}
	_, release, err := v.enter(ctx, "revoke strategy")
	if err != nil {
		return err
	}
	defer release()

	w := v.working()
	rec, ok := w.Strategies[addr]
	if !ok || !rec.Active {
		return fmt.Errorf("vault: revoke strategy %s: %w", addr.Hex(), domain.ErrNotActive)
	}
	revoke(w, &rec)
	w.Strategies[addr] = rec
	v.settleRevoked(w, addr)
	v.commit(w)

	v.logger.InfoContext(ctx, "strategy revoked", slog.String("strategy", addr.Hex()))
	return nil
}

func (v *Vault) updateRecord(ctx context.Context, caller domain.Caller, op string, addr common.Address, fn func(*domain.VaultState, *domain.StrategyRecord) error) error {
	if err := authorize(caller, op, domain.RoleGovernance); err != nil {
		return err
	}
	_, release, err := v.enter(ctx, op)
	if err != nil {
		return err
	}
	defer release()

	w := v.working()
	rec, ok := w.Strategies[addr]
	if !ok || !rec.Active {
		return fmt.Errorf("vault: %s %s: %w", op, addr.Hex(), domain.ErrNotActive)
	}
	if err := fn(w, &rec); err != nil {
		return err
	}
	w.Strategies[addr] = rec
	v.commit(w)
	return nil
}

func revoke(w *domain.VaultState, rec *domain.StrategyRecord) {
	w.DebtRatio -= rec.DebtRatio
	rec.DebtRatio = 0
	rec.Revoked = true
}

// settleRevoked deactivates a revoked strategy whose debt has been repaid
// and drops it from the withdrawal queue.
func (v *Vault) settleRevoked(w *domain.VaultState, addr common.Address) {
	rec := w.Strategies[addr]
	if !rec.Revoked || rec.TotalDebt.Sign() != 0 {
		return
	}
	rec.Active = false
	w.Strategies[addr] = rec
	w.Queue = slices.DeleteFunc(w.Queue, func(a common.Address) bool { return a == addr })
	delete(v.strategies, addr)
}
