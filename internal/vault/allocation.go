package vault

import (
	"math/big"

	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// creditAvailable is the amount the vault would lend rec on its next harvest.
// The credit is bounded by the strategy's own target, the vault-wide debt
// ceiling, idle funds and the per-harvest maximum. Credit below the
// per-harvest minimum is not worth moving and is reported as zero.
func creditAvailable(w *domain.VaultState, rec domain.StrategyRecord, emergency bool) *big.Int {
	if emergency || w.EmergencyShutdown {
		return new(big.Int)
	}
	total := w.TotalAssets()
	target := mulDiv(total, rec.DebtRatio, domain.MaxBPS)
	vaultLimit := mulDiv(total, w.DebtRatio, domain.MaxBPS)
	if rec.TotalDebt.Cmp(target) >= 0 || w.TotalDebt.Cmp(vaultLimit) >= 0 {
		return new(big.Int)
	}

	available := new(big.Int).Sub(target, rec.TotalDebt)
	available = minInt(available, new(big.Int).Sub(vaultLimit, w.TotalDebt))
	available = minInt(available, w.Idle)
	available = minInt(available, rec.MaxDebtPerHarvest)
	if available.Cmp(rec.MinDebtPerHarvest) < 0 {
		return new(big.Int)
	}
	return available
}

// debtOutstanding is how far rec's debt exceeds its target. Under emergency
// the target is zero and the whole debt is outstanding.
func debtOutstanding(w *domain.VaultState, rec domain.StrategyRecord, emergency bool) *big.Int {
	if emergency || w.EmergencyShutdown || w.DebtRatio == 0 {
		return new(big.Int).Set(rec.TotalDebt)
	}
	target := mulDiv(w.TotalAssets(), rec.DebtRatio, domain.MaxBPS)
	if rec.TotalDebt.Cmp(target) <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sub(rec.TotalDebt, target)
}

// CreditAvailable reports the credit the strategy at addr would receive if it
// harvested now.
func (v *Vault) CreditAvailable(addr common.Address) *big.Int {
	s := v.Snapshot()
	rec, ok := s.Record(addr)
	if !ok || !rec.Active {
		return new(big.Int)
	}
	return creditAvailable(s, rec, rec.EmergencyExit)
}

// DebtOutstanding reports how much the strategy at addr owes above its target.
func (v *Vault) DebtOutstanding(addr common.Address) *big.Int {
	s := v.Snapshot()
	rec, ok := s.Record(addr)
	if !ok {
		return new(big.Int)
	}
	return debtOutstanding(s, rec, rec.EmergencyExit)
}
