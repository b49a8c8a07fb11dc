package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Harvest reconciles the strategy at addr with the vault: it measures gain
// or loss against the recorded debt, extends credit or pulls back debt
// outstanding, and stamps the report. Any strategy or token failure leaves
// the vault state untouched. Keeper, strategist or governance.
func (v *Vault) Harvest(ctx context.Context, caller domain.Caller, addr common.Address) (domain.HarvestReport, error) {
	if err := authorize(caller, "harvest", domain.RoleKeeper, domain.RoleStrategist, domain.RoleGovernance); err != nil {
		return domain.HarvestReport{}, err
	}
	opCtx, release, err := v.enter(ctx, "harvest")
	if err != nil {
		return domain.HarvestReport{}, err
	}
	defer release()

	w := v.working()
	rec, ok := w.Strategies[addr]
	s, bound := v.strategies[addr]
	if !ok || !rec.Active || !bound {
		return domain.HarvestReport{}, fmt.Errorf("vault: harvest %s: %w", addr.Hex(), domain.ErrNotActive)
	}

	estimated, err := s.EstimatedTotalAssets(opCtx)
	if err != nil {
		return domain.HarvestReport{}, fmt.Errorf("vault: harvest %s: estimate: %w", addr.Hex(), err)
	}

	report := domain.HarvestReport{
		ID:        uuid.NewString(),
		Vault:     v.addr,
		Strategy:  addr,
		Gain:      new(big.Int),
		Loss:      new(big.Int),
		Credit:    new(big.Int),
		Repaid:    new(big.Int),
		FeeShares: new(big.Int),
	}

	switch estimated.Cmp(rec.TotalDebt) {
	case -1:
		report.Loss.Sub(rec.TotalDebt, estimated)
		rec.TotalLoss.Add(rec.TotalLoss, report.Loss)
		rec.TotalDebt.Sub(rec.TotalDebt, report.Loss)
		w.TotalDebt.Sub(w.TotalDebt, report.Loss)
	case 1:
		report.Gain.Sub(estimated, rec.TotalDebt)
		rec.TotalGain.Add(rec.TotalGain, report.Gain)
		rec.TotalDebt.Add(rec.TotalDebt, report.Gain)
		w.TotalDebt.Add(w.TotalDebt, report.Gain)
		report.FeeShares = assessFees(w, report.Gain)
	}

	emergency := rec.EmergencyExit || s.EmergencyExit()
	outstanding := debtOutstanding(w, rec, emergency)
	credit := creditAvailable(w, rec, emergency)

	if outstanding.Sign() > 0 {
		freed, err := v.pull(opCtx, s, outstanding)
		if err != nil {
			return domain.HarvestReport{}, fmt.Errorf("vault: harvest %s: withdraw %s: %w", addr.Hex(), outstanding, err)
		}
		repaid := minInt(freed, rec.TotalDebt)
		rec.TotalDebt.Sub(rec.TotalDebt, repaid)
		w.TotalDebt.Sub(w.TotalDebt, repaid)
		w.Idle.Add(w.Idle, freed)
		report.Repaid = repaid
		outstanding.Sub(outstanding, minInt(repaid, outstanding))
	}

	if credit.Sign() > 0 {
		if err := v.lend(opCtx, s, credit); err != nil {
			return domain.HarvestReport{}, fmt.Errorf("vault: harvest %s: credit %s: %w", addr.Hex(), credit, err)
		}
		rec.TotalDebt.Add(rec.TotalDebt, credit)
		w.TotalDebt.Add(w.TotalDebt, credit)
		w.Idle.Sub(w.Idle, credit)
		report.Credit = credit
	}

	rec.LastReport = v.clock()
	w.Strategies[addr] = rec
	v.settleRevoked(w, addr)

	report.DebtOutstanding = outstanding
	report.TotalDebt = new(big.Int).Set(rec.TotalDebt)
	report.PricePerShare = w.PricePerShare()
	report.ReportedAt = rec.LastReport
	v.commit(w)

	v.logger.InfoContext(ctx, "harvest",
		slog.String("strategy", addr.Hex()),
		slog.String("gain", report.Gain.String()),
		slog.String("loss", report.Loss.String()),
		slog.String("credit", report.Credit.String()),
		slog.String("repaid", report.Repaid.String()),
		slog.String("total_debt", report.TotalDebt.String()),
	)
	return report, nil
}

// assessFees mints performance fee shares to the rewards address, priced
// after the gain has been recognised.
func assessFees(w *domain.VaultState, gain *big.Int) *big.Int {
	if w.PerformanceFeeBps == 0 || w.Rewards == (common.Address{}) {
		return new(big.Int)
	}
	fee := mulDiv(gain, w.PerformanceFeeBps, domain.MaxBPS)
	if fee.Sign() == 0 {
		return new(big.Int)
	}
	var shares *big.Int
	if w.TotalShares.Sign() == 0 {
		shares = fee
	} else {
		rest := new(big.Int).Sub(w.TotalAssets(), fee)
		if rest.Sign() <= 0 {
			return new(big.Int)
		}
		shares = new(big.Int).Mul(fee, w.TotalShares)
		shares.Quo(shares, rest)
	}
	if shares.Sign() > 0 {
		mint(w, w.Rewards, shares)
	}
	return shares
}

// pull asks s to free amount and returns what actually arrived at the vault,
// measured on the token balance rather than taken from the strategy's word.
func (v *Vault) pull(ctx context.Context, s Strategy, amount *big.Int) (*big.Int, error) {
	before, err := v.token.BalanceOf(ctx, v.addr)
	if err != nil {
		return nil, fmt.Errorf("balance before: %w", err)
	}
	reported, err := s.Withdraw(ctx, amount)
	if err != nil {
		return nil, err
	}
	after, err := v.token.BalanceOf(ctx, v.addr)
	if err != nil {
		return nil, fmt.Errorf("balance after: %w", err)
	}
	freed := new(big.Int).Sub(after, before)
	if freed.Sign() < 0 {
		freed.SetInt64(0)
	}
	if reported != nil && reported.Cmp(freed) != 0 {
		v.logger.WarnContext(ctx, "strategy withdraw mismatch",
			slog.String("strategy", s.Address().Hex()),
			slog.String("reported", reported.String()),
			slog.String("received", freed.String()),
		)
	}
	return freed, nil
}

// lend transfers credit to s and asks it to deploy the funds. The transfer
// is reversed when the strategy refuses.
func (v *Vault) lend(ctx context.Context, s Strategy, credit *big.Int) error {
	if err := v.token.Transfer(ctx, v.addr, s.Address(), credit); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	if err := s.Invest(ctx, credit); err != nil {
		if rerr := v.token.Transfer(ctx, s.Address(), v.addr, credit); rerr != nil {
			v.logger.ErrorContext(ctx, "credit reversal failed",
				slog.String("strategy", s.Address().Hex()),
				slog.String("amount", credit.String()),
				slog.String("error", rerr.Error()),
			)
		}
		return fmt.Errorf("invest: %w", err)
	}
	return nil
}
