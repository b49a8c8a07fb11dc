package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// MigrationResult describes a committed strategy migration.
type MigrationResult struct {
	Old       common.Address `json:"old"`
	New       common.Address `json:"new"`
	DebtMoved *big.Int       `json:"debt_moved"`
	Delivered *big.Int       `json:"delivered"`
}

// MigrateStrategy hands the record of old over to next. The old strategy
// liquidates and delivers its assets straight to next, which takes old's
// slot in the withdrawal queue. Any shortfall between the moved debt and the
// delivered assets surfaces as a loss on next's first harvest. Governance
// only.
func (v *Vault) MigrateStrategy(ctx context.Context, caller domain.Caller, old common.Address, next Strategy) (MigrationResult, error) {
	if err := authorize(caller, "migrate strategy", domain.RoleGovernance); err != nil {
		return MigrationResult{}, err
	}
	if next == nil || next.Address() == (common.Address{}) {
		return MigrationResult{}, fmt.Errorf("vault: migrate strategy: %w", domain.ErrInvalidParam)
	}
	newAddr := next.Address()
	if next.Vault() != v.addr {
		return MigrationResult{}, fmt.Errorf("vault: migrate to %s bound to %s: %w",
			newAddr.Hex(), next.Vault().Hex(), domain.ErrWrongVault)
	}

	opCtx, release, err := v.enter(ctx, "migrate strategy")
	if err != nil {
		return MigrationResult{}, err
	}
	defer release()

	w := v.working()
	rec, ok := w.Strategies[old]
	oldS, bound := v.strategies[old]
	if !ok || !rec.Active || !bound {
		return MigrationResult{}, fmt.Errorf("vault: migrate strategy %s: %w", old.Hex(), domain.ErrNotActive)
	}
	if _, taken := w.Strategies[newAddr]; taken {
		return MigrationResult{}, fmt.Errorf("vault: migrate to %s: %w", newAddr.Hex(), domain.ErrAlreadyRegistered)
	}

	delivered, err := oldS.Migrate(opCtx, newAddr)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("vault: migrate %s to %s: %w", old.Hex(), newAddr.Hex(), err)
	}
	if delivered == nil {
		delivered = new(big.Int)
	}

	moved := rec.Clone()
	moved.Strategy = newAddr
	moved.Activation = rec.LastReport
	moved.EmergencyExit = false
	w.Strategies[newAddr] = moved

	rec.DebtRatio = 0
	rec.TotalDebt = new(big.Int)
	rec.Active = false
	w.Strategies[old] = rec

	for i, a := range w.Queue {
		if a == old {
			w.Queue[i] = newAddr
		}
	}
	delete(v.strategies, old)
	v.strategies[newAddr] = next
	v.commit(w)

	if delivered.Sign() > 0 {
		if err := next.Invest(opCtx, delivered); err != nil {
			v.logger.WarnContext(ctx, "migrated strategy did not invest delivered assets",
				slog.String("strategy", newAddr.Hex()),
				slog.String("amount", delivered.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	v.logger.InfoContext(ctx, "strategy migrated",
		slog.String("old", old.Hex()),
		slog.String("new", newAddr.Hex()),
		slog.String("debt", moved.TotalDebt.String()),
		slog.String("delivered", delivered.String()),
	)
	return MigrationResult{
		Old:       old,
		New:       newAddr,
		DebtMoved: new(big.Int).Set(moved.TotalDebt),
		Delivered: new(big.Int).Set(delivered),
	}, nil
}

// SetEmergencyExit puts the strategy at addr into emergency exit. This is
// irreversible: the strategy is revoked and its next harvest returns all of
// its debt. Guardian, strategist or governance.
func (v *Vault) SetEmergencyExit(ctx context.Context, caller domain.Caller, addr common.Address) error {
	if err := authorize(caller, "set emergency exit", domain.RoleGuardian, domain.RoleStrategist, domain.RoleGovernance); err != nil {
		return err
	}
	opCtx, release, err := v.enter(ctx, "set emergency exit")
	if err != nil {
		return err
	}
	defer release()

	w := v.working()
	rec, ok := w.Strategies[addr]
	s, bound := v.strategies[addr]
	if !ok || !rec.Active || !bound {
		return fmt.Errorf("vault: set emergency exit %s: %w", addr.Hex(), domain.ErrNotActive)
	}
	if err := s.SetEmergencyExit(opCtx); err != nil {
		return fmt.Errorf("vault: set emergency exit %s: %w", addr.Hex(), err)
	}
	rec.EmergencyExit = true
	if !rec.Revoked {
		revoke(w, &rec)
	}
	w.Strategies[addr] = rec
	v.settleRevoked(w, addr)
	v.commit(w)

	v.logger.WarnContext(ctx, "strategy emergency exit", slog.String("strategy", addr.Hex()))
	return nil
}

// SetEmergencyShutdown toggles the vault-wide shutdown. While active no
// deposits or new credit are accepted and every strategy's target is zero.
// A guardian may only activate it; governance may also lift it.
func (v *Vault) SetEmergencyShutdown(ctx context.Context, caller domain.Caller, active bool) error {
	roles := []domain.Role{domain.RoleGovernance}
	if active {
		roles = append(roles, domain.RoleGuardian)
	}
	if err := authorize(caller, "set emergency shutdown", roles...); err != nil {
		return err
	}
	_, release, err := v.enter(ctx, "set emergency shutdown")
	if err != nil {
		return err
	}
	defer release()

	w := v.working()
	if w.EmergencyShutdown == active {
		return nil
	}
	w.EmergencyShutdown = active
	v.commit(w)

	v.logger.WarnContext(ctx, "emergency shutdown", slog.Bool("active", active))
	return nil
}
