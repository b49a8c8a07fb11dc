// Package keeper periodically harvests strategies whose trigger fires. Runs
// against the same vault from several processes are serialised with a
// distributed lock.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/alanyoungcy/yieldvault/internal/strategy"
)

// Harvester runs a harvest on behalf of a caller.
type Harvester interface {
	Harvest(ctx context.Context, caller domain.Caller, addr common.Address) (domain.HarvestReport, error)
}

// SnapshotSource exposes the committed vault state.
type SnapshotSource interface {
	Snapshot() *domain.VaultState
}

// StrategySource resolves strategy implementations by address.
type StrategySource interface {
	ByAddress(addr common.Address) (strategy.Strategy, error)
}

// Config holds keeper settings.
type Config struct {
	Interval time.Duration
	LockTTL  time.Duration
}

// Keeper walks the withdrawal queue on every tick and harvests the
// strategies that ask for it.
type Keeper struct {
	vault      SnapshotSource
	harvester  Harvester
	strategies StrategySource
	locks      domain.LockManager
	caller     domain.Caller
	cfg        Config
	clock      func() time.Time
	logger     *slog.Logger
}

// New creates a Keeper acting as caller. locks may be nil when a single
// process owns the vault.
func New(
	vault SnapshotSource,
	harvester Harvester,
	strategies StrategySource,
	locks domain.LockManager,
	caller domain.Caller,
	cfg Config,
	logger *slog.Logger,
) *Keeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.Interval
	}
	return &Keeper{
		vault:      vault,
		harvester:  harvester,
		strategies: strategies,
		locks:      locks,
		caller:     caller,
		cfg:        cfg,
		clock:      time.Now,
		logger:     logger.With(slog.String("component", "keeper")),
	}
}

// Run ticks until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	if !k.caller.Has(domain.RoleKeeper, domain.RoleStrategist, domain.RoleGovernance) {
		return fmt.Errorf("keeper: %s holds no harvest role: %w", k.caller.Address.Hex(), domain.ErrUnauthorized)
	}
	k.logger.InfoContext(ctx, "keeper started",
		slog.String("caller", k.caller.Address.Hex()),
		slog.Duration("interval", k.cfg.Interval),
	)

	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			k.logger.Info("keeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := k.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				k.logger.ErrorContext(ctx, "keeper tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Tick harvests every due strategy once and returns how many harvests
// succeeded. A tick is skipped without error when another keeper holds the
// vault lock. Individual harvest failures are logged and do not stop the
// tick.
func (k *Keeper) Tick(ctx context.Context) (int, error) {
	snap := k.vault.Snapshot()

	if k.locks != nil {
		unlock, err := k.locks.Acquire(ctx, snap.Vault, k.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			k.logger.DebugContext(ctx, "vault lock held elsewhere, skipping tick")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("keeper: acquire lock: %w", err)
		}
		defer unlock()
	}

	now := k.clock()
	harvested := 0
	for _, addr := range snap.Queue {
		if err := ctx.Err(); err != nil {
			return harvested, err
		}
		s, err := k.strategies.ByAddress(addr)
		if err != nil {
			k.logger.WarnContext(ctx, "queued strategy not registered", slog.String("strategy", addr.Hex()))
			continue
		}
		if !s.HarvestTrigger(ctx, now) {
			continue
		}

		report, err := k.harvester.Harvest(ctx, k.caller, addr)
		if err != nil {
			k.logger.WarnContext(ctx, "harvest failed",
				slog.String("strategy", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		harvested++
		k.logger.InfoContext(ctx, "harvested",
			slog.String("strategy", s.Name()),
			slog.String("gain", report.Gain.String()),
			slog.String("loss", report.Loss.String()),
			slog.String("credit", report.Credit.String()),
			slog.String("repaid", report.Repaid.String()),
		)
	}
	return harvested, nil
}
