// Package service wraps the in-process vault with everything that has to
// happen after an operation commits: persisting the snapshot and harvest
// reports, the audit trail, event publication and operator alerts.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/alanyoungcy/yieldvault/internal/strategy"
	"github.com/alanyoungcy/yieldvault/internal/vault"
)

// EventNotifier receives committed events for operator alerts.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, ev domain.Event) error
}

// Deps groups the collaborators of a VaultService. Everything except Vault
// and Strategies is optional; a nil dependency skips that side effect.
type Deps struct {
	Vault      *vault.Vault
	Strategies *strategy.Registry
	States     domain.StateStore
	Reports    domain.ReportStore
	Audit      domain.AuditStore
	Cache      domain.SnapshotCache
	Bus        domain.EventBus
	Notifier   EventNotifier
}

// VaultService runs vault operations and fans out their results. Side
// effects never fail an operation that the vault already committed; they are
// logged as warnings instead.
type VaultService struct {
	vault      *vault.Vault
	strategies *strategy.Registry
	states     domain.StateStore
	reports    domain.ReportStore
	audit      domain.AuditStore
	cache      domain.SnapshotCache
	bus        domain.EventBus
	notifier   EventNotifier
	maxLossBps uint64
	clock      func() time.Time
	logger     *slog.Logger
}

// NewVaultService creates a VaultService. defaultMaxLossBps applies to
// withdrawals that do not name their own bound.
func NewVaultService(deps Deps, defaultMaxLossBps uint64, logger *slog.Logger) *VaultService {
	return &VaultService{
		vault:      deps.Vault,
		strategies: deps.Strategies,
		states:     deps.States,
		reports:    deps.Reports,
		audit:      deps.Audit,
		cache:      deps.Cache,
		bus:        deps.Bus,
		notifier:   deps.Notifier,
		maxLossBps: defaultMaxLossBps,
		clock:      time.Now,
		logger:     logger.With(slog.String("component", "vault_service")),
	}
}

// Vault returns the wrapped vault.
func (s *VaultService) Vault() *vault.Vault { return s.vault }

// Snapshot returns the latest committed vault state.
func (s *VaultService) Snapshot() *domain.VaultState { return s.vault.Snapshot() }

// Deposit deposits amount for the caller.
func (s *VaultService) Deposit(ctx context.Context, caller domain.Caller, amount *big.Int) (vault.DepositResult, error) {
	res, err := s.vault.Deposit(ctx, caller, amount)
	if err != nil {
		return res, err
	}
	s.settled(ctx, s.event(domain.EventDeposit, nil, &caller.Address, map[string]*big.Int{
		"amount": res.Amount,
		"shares": res.Shares,
	}, ""))
	return res, nil
}

// Withdraw redeems shares for the caller. A nil maxLossBps uses the service
// default. A withdrawal rejected for slippage, or one that committed a debt
// reconciliation before failing, is announced as withdraw_rejected.
func (s *VaultService) Withdraw(ctx context.Context, caller domain.Caller, shares *big.Int, recipient common.Address, maxLossBps *uint64) (vault.WithdrawResult, error) {
	bound := s.maxLossBps
	if maxLossBps != nil {
		bound = *maxLossBps
	}
	before := s.vault.Snapshot().Version

	res, err := s.vault.Withdraw(ctx, caller, shares, recipient, bound)
	if err != nil {
		ev := s.event(domain.EventWithdrawRejected, nil, &caller.Address, map[string]*big.Int{
			"owed":      res.Owed,
			"shortfall": res.Shortfall,
			"freed":     res.Freed,
		}, err.Error())
		switch {
		case s.vault.Snapshot().Version != before:
			s.settled(ctx, ev)
		case errors.Is(err, domain.ErrSlippage):
			s.announce(ctx, ev)
		}
		return res, err
	}

	s.settled(ctx, s.event(domain.EventWithdraw, nil, &caller.Address, map[string]*big.Int{
		"shares":    res.Shares,
		"paid":      res.Paid,
		"shortfall": res.Shortfall,
	}, ""))
	return res, nil
}

// Harvest runs a harvest for the strategy at addr and stores its report.
func (s *VaultService) Harvest(ctx context.Context, caller domain.Caller, addr common.Address) (domain.HarvestReport, error) {
	report, err := s.vault.Harvest(ctx, caller, addr)
	if err != nil {
		return report, err
	}
	if s.reports != nil {
		if err := s.reports.Insert(ctx, report); err != nil {
			s.logger.WarnContext(ctx, "store harvest report failed",
				slog.String("report_id", report.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.settled(ctx, s.event(domain.EventHarvest, &addr, nil, map[string]*big.Int{
		"gain":             report.Gain,
		"loss":             report.Loss,
		"credit":           report.Credit,
		"repaid":           report.Repaid,
		"debt_outstanding": report.DebtOutstanding,
		"fee_shares":       report.FeeShares,
		"price_per_share":  report.PricePerShare,
	}, report.ID))
	return report, nil
}

// AddStrategy attaches the registered strategy called name to the vault.
func (s *VaultService) AddStrategy(ctx context.Context, caller domain.Caller, name string, debtRatio uint64, minPerHarvest, maxPerHarvest *big.Int) (common.Address, error) {
	strat, err := s.strategies.Get(name)
	if err != nil {
		return common.Address{}, fmt.Errorf("service: add strategy: %w", err)
	}
	if err := s.vault.AddStrategy(ctx, caller, strat, debtRatio, minPerHarvest, maxPerHarvest); err != nil {
		return common.Address{}, err
	}
	addr := strat.Address()
	s.settled(ctx, s.event(domain.EventStrategyAdded, &addr, nil, map[string]*big.Int{
		"debt_ratio": new(big.Int).SetUint64(debtRatio),
	}, name))
	return addr, nil
}

// StrategyParams carries the optional parameter changes of UpdateStrategy.
type StrategyParams struct {
	DebtRatio         *uint64
	MinDebtPerHarvest *big.Int
	MaxDebtPerHarvest *big.Int
}

// UpdateStrategy applies each set field of p in turn. It stops at the first
// rejected change; earlier changes stay committed.
func (s *VaultService) UpdateStrategy(ctx context.Context, caller domain.Caller, addr common.Address, p StrategyParams) error {
	amounts := map[string]*big.Int{}
	var err error
	if p.DebtRatio != nil {
		if err = s.vault.UpdateDebtRatio(ctx, caller, addr, *p.DebtRatio); err == nil {
			amounts["debt_ratio"] = new(big.Int).SetUint64(*p.DebtRatio)
		}
	}
	if err == nil && p.MinDebtPerHarvest != nil {
		if err = s.vault.UpdateMinDebtPerHarvest(ctx, caller, addr, p.MinDebtPerHarvest); err == nil {
			amounts["min_debt_per_harvest"] = p.MinDebtPerHarvest
		}
	}
	if err == nil && p.MaxDebtPerHarvest != nil {
		if err = s.vault.UpdateMaxDebtPerHarvest(ctx, caller, addr, p.MaxDebtPerHarvest); err == nil {
			amounts["max_debt_per_harvest"] = p.MaxDebtPerHarvest
		}
	}
	if len(amounts) > 0 {
		s.settled(ctx, s.event(domain.EventStrategyUpdated, &addr, nil, amounts, ""))
	}
	return err
}

// RevokeStrategy revokes the strategy at addr.
func (s *VaultService) RevokeStrategy(ctx context.Context, caller domain.Caller, addr common.Address) error {
	if err := s.vault.RevokeStrategy(ctx, caller, addr); err != nil {
		return err
	}
	s.settled(ctx, s.event(domain.EventStrategyRevoked, &addr, &caller.Address, nil, ""))
	return nil
}

// MigrateStrategy replaces the strategy at old with the registered strategy
// called next.
func (s *VaultService) MigrateStrategy(ctx context.Context, caller domain.Caller, old common.Address, next string) (vault.MigrationResult, error) {
	strat, err := s.strategies.Get(next)
	if err != nil {
		return vault.MigrationResult{}, fmt.Errorf("service: migrate strategy: %w", err)
	}
	res, err := s.vault.MigrateStrategy(ctx, caller, old, strat)
	if err != nil {
		return res, err
	}
	s.settled(ctx, s.event(domain.EventStrategyMigrated, &old, &caller.Address, map[string]*big.Int{
		"debt_moved": res.DebtMoved,
		"delivered":  res.Delivered,
	}, "migrated to "+res.New.Hex()))
	return res, nil
}

// SetEmergencyExit puts the strategy at addr into emergency exit.
func (s *VaultService) SetEmergencyExit(ctx context.Context, caller domain.Caller, addr common.Address) error {
	if err := s.vault.SetEmergencyExit(ctx, caller, addr); err != nil {
		return err
	}
	s.settled(ctx, s.event(domain.EventEmergencyExit, &addr, &caller.Address, nil, ""))
	return nil
}

// SetEmergencyShutdown toggles the vault-wide shutdown.
func (s *VaultService) SetEmergencyShutdown(ctx context.Context, caller domain.Caller, active bool) error {
	if err := s.vault.SetEmergencyShutdown(ctx, caller, active); err != nil {
		return err
	}
	detail := "deactivated"
	if active {
		detail = "activated"
	}
	s.settled(ctx, s.event(domain.EventEmergencyShutdown, nil, &caller.Address, nil, detail))
	return nil
}

// SetDepositLimit changes the deposit limit.
func (s *VaultService) SetDepositLimit(ctx context.Context, caller domain.Caller, limit *big.Int) error {
	if err := s.vault.SetDepositLimit(ctx, caller, limit); err != nil {
		return err
	}
	s.settled(ctx, s.event(domain.EventDepositLimit, nil, &caller.Address, map[string]*big.Int{"limit": limit}, ""))
	return nil
}

// SetPerformanceFee changes the performance fee.
func (s *VaultService) SetPerformanceFee(ctx context.Context, caller domain.Caller, bps uint64) error {
	if err := s.vault.SetPerformanceFee(ctx, caller, bps); err != nil {
		return err
	}
	s.settled(ctx, s.event(domain.EventPerformanceFee, nil, &caller.Address, map[string]*big.Int{
		"bps": new(big.Int).SetUint64(bps),
	}, ""))
	return nil
}

// SetRewards changes the fee recipient.
func (s *VaultService) SetRewards(ctx context.Context, caller domain.Caller, rewards common.Address) error {
	if err := s.vault.SetRewards(ctx, caller, rewards); err != nil {
		return err
	}
	s.settled(ctx, s.event(domain.EventRewards, nil, &caller.Address, nil, rewards.Hex()))
	return nil
}

// Publish pushes the current snapshot to the store and cache without an
// event, e.g. at startup.
func (s *VaultService) Publish(ctx context.Context) {
	s.persist(ctx, s.vault.Snapshot())
}

func (s *VaultService) event(kind domain.EventKind, strat, account *common.Address, amounts map[string]*big.Int, detail string) domain.Event {
	return domain.Event{
		ID:       uuid.New().String(),
		Kind:     kind,
		Vault:    s.vault.Address(),
		Strategy: strat,
		Account:  account,
		Amounts:  amounts,
		Detail:   detail,
		At:       s.clock().UTC(),
	}
}

// settled persists the committed state and announces ev.
func (s *VaultService) settled(ctx context.Context, ev domain.Event) {
	s.persist(ctx, s.vault.Snapshot())
	s.announce(ctx, ev)
}

func (s *VaultService) persist(ctx context.Context, state *domain.VaultState) {
	if s.states != nil {
		if err := s.states.Save(ctx, state); err != nil {
			s.logger.WarnContext(ctx, "save vault state failed",
				slog.Uint64("version", state.Version),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, state); err != nil {
			s.logger.WarnContext(ctx, "cache vault state failed",
				slog.Uint64("version", state.Version),
				slog.String("error", err.Error()),
			)
		}
	}
}

// announce writes ev to the audit log, the bus and the notifier.
func (s *VaultService) announce(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal event failed", slog.String("error", err.Error()))
		return
	}

	if s.audit != nil {
		var detail map[string]any
		_ = json.Unmarshal(payload, &detail)
		if err := s.audit.Log(ctx, "vault."+string(ev.Kind), detail); err != nil {
			s.logger.WarnContext(ctx, "audit log failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus != nil {
		if _, err := s.bus.Publish(ctx, ev.Vault, payload); err != nil {
			s.logger.WarnContext(ctx, "publish event failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyEvent(ctx, ev); err != nil {
			s.logger.WarnContext(ctx, "notify failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
