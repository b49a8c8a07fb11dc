package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldvault/internal/access"
	"github.com/alanyoungcy/yieldvault/internal/config"
	"github.com/alanyoungcy/yieldvault/internal/crypto"
	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/alanyoungcy/yieldvault/internal/service"
	"github.com/alanyoungcy/yieldvault/internal/strategy"
	"github.com/alanyoungcy/yieldvault/internal/token"
	"github.com/alanyoungcy/yieldvault/internal/vault"
)

// vaultRuntime is the in-process vault with everything built around it.
type vaultRuntime struct {
	token      *token.Memory
	vault      *vault.Vault
	strategies *strategy.Registry
	pools      []poolRunner
	service    *service.VaultService
	access     *access.Table
}

type poolRunner struct {
	pool     *strategy.SimPool
	interval time.Duration
}

// vaultAddress derives the vault's address from its configured name, so a
// read-only replica finds the snapshots the serving process wrote.
func vaultAddress(cfg *config.Config) common.Address {
	return crypto.DeriveAddress("vault:" + cfg.Vault.Name)
}

// bootstrapCaller attaches configured strategies at startup.
func bootstrapCaller(cfg *config.Config) domain.Caller {
	return domain.Caller{
		Address: crypto.DeriveAddress("config:" + cfg.Vault.Name),
		Roles:   domain.RoleGovernance,
	}
}

// buildVault creates the token, vault, pools and strategies described by cfg
// and attaches the strategies marked attach.
func buildVault(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*vaultRuntime, error) {
	table, err := access.FromConfig(cfg.Roles)
	if err != nil {
		return nil, fmt.Errorf("app: roles: %w", err)
	}

	tok := token.NewMemory(cfg.Token.Symbol, cfg.Token.Decimals)
	for holder, amount := range cfg.Token.Balances {
		v, err := config.ParseAmount(amount)
		if err != nil {
			return nil, fmt.Errorf("app: token balance of %s: %w", holder, err)
		}
		tok.Mint(common.HexToAddress(holder), v)
	}

	limit, err := cfg.Vault.DepositLimitAmount()
	if err != nil {
		return nil, fmt.Errorf("app: deposit limit: %w", err)
	}
	addr := vaultAddress(cfg)
	version, err := storedVersion(ctx, deps.StateStore, addr)
	if err != nil {
		return nil, err
	}
	v, err := vault.New(vault.Config{
		Address:           addr,
		DepositLimit:      limit,
		PerformanceFeeBps: cfg.Vault.PerformanceFeeBps,
		Rewards:           common.HexToAddress(cfg.Vault.Rewards),
		Version:           version,
		Logger:            logger,
	}, tok)
	if err != nil {
		return nil, fmt.Errorf("app: vault: %w", err)
	}

	rt := &vaultRuntime{token: tok, vault: v, strategies: strategy.NewRegistry(), access: table}

	pools := make(map[string]*strategy.SimPool, len(cfg.Pools))
	for _, pc := range cfg.Pools {
		p := strategy.NewSimPool(strategy.PoolConfig{
			Name:       pc.Name,
			APRBps:     pc.APRBps,
			ExitFeeBps: pc.ExitFeeBps,
		}, tok, nil, logger)
		pools[pc.Name] = p
		rt.pools = append(rt.pools, poolRunner{pool: p, interval: pc.AccrueInterval.Duration})
	}

	for _, sc := range cfg.Strategies {
		minDebt, maxDebt, threshold, err := sc.Amounts()
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		s, err := strategy.Build(strategy.Config{
			Name:              sc.Name,
			Kind:              sc.Kind,
			Pool:              sc.Pool,
			DebtRatio:         sc.DebtRatio,
			MinDebtPerHarvest: minDebt,
			MaxDebtPerHarvest: maxDebt,
			Trigger: strategy.Trigger{
				MinReportDelay: sc.MinReportDelay.Duration,
				MaxReportDelay: sc.MaxReportDelay.Duration,
				DebtThreshold:  threshold,
			},
		}, v, tok, pools)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		if err := rt.strategies.Register(s); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}

	svcDeps := service.Deps{
		Vault:      v,
		Strategies: rt.strategies,
		States:     deps.StateStore,
		Reports:    deps.ReportStore,
		Audit:      deps.AuditStore,
		Cache:      deps.SnapshotCache,
		Bus:        deps.EventBus,
	}
	if deps.Notifier != nil {
		svcDeps.Notifier = deps.Notifier
	}
	rt.service = service.NewVaultService(svcDeps, cfg.Vault.DefaultMaxLossBps, logger)

	boot := bootstrapCaller(cfg)
	for _, sc := range cfg.Strategies {
		if !sc.Attach {
			continue
		}
		minDebt, maxDebt, _, _ := sc.Amounts()
		if _, err := rt.service.AddStrategy(ctx, boot, sc.Name, sc.DebtRatio, minDebt, maxDebt); err != nil {
			return nil, fmt.Errorf("app: attach strategy %s: %w", sc.Name, err)
		}
	}
	rt.service.Publish(ctx)

	logger.InfoContext(ctx, "vault ready",
		slog.String("vault", addr.Hex()),
		slog.String("token", tok.Symbol()),
		slog.Int("strategies", len(rt.strategies.List())),
		slog.Uint64("version", v.Snapshot().Version),
	)
	return rt, nil
}

// storedVersion returns the version of the last persisted snapshot of addr,
// or zero when there is none.
func storedVersion(ctx context.Context, states domain.StateStore, addr common.Address) (uint64, error) {
	if states == nil {
		return 0, nil
	}
	state, err := states.Load(ctx, addr)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("app: load stored snapshot: %w", err)
	}
	return state.Version, nil
}
