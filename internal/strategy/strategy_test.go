package strategy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/alanyoungcy/yieldvault/internal/crypto"
	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/alanyoungcy/yieldvault/internal/token"
	"github.com/alanyoungcy/yieldvault/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	gov    = domain.Caller{Address: common.HexToAddress("0x0000000000000000000000000000000000000a01"), Roles: domain.RoleGovernance}
	keeper = domain.Caller{Address: common.HexToAddress("0x0000000000000000000000000000000000000a04"), Roles: domain.RoleKeeper}
	bob    = domain.Caller{Address: common.HexToAddress("0x0000000000000000000000000000000000000b01")}
)

type env struct {
	now  time.Time
	tok  *token.Memory
	v    *vault.Vault
	pool *SimPool
}

func newEnv(t *testing.T, poolCfg PoolConfig) *env {
	t.Helper()
	e := &env{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), tok: token.NewMemory("USDC", 6)}
	clock := func() time.Time { return e.now }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v, err := vault.New(vault.Config{Address: crypto.DeriveAddress("vault:usdc"), Clock: clock, Logger: logger}, e.tok)
	require.NoError(t, err)
	e.v = v
	e.pool = NewSimPool(poolCfg, e.tok, clock, logger)
	return e
}

func (e *env) deposit(t *testing.T, who domain.Caller, n int64) {
	t.Helper()
	e.tok.Mint(who.Address, big.NewInt(n))
	_, err := e.v.Deposit(context.Background(), who, big.NewInt(n))
	require.NoError(t, err)
}

func TestSimPoolAccruesInterest(t *testing.T) {
	e := newEnv(t, PoolConfig{Name: "aave", APRBps: 1000})
	supplier := common.HexToAddress("0x0000000000000000000000000000000000000c01")
	e.tok.Mint(supplier, big.NewInt(1_000_000))
	require.NoError(t, e.pool.Supply(context.Background(), supplier, big.NewInt(1_000_000)))

	e.now = e.now.Add(365 * 24 * time.Hour)
	assert.Equal(t, int64(1_100_000), e.pool.BalanceOf(supplier).Int64())

	poolCash, _ := e.tok.BalanceOf(context.Background(), e.pool.Address())
	assert.Equal(t, int64(1_100_000), poolCash.Int64())
}

func TestSimPoolExitFeeAndSlash(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, PoolConfig{Name: "risky", ExitFeeBps: 50})
	supplier := common.HexToAddress("0x0000000000000000000000000000000000000c01")
	e.tok.Mint(supplier, big.NewInt(10_000))
	require.NoError(t, e.pool.Supply(ctx, supplier, big.NewInt(10_000)))

	require.NoError(t, e.pool.Slash(1000))
	assert.Equal(t, int64(9_000), e.pool.BalanceOf(supplier).Int64())

	got, err := e.pool.Redeem(ctx, supplier, big.NewInt(20_000))
	require.NoError(t, err)
	assert.Equal(t, int64(8_955), got.Int64())
	assert.Zero(t, e.pool.BalanceOf(supplier).Sign())
}

func TestLenderEarnsThroughVault(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, PoolConfig{Name: "aave", APRBps: 500})
	l := NewLender("aave-lender", e.v, e.tok, e.pool, Trigger{})
	require.NoError(t, e.v.AddStrategy(ctx, gov, l, 10_000, nil, nil))
	e.deposit(t, bob, 1_000_000)

	rep, err := e.v.Harvest(ctx, keeper, l.Address())
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), rep.Credit.Int64())
	assert.Equal(t, int64(1_000_000), e.pool.BalanceOf(l.Address()).Int64())

	e.now = e.now.Add(365 * 24 * time.Hour)
	rep, err = e.v.Harvest(ctx, keeper, l.Address())
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), rep.Gain.Int64())
	assert.Equal(t, int64(1_050_000), e.v.TotalAssets().Int64())
	assert.Equal(t, int64(1_050_000), e.v.PricePerShare().Int64())

	res, err := e.v.Withdraw(ctx, bob, nil, bob.Address, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1_050_000), res.Paid.Int64())
}

func TestLenderExitFeeHitsMaxLoss(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, PoolConfig{Name: "illiquid", ExitFeeBps: 120})
	l := NewLender("l", e.v, e.tok, e.pool, Trigger{})
	require.NoError(t, e.v.AddStrategy(ctx, gov, l, 10_000, nil, nil))
	e.deposit(t, bob, 10_000)
	_, err := e.v.Harvest(ctx, keeper, l.Address())
	require.NoError(t, err)

	_, err = e.v.Withdraw(ctx, bob, nil, bob.Address, 1)
	assert.True(t, errors.Is(err, domain.ErrSlippage))

	// The redeemed 9880 now sits in idle; the remaining 120 of debt is
	// gone, so a 150 bps bound clears.
	res, err := e.v.Withdraw(ctx, bob, nil, bob.Address, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(9_880), res.Paid.Int64())
}

func TestLenderEmergencyExitAndMigration(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, PoolConfig{Name: "aave"})
	l := NewLender("l", e.v, e.tok, e.pool, Trigger{})
	r := NewReserve("r", e.v, e.tok, Trigger{})
	require.NoError(t, e.v.AddStrategy(ctx, gov, l, 6_000, nil, nil))
	e.deposit(t, bob, 1_000)
	_, err := e.v.Harvest(ctx, keeper, l.Address())
	require.NoError(t, err)

	res, err := e.v.MigrateStrategy(ctx, gov, l.Address(), r)
	require.NoError(t, err)
	assert.Equal(t, int64(600), res.Delivered.Int64())
	assert.Zero(t, e.pool.BalanceOf(l.Address()).Sign())

	require.NoError(t, e.v.SetEmergencyExit(ctx, gov, r.Address()))
	assert.True(t, r.EmergencyExit())
	rep, err := e.v.Harvest(ctx, keeper, r.Address())
	require.NoError(t, err)
	assert.Equal(t, int64(600), rep.Repaid.Int64())
	assert.Equal(t, int64(1_000), e.v.Snapshot().Idle.Int64())
}

func TestHarvestTrigger(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, PoolConfig{Name: "aave"})
	l := NewLender("l", e.v, e.tok, e.pool, Trigger{
		MinReportDelay: time.Hour,
		MaxReportDelay: 24 * time.Hour,
		DebtThreshold:  big.NewInt(100),
	})

	assert.False(t, l.HarvestTrigger(ctx, e.now), "not registered")
	require.NoError(t, e.v.AddStrategy(ctx, gov, l, 10_000, nil, nil))

	e.deposit(t, bob, 50)
	assert.False(t, l.HarvestTrigger(ctx, e.now.Add(2*time.Hour)), "credit below threshold")
	assert.False(t, l.HarvestTrigger(ctx, e.now.Add(30*time.Minute)), "too soon")

	e.deposit(t, bob, 1000)
	assert.True(t, l.HarvestTrigger(ctx, e.now.Add(2*time.Hour)), "credit above threshold")
	assert.True(t, l.HarvestTrigger(ctx, e.now.Add(25*time.Hour)), "max delay")
}

func TestRegistryAndBuild(t *testing.T) {
	e := newEnv(t, PoolConfig{Name: "aave"})
	pools := map[string]*SimPool{"aave": e.pool}

	l, err := Build(Config{Name: "l", Kind: KindLender, Pool: "aave"}, e.v, e.tok, pools)
	require.NoError(t, err)
	r, err := Build(Config{Name: "r", Kind: KindReserve}, e.v, e.tok, pools)
	require.NoError(t, err)
	_, err = Build(Config{Name: "x", Kind: KindLender, Pool: "nope"}, e.v, e.tok, pools)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = Build(Config{Name: "y", Kind: "farm"}, e.v, e.tok, pools)
	assert.True(t, errors.Is(err, domain.ErrInvalidParam))

	reg := NewRegistry()
	require.NoError(t, reg.Register(r))
	require.NoError(t, reg.Register(l))
	assert.True(t, errors.Is(reg.Register(l), domain.ErrAlreadyExists))
	assert.Equal(t, []string{"l", "r"}, reg.List())

	got, err := reg.ByAddress(l.Address())
	require.NoError(t, err)
	assert.Equal(t, "l", got.Name())
	_, err = reg.Get("missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	infos := reg.ListInfo()
	require.Len(t, infos, 2)
	assert.Equal(t, KindLender, infos[0].Kind)
	assert.Equal(t, e.v.Address(), l.Vault())
}
