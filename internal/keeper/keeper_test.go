package keeper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldvault/internal/crypto"
	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/alanyoungcy/yieldvault/internal/strategy"
	"github.com/alanyoungcy/yieldvault/internal/token"
	"github.com/alanyoungcy/yieldvault/internal/vault"
)

var (
	gov        = domain.Caller{Address: common.HexToAddress("0x0a01"), Roles: domain.RoleGovernance}
	keeperRole = domain.Caller{Address: common.HexToAddress("0x0a04"), Roles: domain.RoleKeeper}
	alice      = domain.Caller{Address: common.HexToAddress("0x0b02")}
)

type stubLocks struct {
	vault    common.Address
	held     bool
	err      error
	acquired int
	released int
}

func (s *stubLocks) Acquire(_ context.Context, vault common.Address, _ time.Duration) (func(), error) {
	s.vault = vault
	if s.err != nil {
		return nil, s.err
	}
	if s.held {
		return nil, fmt.Errorf("redis: harvest lock %s: %w", vault.Hex(), domain.ErrLockHeld)
	}
	s.acquired++
	return func() { s.released++ }, nil
}

type failingHarvester struct{}

func (failingHarvester) Harvest(context.Context, domain.Caller, common.Address) (domain.HarvestReport, error) {
	return domain.HarvestReport{}, errors.New("boom")
}

type setup struct {
	v        *vault.Vault
	tok      *token.Memory
	reg      *strategy.Registry
	reserves []*strategy.Reserve
}

func newSetup(t *testing.T, ratios ...uint64) *setup {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tok := token.NewMemory("DAI", 18)
	v, err := vault.New(vault.Config{Address: crypto.DeriveAddress("vault:keeper"), Logger: logger}, tok)
	require.NoError(t, err)

	s := &setup{v: v, tok: tok, reg: strategy.NewRegistry()}
	ctx := context.Background()
	tok.Mint(alice.Address, big.NewInt(10_000))
	_, err = v.Deposit(ctx, alice, big.NewInt(10_000))
	require.NoError(t, err)

	for i, ratio := range ratios {
		r := strategy.NewReserve("reserve-"+string(rune('a'+i)), v, tok, strategy.Trigger{})
		require.NoError(t, s.reg.Register(r))
		require.NoError(t, v.AddStrategy(ctx, gov, r, ratio, nil, nil))
		s.reserves = append(s.reserves, r)
	}
	return s
}

func (s *setup) keeper(locks domain.LockManager, h Harvester) *Keeper {
	if h == nil {
		h = s.v
	}
	return New(s.v, h, s.reg, locks, keeperRole, Config{Interval: time.Hour},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTickHarvestsDueStrategies(t *testing.T) {
	s := newSetup(t, 3000, 2000)
	locks := &stubLocks{}
	k := s.keeper(locks, nil)

	n, err := k.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, locks.acquired)
	assert.Equal(t, 1, locks.released)
	assert.Equal(t, s.v.Address(), locks.vault)

	snap := s.v.Snapshot()
	assert.Equal(t, "5000", snap.TotalDebt.String())
	assert.Equal(t, "5000", snap.Idle.String())

	// Fully allocated with nothing outstanding: no trigger fires.
	n, err = k.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTickSkipsWhenLockHeld(t *testing.T) {
	s := newSetup(t, 3000)
	k := s.keeper(&stubLocks{held: true}, nil)

	n, err := k.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "0", s.v.Snapshot().TotalDebt.String())
}

func TestTickLockError(t *testing.T) {
	s := newSetup(t, 3000)
	k := s.keeper(&stubLocks{err: errors.New("redis down")}, nil)

	_, err := k.Tick(context.Background())
	assert.ErrorContains(t, err, "redis down")
}

func TestTickContinuesPastFailures(t *testing.T) {
	s := newSetup(t, 3000, 2000)
	k := s.keeper(nil, failingHarvester{})

	n, err := k.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunRequiresHarvestRole(t *testing.T) {
	s := newSetup(t)
	k := New(s.v, s.v, s.reg, nil, alice, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := k.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newSetup(t)
	k := s.keeper(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, k.Run(ctx), context.Canceled)
}
