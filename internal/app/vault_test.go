package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldvault/internal/config"
	"github.com/alanyoungcy/yieldvault/internal/domain"
)

type memStates struct {
	stored *domain.VaultState
	saved  []*domain.VaultState
}

func (m *memStates) Save(_ context.Context, s *domain.VaultState) error {
	m.saved = append(m.saved, s)
	return nil
}

func (m *memStates) Load(context.Context, common.Address) (*domain.VaultState, error) {
	if m.stored == nil {
		return nil, domain.ErrNotFound
	}
	return m.stored, nil
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Token.Balances = map[string]string{
		"0x00000000000000000000000000000000000000b0": "1_000",
	}
	cfg.Pools = []config.PoolConfig{{Name: "lend", APRBps: 500}}
	cfg.Strategies = []config.StrategyConfig{
		{Name: "reserve", Kind: "reserve", Attach: true, DebtRatio: 4_000},
		{Name: "lender", Kind: "lender", Pool: "lend"},
	}
	return &cfg
}

func TestBuildVault(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()

	rt, err := buildVault(context.Background(), cfg, &Dependencies{}, logger)
	require.NoError(t, err)

	holder := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	bal, err := rt.token.BalanceOf(context.Background(), holder)
	require.NoError(t, err)
	assert.Equal(t, "1000", bal.String())

	state := rt.vault.Snapshot()
	assert.Equal(t, vaultAddress(cfg), state.Vault)
	require.Len(t, state.Queue, 1)
	reserve, err := rt.strategies.Get("reserve")
	require.NoError(t, err)
	assert.Equal(t, reserve.Address(), state.Queue[0])
	assert.Equal(t, uint64(4_000), state.Strategies[reserve.Address()].DebtRatio)

	assert.ElementsMatch(t, []string{"lender", "reserve"}, rt.strategies.List())
	assert.Len(t, rt.pools, 1)
}

func TestBuildVaultSeedsStoredVersion(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	states := &memStates{stored: &domain.VaultState{Version: 9}}

	rt, err := buildVault(context.Background(), cfg, &Dependencies{StateStore: states}, logger)
	require.NoError(t, err)
	// One commit for the attached strategy.
	assert.Equal(t, uint64(10), rt.vault.Snapshot().Version)
	require.NotEmpty(t, states.saved)
	assert.Equal(t, uint64(10), states.saved[len(states.saved)-1].Version)
}

func TestBuildVaultRejectsBadConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := testConfig()
	cfg.Strategies[1].Pool = "missing"
	_, err := buildVault(context.Background(), cfg, &Dependencies{}, logger)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	cfg = testConfig()
	cfg.Token.Balances["0x00000000000000000000000000000000000000b1"] = "-1"
	_, err = buildVault(context.Background(), cfg, &Dependencies{}, logger)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Roles = map[string][]string{"overlord": {"0x00000000000000000000000000000000000000b0"}}
	_, err = buildVault(context.Background(), cfg, &Dependencies{}, logger)
	assert.Error(t, err)
}
