package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "serve"
log_level = "debug"

[vault]
deposit_limit = "1_000_000_000"
performance_fee_bps = 1000
rewards = "0x0000000000000000000000000000000000000a05"

[token]
symbol = "DAI"
decimals = 18
[token.balances]
"0x0000000000000000000000000000000000000b01" = "5000"

[roles]
governance = ["0x0000000000000000000000000000000000000a01"]
keeper = ["0x0000000000000000000000000000000000000a04"]

[[pools]]
name = "aave-sim"
apr_bps = 500
accrue_interval = "10s"

[[strategies]]
name = "lender"
kind = "lender"
pool = "aave-sim"
attach = true
debt_ratio = 6000
max_report_delay = "24h"

[[strategies]]
name = "reserve"
kind = "reserve"

[signer]
private_key = "deadbeef"

[keeper]
interval = "30s"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, uint64(1000), cfg.Vault.PerformanceFeeBps)
	assert.Equal(t, uint64(1), cfg.Vault.DefaultMaxLossBps, "default kept")
	assert.Equal(t, uint8(18), cfg.Token.Decimals)
	assert.Equal(t, "5000", cfg.Token.Balances["0x0000000000000000000000000000000000000b01"])
	require.Len(t, cfg.Pools, 1)
	assert.Equal(t, 10*time.Second, cfg.Pools[0].AccrueInterval.Duration)
	require.Len(t, cfg.Strategies, 2)
	assert.Equal(t, 24*time.Hour, cfg.Strategies[0].MaxReportDelay.Duration)
	assert.Equal(t, 30*time.Second, cfg.Keeper.Interval.Duration)
	assert.Equal(t, 8000, cfg.Server.Port)

	limit, err := cfg.Vault.DepositLimitAmount()
	require.NoError(t, err)
	assert.Equal(t, "1000000000", limit.String())

	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("YIELDVAULT_SERVER_PORT", "9100")
	t.Setenv("YIELDVAULT_VAULT_DEFAULT_MAX_LOSS_BPS", "150")
	t.Setenv("YIELDVAULT_NOTIFY_EVENTS", "harvest, emergency_shutdown ,")
	t.Setenv("YIELDVAULT_KEEPER_INTERVAL", "5m")
	t.Setenv("YIELDVAULT_POSTGRES_PORT", "not-a-number")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, uint64(150), cfg.Vault.DefaultMaxLossBps)
	assert.Equal(t, []string{"harvest", "emergency_shutdown"}, cfg.Notify.Events)
	assert.Equal(t, 5*time.Minute, cfg.Keeper.Interval.Duration)
	assert.Equal(t, 5432, cfg.Postgres.Port, "unparsable override ignored")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults without keeper", func(c *Config) { c.Keeper.Enabled = false }, ""},
		{"bad mode", func(c *Config) { c.Keeper.Enabled = false; c.Mode = "trade" }, `unknown mode "trade"`},
		{"keeper needs signer", func(c *Config) {}, "signer: either private_key"},
		{"fee too high", func(c *Config) {
			c.Keeper.Enabled = false
			c.Vault.PerformanceFeeBps = 6000
		}, "performance_fee_bps must be <= 5000"},
		{"bad deposit limit", func(c *Config) {
			c.Keeper.Enabled = false
			c.Vault.DepositLimit = "-5"
		}, "invalid amount"},
		{"unknown role", func(c *Config) {
			c.Keeper.Enabled = false
			c.Roles = map[string][]string{"admin": {"0x0000000000000000000000000000000000000a01"}}
		}, `unknown role "admin"`},
		{"lender without pool", func(c *Config) {
			c.Keeper.Enabled = false
			c.Strategies = []StrategyConfig{{Name: "l", Kind: "lender", Pool: "nope"}}
		}, `unknown pool "nope"`},
		{"attached ratios over 100%", func(c *Config) {
			c.Keeper.Enabled = false
			c.Strategies = []StrategyConfig{
				{Name: "a", Kind: "reserve", Attach: true, DebtRatio: 6000},
				{Name: "b", Kind: "reserve", Attach: true, DebtRatio: 5000},
			}
		}, "attached debt ratios sum to 11000"},
		{"ratio that would wrap", func(c *Config) {
			c.Keeper.Enabled = false
			c.Strategies = []StrategyConfig{
				{Name: "a", Kind: "reserve", Attach: true, DebtRatio: 1},
				{Name: "b", Kind: "reserve", Attach: true, DebtRatio: math.MaxUint64},
			}
		}, "b: debt_ratio 18446744073709551615 above 10000"},
		{"archive needs stores", func(c *Config) {
			c.Mode = ModeArchive
		}, "archive: requires both postgres and s3"},
		{"readonly needs a source", func(c *Config) {
			c.Mode = ModeReadOnly
		}, "readonly mode requires redis or postgres"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount(" 1_000 ")
	require.NoError(t, err)
	assert.Equal(t, "1000", v.String())

	for _, bad := range []string{"", "1.5", "-1", "abc"} {
		_, err := ParseAmount(bad)
		assert.Error(t, err, bad)
	}

	limit, err := VaultConfig{DepositLimit: "unlimited"}.DepositLimitAmount()
	require.NoError(t, err)
	assert.Nil(t, limit)
}

func TestStrategyAmounts(t *testing.T) {
	minH, maxH, threshold, err := StrategyConfig{Name: "s", MaxDebtPerHarvest: "500", DebtThreshold: "10"}.Amounts()
	require.NoError(t, err)
	assert.Nil(t, minH)
	assert.Equal(t, "500", maxH.String())
	assert.Equal(t, "10", threshold.String())

	_, _, _, err = StrategyConfig{Name: "s", MinDebtPerHarvest: "x"}.Amounts()
	assert.ErrorContains(t, err, "strategy s: min_debt_per_harvest")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Signer.PrivateKey = "secret"
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "key"
	cfg.Roles = map[string][]string{"governance": {"0x01"}}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Signer.PrivateKey)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Redis.Password, "empty values stay empty")
	assert.Equal(t, "secret", cfg.Signer.PrivateKey)

	out.Roles["governance"][0] = "changed"
	assert.Equal(t, "0x01", cfg.Roles["governance"][0])
}
