// Package config defines the yieldvault configuration, its defaults and
// validation.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldvault/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by YIELDVAULT_* environment variables.
type Config struct {
	Vault      VaultConfig         `toml:"vault"`
	Token      TokenConfig         `toml:"token"`
	Roles      map[string][]string `toml:"roles"`
	Pools      []PoolConfig        `toml:"pools"`
	Strategies []StrategyConfig    `toml:"strategies"`
	Keeper     KeeperConfig        `toml:"keeper"`
	Signer     SignerConfig        `toml:"signer"`
	Postgres   PostgresConfig      `toml:"postgres"`
	Redis      RedisConfig         `toml:"redis"`
	S3         S3Config            `toml:"s3"`
	Archive    ArchiveConfig       `toml:"archive"`
	Server     ServerConfig        `toml:"server"`
	Notify     NotifyConfig        `toml:"notify"`
	Mode       string              `toml:"mode"`
	LogLevel   string              `toml:"log_level"`
}

// VaultConfig holds the vault's own parameters. Amounts are decimal strings
// in the token's smallest unit.
type VaultConfig struct {
	Name              string `toml:"name"`
	DepositLimit      string `toml:"deposit_limit"`
	PerformanceFeeBps uint64 `toml:"performance_fee_bps"`
	Rewards           string `toml:"rewards"`
	DefaultMaxLossBps uint64 `toml:"default_max_loss_bps"`
}

// TokenConfig describes the in-process asset token. Balances seeds holders
// at startup (address -> amount).
type TokenConfig struct {
	Symbol   string            `toml:"symbol"`
	Decimals uint8             `toml:"decimals"`
	Balances map[string]string `toml:"balances"`
}

// PoolConfig describes a simulated lending pool.
type PoolConfig struct {
	Name           string   `toml:"name"`
	APRBps         uint64   `toml:"apr_bps"`
	ExitFeeBps     uint64   `toml:"exit_fee_bps"`
	AccrueInterval duration `toml:"accrue_interval"`
}

// StrategyConfig describes one strategy. Attached strategies are added to
// the vault at startup; the others are only registered and can be added or
// used as migration targets later.
type StrategyConfig struct {
	Name              string   `toml:"name"`
	Kind              string   `toml:"kind"`
	Pool              string   `toml:"pool"`
	Attach            bool     `toml:"attach"`
	DebtRatio         uint64   `toml:"debt_ratio"`
	MinDebtPerHarvest string   `toml:"min_debt_per_harvest"`
	MaxDebtPerHarvest string   `toml:"max_debt_per_harvest"`
	MinReportDelay    duration `toml:"min_report_delay"`
	MaxReportDelay    duration `toml:"max_report_delay"`
	DebtThreshold     string   `toml:"debt_threshold"`
}

// KeeperConfig controls the harvest loop.
type KeeperConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	LockTTL  duration `toml:"lock_ttl"`
}

// SignerConfig holds the keeper's signing key.
type SignerConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
	// EventLogMaxLen caps each vault's event stream; 0 keeps 10,000.
	EventLogMaxLen int64 `toml:"event_log_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig schedules the cold-storage archive.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
	PruneReports  bool   `toml:"prune_reports"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey gates every route except /api/health when set.
	APIKey string `toml:"api_key"`
	// RateLimit is the number of requests per client per minute; 0 disables.
	RateLimit int `toml:"rate_limit"`
	// SignatureMaxAge bounds the age of a signed request's timestamp.
	SignatureMaxAge duration `toml:"signature_max_age"`
	// WSReplay is how many recent events a WebSocket client gets on connect.
	WSReplay int `toml:"ws_replay"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Modes.
const (
	// ModeServe runs the vault in-process with the API, keeper and archive.
	ModeServe = "serve"
	// ModeReadOnly serves cached or stored snapshots without a live vault.
	ModeReadOnly = "readonly"
	// ModeArchive only runs the archive schedule.
	ModeArchive = "archive"
)

// Defaults returns a Config populated with sensible default values. Callers
// typically decode a TOML file on top of this so that only overridden keys
// need to be specified.
func Defaults() Config {
	return Config{
		Vault: VaultConfig{
			Name:              "main",
			DefaultMaxLossBps: 1,
		},
		Token: TokenConfig{
			Symbol:   "USDC",
			Decimals: 6,
		},
		Keeper: KeeperConfig{
			Enabled:  true,
			Interval: duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "yieldvault",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       10,
			MaxRetries:     3,
			EventLogMaxLen: 10_000,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "yieldvault",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       120,
			SignatureMaxAge: duration{5 * time.Minute},
		},
		Mode:     ModeServe,
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	ModeServe:    true,
	ModeReadOnly: true,
	ModeArchive:  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: serve, readonly, archive)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Vault
	if _, err := c.Vault.DepositLimitAmount(); err != nil {
		add("vault: %v", err)
	}
	if c.Vault.PerformanceFeeBps > domain.MaxBPS/2 {
		add("vault: performance_fee_bps must be <= %d, got %d", domain.MaxBPS/2, c.Vault.PerformanceFeeBps)
	}
	if c.Vault.DefaultMaxLossBps > domain.MaxBPS {
		add("vault: default_max_loss_bps must be <= %d", domain.MaxBPS)
	}
	if c.Vault.Rewards != "" && !common.IsHexAddress(c.Vault.Rewards) {
		add("vault: rewards %q is not an address", c.Vault.Rewards)
	}

	// Token
	if c.Token.Symbol == "" {
		add("token: symbol must not be empty")
	}
	for holder, amount := range c.Token.Balances {
		if !common.IsHexAddress(holder) {
			add("token: balance holder %q is not an address", holder)
		}
		if _, err := ParseAmount(amount); err != nil {
			add("token: balance of %s: %v", holder, err)
		}
	}

	// Roles
	for role, addrs := range c.Roles {
		if domain.ParseRole(role) == 0 {
			add("roles: unknown role %q", role)
		}
		for _, a := range addrs {
			if !common.IsHexAddress(a) {
				add("roles: %s: %q is not an address", role, a)
			}
		}
	}

	// Pools and strategies
	pools := make(map[string]bool, len(c.Pools))
	for _, p := range c.Pools {
		if p.Name == "" {
			add("pools: name must not be empty")
		}
		if pools[p.Name] {
			add("pools: duplicate name %q", p.Name)
		}
		pools[p.Name] = true
		if p.ExitFeeBps > domain.MaxBPS {
			add("pools: %s: exit_fee_bps must be <= %d", p.Name, domain.MaxBPS)
		}
	}
	names := make(map[string]bool, len(c.Strategies))
	var attachedRatio uint64
	for _, s := range c.Strategies {
		if s.Name == "" {
			add("strategies: name must not be empty")
		}
		if names[s.Name] {
			add("strategies: duplicate name %q", s.Name)
		}
		names[s.Name] = true
		switch s.Kind {
		case "lender":
			if !pools[s.Pool] {
				add("strategies: %s: unknown pool %q", s.Name, s.Pool)
			}
		case "reserve":
		default:
			add("strategies: %s: unknown kind %q (valid: lender, reserve)", s.Name, s.Kind)
		}
		for field, v := range map[string]string{
			"min_debt_per_harvest": s.MinDebtPerHarvest,
			"max_debt_per_harvest": s.MaxDebtPerHarvest,
			"debt_threshold":       s.DebtThreshold,
		} {
			if v == "" {
				continue
			}
			if _, err := ParseAmount(v); err != nil {
				add("strategies: %s: %s: %v", s.Name, field, err)
			}
		}
		if s.DebtRatio > domain.MaxBPS {
			add("strategies: %s: debt_ratio %d above %d", s.Name, s.DebtRatio, domain.MaxBPS)
		} else if s.Attach {
			attachedRatio += s.DebtRatio
		}
	}
	if attachedRatio > domain.MaxBPS {
		add("strategies: attached debt ratios sum to %d, above %d", attachedRatio, domain.MaxBPS)
	}

	// Signer: the keeper needs a key in serve mode.
	if c.Mode == ModeServe && c.Keeper.Enabled {
		if c.Signer.PrivateKey == "" && c.Signer.EncryptedKeyPath == "" {
			add("signer: either private_key or encrypted_key_path must be set when the keeper is enabled")
		}
		if c.Keeper.Interval.Duration <= 0 {
			add("keeper: interval must be positive")
		}
	}
	if c.Signer.EncryptedKeyPath != "" && c.Signer.KeyPassword == "" {
		add("signer: key_password is required when encrypted_key_path is set")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	// S3 and archive
	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}
	if c.Archive.Enabled || c.Mode == ModeArchive {
		if !c.S3.Enabled || !c.Postgres.Enabled {
			add("archive: requires both postgres and s3 to be enabled")
		}
		if c.Archive.RetentionDays < 1 {
			add("archive: retention_days must be >= 1")
		}
		if len(strings.Fields(c.Archive.Cron)) != 5 {
			add("archive: cron must have 5 fields, got %q", c.Archive.Cron)
		}
	}

	// Read-only mode needs somewhere to read snapshots from.
	if c.Mode == ModeReadOnly && !c.Redis.Enabled && !c.Postgres.Enabled {
		add("readonly mode requires redis or postgres")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ParseAmount parses a non-negative decimal amount. Underscores may be used
// as digit separators.
func ParseAmount(s string) (*big.Int, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	v, ok := new(big.Int).SetString(clean, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// optionalAmount parses s, returning nil for the empty string.
func optionalAmount(s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return ParseAmount(s)
}

// DepositLimitAmount returns the configured limit, or nil for unlimited.
func (v VaultConfig) DepositLimitAmount() (*big.Int, error) {
	if strings.EqualFold(strings.TrimSpace(v.DepositLimit), "unlimited") {
		return nil, nil
	}
	return optionalAmount(v.DepositLimit)
}

// Amounts returns the parsed per-harvest bounds and trigger threshold; unset
// values are nil.
func (s StrategyConfig) Amounts() (minPerHarvest, maxPerHarvest, threshold *big.Int, err error) {
	if minPerHarvest, err = optionalAmount(s.MinDebtPerHarvest); err != nil {
		return nil, nil, nil, fmt.Errorf("strategy %s: min_debt_per_harvest: %w", s.Name, err)
	}
	if maxPerHarvest, err = optionalAmount(s.MaxDebtPerHarvest); err != nil {
		return nil, nil, nil, fmt.Errorf("strategy %s: max_debt_per_harvest: %w", s.Name, err)
	}
	if threshold, err = optionalAmount(s.DebtThreshold); err != nil {
		return nil, nil, nil, fmt.Errorf("strategy %s: debt_threshold: %w", s.Name, err)
	}
	return minPerHarvest, maxPerHarvest, threshold, nil
}
