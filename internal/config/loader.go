package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies YIELDVAULT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known YIELDVAULT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. Secrets
// are expected to arrive this way rather than through the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Vault ──
	setStr(&cfg.Vault.DepositLimit, "YIELDVAULT_VAULT_DEPOSIT_LIMIT")
	setUint64(&cfg.Vault.PerformanceFeeBps, "YIELDVAULT_VAULT_PERFORMANCE_FEE_BPS")
	setStr(&cfg.Vault.Rewards, "YIELDVAULT_VAULT_REWARDS")
	setUint64(&cfg.Vault.DefaultMaxLossBps, "YIELDVAULT_VAULT_DEFAULT_MAX_LOSS_BPS")

	// ── Signer ──
	setStr(&cfg.Signer.PrivateKey, "YIELDVAULT_SIGNER_PRIVATE_KEY")
	setStr(&cfg.Signer.EncryptedKeyPath, "YIELDVAULT_SIGNER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Signer.KeyPassword, "YIELDVAULT_SIGNER_KEY_PASSWORD")

	// ── Keeper ──
	setBool(&cfg.Keeper.Enabled, "YIELDVAULT_KEEPER_ENABLED")
	setDuration(&cfg.Keeper.Interval, "YIELDVAULT_KEEPER_INTERVAL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "YIELDVAULT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "YIELDVAULT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform convention
	setStr(&cfg.Postgres.Host, "YIELDVAULT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "YIELDVAULT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "YIELDVAULT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "YIELDVAULT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "YIELDVAULT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "YIELDVAULT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "YIELDVAULT_POSTGRES_POOL_MAX_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "YIELDVAULT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "YIELDVAULT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "YIELDVAULT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "YIELDVAULT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "YIELDVAULT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "YIELDVAULT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "YIELDVAULT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "YIELDVAULT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "YIELDVAULT_S3_REGION")
	setStr(&cfg.S3.Bucket, "YIELDVAULT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "YIELDVAULT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "YIELDVAULT_S3_SECRET_KEY")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "YIELDVAULT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "YIELDVAULT_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "YIELDVAULT_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "YIELDVAULT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "YIELDVAULT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "YIELDVAULT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "YIELDVAULT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "YIELDVAULT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "YIELDVAULT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "YIELDVAULT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "YIELDVAULT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "YIELDVAULT_MODE")
	setStr(&cfg.LogLevel, "YIELDVAULT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
