package config

// RedactedConfig returns a copy of cfg with secrets replaced by "***", for
// logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Signer.PrivateKey)
	redact(&out.Signer.KeyPassword)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Slices and maps are copied so the redacted value shares nothing
	// mutable with cfg.
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Pools = append([]PoolConfig(nil), cfg.Pools...)
	out.Strategies = append([]StrategyConfig(nil), cfg.Strategies...)
	if cfg.Roles != nil {
		out.Roles = make(map[string][]string, len(cfg.Roles))
		for k, v := range cfg.Roles {
			out.Roles[k] = append([]string(nil), v...)
		}
	}
	if cfg.Token.Balances != nil {
		out.Token.Balances = make(map[string]string, len(cfg.Token.Balances))
		for k, v := range cfg.Token.Balances {
			out.Token.Balances[k] = v
		}
	}
	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
