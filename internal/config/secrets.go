package config

const redacted = "***"

// Redacted returns a deep-enough copy of the config with all secret material
// replaced by a placeholder, suitable for logging at startup.
func (c *Config) Redacted() Config {
	out := *c

	// Copy reference types so redaction never touches the live config.
	out.Evm.Vaults = make(map[string]string, len(c.Evm.Vaults))
	for k, v := range c.Evm.Vaults {
		out.Evm.Vaults[k] = v
	}
	out.Scanner.Universe = append([]PairConfig(nil), c.Scanner.Universe...)
	out.Agents = append([]AgentConfig(nil), c.Agents...)

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	return out
}

// redact replaces a non-empty secret with the placeholder. Empty values stay
// empty so the log still shows which credentials were configured.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
