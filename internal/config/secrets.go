package config

import "slices"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Chain.AdminPrivateKey)
	redact(&out.Chain.AdminKeyPass)

	redact(&out.Telegram.BotToken)
	redact(&out.Telegram.WebhookSecret)
	redact(&out.Discord.WebhookURL)
	redact(&out.Advisor.APIKey)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.Badger.EncryptionKey)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Telegram.ChatIDs = slices.Clone(cfg.Telegram.ChatIDs)
	out.Telegram.AdminChatIDs = slices.Clone(cfg.Telegram.AdminChatIDs)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
