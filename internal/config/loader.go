package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies environment variable overrides, and returns the
// final Config. An empty path, or a path that does not exist, skips the file
// so deployments can run from the environment alone. The returned Config has
// NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known environment variables and overwrites the
// corresponding Config fields when a variable is set. The unprefixed names
// used by existing bot deployments are applied first so MARKETSYNC_* wins.
func applyEnvOverrides(cfg *Config) {
	// ── Deployment aliases ──
	setStr(&cfg.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setInt64Slice(&cfg.Telegram.ChatIDs, "TELEGRAM_CHAT_IDS")
	setInt64Slice(&cfg.Telegram.AdminChatIDs, "TELEGRAM_ADMIN_CHAT_ID")
	setStr(&cfg.Advisor.APIKey, "GEMINI_API_KEY")
	setStr(&cfg.Chain.AdminPrivateKey, "PRIVATE_KEY")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Listener.SiteURL, "SITE_URL")
	setStr(&cfg.Chain.RPCURL, "NEXT_PUBLIC_SONIC_RPC_URL")
	setStr(&cfg.Chain.ContractAddress, "NEXT_PUBLIC_CONTRACT_ADDRESS")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "MARKETSYNC_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "MARKETSYNC_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.ContractAddress, "MARKETSYNC_CHAIN_CONTRACT_ADDRESS")
	setUint64(&cfg.Chain.DeploymentBlock, "MARKETSYNC_CHAIN_DEPLOYMENT_BLOCK")
	setStr(&cfg.Chain.ExplorerURL, "MARKETSYNC_CHAIN_EXPLORER_URL")
	setDuration(&cfg.Chain.CallTimeout, "MARKETSYNC_CHAIN_CALL_TIMEOUT")
	setStr(&cfg.Chain.AdminPrivateKey, "MARKETSYNC_CHAIN_ADMIN_PRIVATE_KEY")
	setStr(&cfg.Chain.AdminKeyFile, "MARKETSYNC_CHAIN_ADMIN_KEY_FILE")
	setStr(&cfg.Chain.AdminKeyPass, "MARKETSYNC_CHAIN_ADMIN_KEY_PASSWORD")

	// ── Sync ──
	setDuration(&cfg.Sync.Interval, "MARKETSYNC_SYNC_INTERVAL")
	setUint64(&cfg.Sync.RangeSize, "MARKETSYNC_SYNC_RANGE_SIZE")
	setInt(&cfg.Sync.MaxPassesPerTick, "MARKETSYNC_SYNC_MAX_PASSES_PER_TICK")
	setUint64(&cfg.Sync.ChunkSize, "MARKETSYNC_SYNC_CHUNK_SIZE")
	setUint64(&cfg.Sync.ActorChunkSize, "MARKETSYNC_SYNC_ACTOR_CHUNK_SIZE")
	setDuration(&cfg.Sync.RequestInterval, "MARKETSYNC_SYNC_REQUEST_INTERVAL")
	setInt(&cfg.Sync.MaxRetries, "MARKETSYNC_SYNC_MAX_RETRIES")
	setBool(&cfg.Sync.Archive, "MARKETSYNC_SYNC_ARCHIVE")

	// ── Stats ──
	setDuration(&cfg.Stats.CacheTTL, "MARKETSYNC_STATS_CACHE_TTL")
	setInt(&cfg.Stats.Concurrency, "MARKETSYNC_STATS_CONCURRENCY")
	setBool(&cfg.Stats.ProbeAllMarkets, "MARKETSYNC_STATS_PROBE_ALL_MARKETS")
	setBool(&cfg.Stats.ChainFallback, "MARKETSYNC_STATS_CHAIN_FALLBACK")

	// ── Listener ──
	setDuration(&cfg.Listener.PollInterval, "MARKETSYNC_LISTENER_POLL_INTERVAL")
	setBool(&cfg.Listener.SeedOnStart, "MARKETSYNC_LISTENER_SEED_ON_START")
	setStr(&cfg.Listener.StateStore, "MARKETSYNC_LISTENER_STATE_STORE")
	setStr(&cfg.Listener.Timezone, "MARKETSYNC_LISTENER_TIMEZONE")
	setStr(&cfg.Listener.SiteURL, "MARKETSYNC_LISTENER_SITE_URL")

	// ── Telegram ──
	setStr(&cfg.Telegram.BotToken, "MARKETSYNC_TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Telegram.APIURL, "MARKETSYNC_TELEGRAM_API_URL")
	setInt64Slice(&cfg.Telegram.ChatIDs, "MARKETSYNC_TELEGRAM_CHAT_IDS")
	setInt64Slice(&cfg.Telegram.AdminChatIDs, "MARKETSYNC_TELEGRAM_ADMIN_CHAT_IDS")
	setBool(&cfg.Telegram.Commands, "MARKETSYNC_TELEGRAM_COMMANDS")
	setStr(&cfg.Telegram.WebhookSecret, "MARKETSYNC_TELEGRAM_WEBHOOK_SECRET")

	// ── Discord ──
	setStr(&cfg.Discord.WebhookURL, "MARKETSYNC_DISCORD_WEBHOOK_URL")

	// ── Advisor ──
	setBool(&cfg.Advisor.Enabled, "MARKETSYNC_ADVISOR_ENABLED")
	setStr(&cfg.Advisor.APIKey, "MARKETSYNC_ADVISOR_API_KEY")
	setStr(&cfg.Advisor.Model, "MARKETSYNC_ADVISOR_MODEL")
	setInt(&cfg.Advisor.MaxAttempts, "MARKETSYNC_ADVISOR_MAX_ATTEMPTS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MARKETSYNC_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MARKETSYNC_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MARKETSYNC_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MARKETSYNC_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MARKETSYNC_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MARKETSYNC_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MARKETSYNC_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MARKETSYNC_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MARKETSYNC_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MARKETSYNC_POSTGRES_RUN_MIGRATIONS")

	// ── SQLite ──
	setStr(&cfg.SQLite.Path, "MARKETSYNC_SQLITE_PATH")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "MARKETSYNC_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MARKETSYNC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETSYNC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETSYNC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKETSYNC_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "MARKETSYNC_REDIS_TLS_ENABLED")

	// ── Badger ──
	setStr(&cfg.Badger.Path, "MARKETSYNC_BADGER_PATH")
	setStr(&cfg.Badger.EncryptionKey, "MARKETSYNC_BADGER_ENCRYPTION_KEY")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "MARKETSYNC_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MARKETSYNC_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARKETSYNC_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARKETSYNC_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARKETSYNC_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARKETSYNC_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARKETSYNC_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARKETSYNC_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "MARKETSYNC_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MARKETSYNC_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "MARKETSYNC_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "MARKETSYNC_SERVER_RATE_LIMIT")
	setBool(&cfg.Server.WebSocket, "MARKETSYNC_SERVER_WEBSOCKET")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "MARKETSYNC_METRICS_ENABLED")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARKETSYNC_MODE")
	setStr(&cfg.StoreBackend, "MARKETSYNC_STORE_BACKEND")
	setStr(&cfg.LogLevel, "MARKETSYNC_LOG_LEVEL")
	setStr(&cfg.LogFile, "MARKETSYNC_LOG_FILE")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		if cleaned := splitList(v); len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setInt64Slice parses a comma-separated list of chat ids. Entries that do not
// parse are skipped.
func setInt64Slice(dst *[]int64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var ids []int64
	for _, p := range splitList(v) {
		if n, err := strconv.ParseInt(p, 10, 64); err == nil {
			ids = append(ids, n)
		}
	}
	if len(ids) > 0 {
		*dst = ids
	}
}
