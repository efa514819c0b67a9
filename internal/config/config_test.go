package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Telegram.BotToken = "123:abc"
	return cfg
}

func TestDefaultsValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int64(SonicChainID), cfg.Chain.ChainID)
	assert.Equal(t, uint64(MarketDeploymentBlock), cfg.Chain.DeploymentBlock)
	assert.Equal(t, uint64(5000), cfg.Sync.RangeSize)
	assert.Equal(t, uint64(1000), cfg.Sync.ChunkSize)
	assert.Equal(t, uint64(50_000), cfg.Sync.ActorChunkSize)
	assert.Equal(t, 5*time.Second, cfg.Sync.HeadCacheTTL.Duration)
	assert.Equal(t, 3, cfg.Advisor.MaxAttempts)
	assert.True(t, cfg.Stats.ProbeAllMarkets)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Chain.ContractAddress = "0x1234"
	cfg.StoreBackend = "mongo"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, `unknown log_level "loud"`)
	assert.Contains(t, msg, "contract_address")
	assert.Contains(t, msg, `unknown store_backend "mongo"`)
	// Mode is invalid, so no component-specific checks run.
	assert.NotContains(t, msg, "bot_token")
}

func TestValidateModeScopedChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = ModeSync
	require.NoError(t, cfg.Validate(), "sync mode does not need telegram")

	cfg.Mode = ModeListener
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram: bot_token")

	cfg = validConfig()
	cfg.Listener.StateStore = "redis"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires redis.enabled")
}

func TestRuns(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "FULL"
	assert.True(t, cfg.Runs(ModeSync))
	assert.True(t, cfg.Runs(ModeServer))

	cfg.Mode = ModeListener
	assert.True(t, cfg.Runs(ModeListener))
	assert.False(t, cfg.Runs(ModeSync))
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "sync"
store_backend = "sqlite"

[sync]
interval = "45s"
range_size = 2500

[sqlite]
path = "/tmp/events.db"
`), 0o600))

	t.Setenv("TELEGRAM_CHAT_IDS", "-100123, 42,bogus")
	t.Setenv("TELEGRAM_BOT_TOKEN", "alias-token")
	t.Setenv("MARKETSYNC_TELEGRAM_BOT_TOKEN", "prefixed-token")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/markets")
	t.Setenv("MARKETSYNC_SYNC_RANGE_SIZE", "1200")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeSync, cfg.Mode)
	assert.Equal(t, "sqlite", cfg.StoreBackend)
	assert.Equal(t, 45*time.Second, cfg.Sync.Interval.Duration)
	assert.Equal(t, uint64(1200), cfg.Sync.RangeSize, "env wins over file")
	assert.Equal(t, "/tmp/events.db", cfg.SQLite.Path)
	assert.Equal(t, []int64{-100123, 42}, cfg.Telegram.ChatIDs)
	assert.Equal(t, "prefixed-token", cfg.Telegram.BotToken)
	assert.Equal(t, "postgres://u:p@db/markets", cfg.Postgres.DSN)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, SonicRPCURL, cfg.Chain.RPCURL)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[sync\ninterval ="), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.AdminPrivateKey = "0xdeadbeef"
	cfg.Advisor.APIKey = "gemini"
	cfg.Postgres.DSN = "postgres://secret"
	cfg.Telegram.ChatIDs = []int64{1}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Chain.AdminPrivateKey)
	assert.Equal(t, "***", out.Telegram.BotToken)
	assert.Equal(t, "***", out.Advisor.APIKey)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Empty(t, out.S3.SecretKey, "empty secrets stay empty")

	out.Telegram.ChatIDs[0] = 99
	assert.Equal(t, int64(1), cfg.Telegram.ChatIDs[0])
	assert.Equal(t, "0xdeadbeef", cfg.Chain.AdminPrivateKey)
}
