// Package config defines the top-level configuration for marketsync and
// provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETSYNC_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Sync     SyncConfig     `toml:"sync"`
	Stats    StatsConfig    `toml:"stats"`
	Listener ListenerConfig `toml:"listener"`
	Telegram TelegramConfig `toml:"telegram"`
	Discord  DiscordConfig  `toml:"discord"`
	Advisor  AdvisorConfig  `toml:"advisor"`
	Postgres PostgresConfig `toml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Redis    RedisConfig    `toml:"redis"`
	Badger   BadgerConfig   `toml:"badger"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Metrics  MetricsConfig  `toml:"metrics"`

	Mode string `toml:"mode"`
	// StoreBackend selects the event store: "postgres" or "sqlite".
	StoreBackend string `toml:"store_backend"`

	LogLevel      string `toml:"log_level"`
	LogFile       string `toml:"log_file"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups"`
	LogMaxAgeDays int    `toml:"log_max_age_days"`
}

// ChainConfig holds the RPC endpoint, the market contract and the admin key.
type ChainConfig struct {
	RPCURL          string   `toml:"rpc_url"`
	ChainID         int64    `toml:"chain_id"`
	ContractAddress string   `toml:"contract_address"`
	DeploymentBlock uint64   `toml:"deployment_block"`
	ExplorerURL     string   `toml:"explorer_url"`
	CallTimeout     duration `toml:"call_timeout"`

	AdminPrivateKey string `toml:"admin_private_key"`
	AdminKeyFile    string `toml:"admin_key_file"`
	AdminKeyPass    string `toml:"admin_key_password"`
}

// SyncConfig tunes the event sync loop and the log scanner.
type SyncConfig struct {
	Interval         duration `toml:"interval"`
	RangeSize        uint64   `toml:"range_size"`
	MaxPassesPerTick int      `toml:"max_passes_per_tick"`
	CursorKey        string   `toml:"cursor_key"`
	ChunkSize        uint64   `toml:"chunk_size"`
	ActorChunkSize   uint64   `toml:"actor_chunk_size"`
	MinChunkSize     uint64   `toml:"min_chunk_size"`
	RequestInterval  duration `toml:"request_interval"`
	MaxRetries       int      `toml:"max_retries"`
	RetryBackoff     duration `toml:"retry_backoff"`
	HeadCacheTTL     duration `toml:"head_cache_ttl"`
	LockTTL          duration `toml:"lock_ttl"`
	Archive          bool     `toml:"archive"`
	ArchivePrefix    string   `toml:"archive_prefix"`
}

// StatsConfig tunes the user statistics aggregator.
type StatsConfig struct {
	CacheTTL    duration `toml:"cache_ttl"`
	Concurrency int      `toml:"concurrency"`
	// ProbeAllMarkets reads the share balance of every market so markets
	// whose events were missed still count. Disabling it limits balance
	// reads to markets seen in events.
	ProbeAllMarkets bool `toml:"probe_all_markets"`
	// ChainFallback enables the chain log scan when the store has no events.
	ChainFallback bool `toml:"chain_fallback"`
}

// ListenerConfig tunes the market poll loop.
type ListenerConfig struct {
	PollInterval duration `toml:"poll_interval"`
	// SeedOnStart marks markets present at startup as already announced.
	SeedOnStart bool `toml:"seed_on_start"`
	// StateStore selects durable listener state: "redis", "badger" or "memory".
	StateStore string `toml:"state_store"`
	Timezone   string `toml:"timezone"`
	SiteURL    string `toml:"site_url"`
}

// TelegramConfig holds the bot credentials and chat lists.
type TelegramConfig struct {
	BotToken     string  `toml:"bot_token"`
	APIURL       string  `toml:"api_url"`
	ChatIDs      []int64 `toml:"chat_ids"`
	AdminChatIDs []int64 `toml:"admin_chat_ids"`
	Commands     bool    `toml:"commands"`
	// WebhookSecret authenticates POST /api/telegram/webhook.
	WebhookSecret string `toml:"webhook_secret"`
}

// DiscordConfig configures the optional broadcast mirror.
type DiscordConfig struct {
	WebhookURL string `toml:"webhook_url"`
}

// AdvisorConfig configures the Gemini resolution advisor.
type AdvisorConfig struct {
	Enabled     bool     `toml:"enabled"`
	APIKey      string   `toml:"api_key"`
	Model       string   `toml:"model"`
	BaseURL     string   `toml:"base_url"`
	Timeout     duration `toml:"timeout"`
	Retries     int      `toml:"retries"`
	MaxAttempts int      `toml:"max_attempts"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// SQLiteConfig holds the local database path.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// BadgerConfig holds the embedded listener state database settings.
type BadgerConfig struct {
	Path string `toml:"path"`
	// EncryptionKey is hex; 16, 24 or 32 bytes once decoded.
	EncryptionKey string `toml:"encryption_key"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
	WebSocket   bool     `toml:"websocket"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// Dur builds a duration value for literals and tests.
func Dur(d time.Duration) duration { return duration{d} }

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

// Sonic mainnet deployment of the market contract.
const (
	SonicChainID          = 146
	SonicRPCURL           = "https://rpc.soniclabs.com"
	SonicExplorerURL      = "https://sonicscan.org"
	MarketContract        = "0xC04c1DE26F5b01151eC72183b5615635E609cC81"
	MarketDeploymentBlock = 56668150
)

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:          SonicRPCURL,
			ChainID:         SonicChainID,
			ContractAddress: MarketContract,
			DeploymentBlock: MarketDeploymentBlock,
			ExplorerURL:     SonicExplorerURL,
			CallTimeout:     duration{15 * time.Second},
		},
		Sync: SyncConfig{
			Interval:         duration{30 * time.Second},
			RangeSize:        5000,
			MaxPassesPerTick: 100,
			CursorKey:        "last_block",
			ChunkSize:        1000,
			ActorChunkSize:   50_000,
			MinChunkSize:     1,
			RequestInterval:  duration{50 * time.Millisecond},
			MaxRetries:       3,
			RetryBackoff:     duration{500 * time.Millisecond},
			HeadCacheTTL:     duration{5 * time.Second},
			LockTTL:          duration{5 * time.Minute},
			Archive:          true,
			ArchivePrefix:    "events",
		},
		Stats: StatsConfig{
			CacheTTL:        duration{30 * time.Second},
			Concurrency:     8,
			ProbeAllMarkets: true,
			ChainFallback:   true,
		},
		Listener: ListenerConfig{
			PollInterval: duration{60 * time.Second},
			SeedOnStart:  true,
			StateStore:   "badger",
			Timezone:     "America/New_York",
			SiteURL:      "https://degended.bet",
		},
		Telegram: TelegramConfig{
			APIURL:   "https://api.telegram.org",
			Commands: true,
		},
		Advisor: AdvisorConfig{
			Enabled:     true,
			Model:       "gemini-2.0-flash",
			BaseURL:     "https://generativelanguage.googleapis.com",
			Timeout:     duration{60 * time.Second},
			Retries:     2,
			MaxAttempts: 3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path: "data/marketsync.db",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "marketsync",
		},
		Badger: BadgerConfig{
			Path: "data/listener",
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "marketsync-events",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
			WebSocket:   true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Mode:          "full",
		StoreBackend:  "postgres",
		LogLevel:      "info",
		LogMaxSizeMB:  100,
		LogMaxBackups: 5,
		LogMaxAgeDays: 30,
	}
}

// Run modes.
const (
	ModeSync     = "sync"
	ModeListener = "listener"
	ModeServer   = "server"
	ModeFull     = "full"
)

var validModes = map[string]bool{
	ModeSync:     true,
	ModeListener: true,
	ModeServer:   true,
	ModeFull:     true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Runs reports whether the configured mode includes component, one of
// ModeSync, ModeListener or ModeServer.
func (c *Config) Runs(component string) bool {
	mode := strings.ToLower(c.Mode)
	return mode == ModeFull || mode == component
}

// Validate checks Config for obviously invalid or missing values and returns
// one error joining every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: sync, listener, server, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if c.Chain.RPCURL == "" {
		add("chain: rpc_url must not be empty")
	}
	if !common.IsHexAddress(c.Chain.ContractAddress) {
		add("chain: contract_address %q is not a hex address", c.Chain.ContractAddress)
	}
	if c.Chain.ChainID <= 0 {
		add("chain: chain_id must be positive")
	}
	if c.Chain.AdminKeyFile != "" && c.Chain.AdminKeyPass == "" {
		add("chain: admin_key_password is required when admin_key_file is set")
	}

	switch strings.ToLower(c.StoreBackend) {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	case "sqlite":
		if c.SQLite.Path == "" {
			add("sqlite: path must not be empty")
		}
	default:
		add("unknown store_backend %q (valid: postgres, sqlite)", c.StoreBackend)
	}

	if c.Runs(ModeSync) {
		if c.Sync.Interval.Duration <= 0 {
			add("sync: interval must be > 0")
		}
		if c.Sync.RangeSize == 0 {
			add("sync: range_size must be > 0")
		}
		if c.Sync.MinChunkSize == 0 || c.Sync.ChunkSize < c.Sync.MinChunkSize {
			add("sync: chunk_size must be >= min_chunk_size >= 1")
		}
	}

	if c.Runs(ModeListener) {
		if c.Telegram.BotToken == "" {
			add("telegram: bot_token is required for mode %s", c.Mode)
		}
		if c.Listener.PollInterval.Duration <= 0 {
			add("listener: poll_interval must be > 0")
		}
		switch c.Listener.StateStore {
		case "redis":
			if !c.Redis.Enabled {
				add("listener: state_store redis requires redis.enabled")
			}
		case "badger":
			if c.Badger.Path == "" {
				add("badger: path must not be empty")
			}
		case "memory":
		default:
			add("listener: unknown state_store %q (valid: redis, badger, memory)", c.Listener.StateStore)
		}
		if c.Advisor.Enabled && c.Advisor.MaxAttempts < 0 {
			add("advisor: max_attempts must be >= 0")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}

	if c.Runs(ModeServer) {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}
