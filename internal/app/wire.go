package app

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/degended/marketsync/internal/advisor"
	s3blob "github.com/degended/marketsync/internal/blob/s3"
	"github.com/degended/marketsync/internal/cache/local"
	"github.com/degended/marketsync/internal/cache/redis"
	"github.com/degended/marketsync/internal/chain"
	"github.com/degended/marketsync/internal/config"
	"github.com/degended/marketsync/internal/crypto"
	"github.com/degended/marketsync/internal/domain"
	"github.com/degended/marketsync/internal/metrics"
	"github.com/degended/marketsync/internal/notify"
	"github.com/degended/marketsync/internal/server/handler"
	"github.com/degended/marketsync/internal/server/middleware"
	"github.com/degended/marketsync/internal/state/badger"
	"github.com/degended/marketsync/internal/store/postgres"
	"github.com/degended/marketsync/internal/store/sqlite"
)

// Dependencies bundles every concrete collaborator the run modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Chain
	Chain    *chain.Client
	Scanner  *chain.Scanner
	Resolver domain.MarketResolver // nil without an admin key

	// Storage
	Store         domain.SyncStore
	ListenerStore domain.ListenerStateStore // nil keeps listener state in memory
	Archiver      domain.EventArchiver      // nil unless S3 is enabled

	// Caches
	StatsCache  domain.StatsCache // nil selects the in-process cache
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Notifications
	Telegram *notify.TelegramClient
	Mirrors  []notify.Sender
	Advisor  *advisor.Gemini

	Metrics *metrics.Metrics
	// Checks are probed by GET /api/health.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them together with a cleanup function that releases them in
// reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New()
	}

	// --- Chain ---
	dialTimeout := cfg.Chain.CallTimeout.Duration
	if dialTimeout <= 0 {
		dialTimeout = 15 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	client, err := chain.Dial(dialCtx, cfg.Chain.RPCURL, cfg.Chain.ContractAddress)
	cancel()
	if err != nil {
		return fail(fmt.Errorf("wire: chain: %w", err))
	}
	closers = append(closers, client.Close)
	deps.Chain = client
	deps.Scanner = chain.NewScanner(client.Backend(), chain.ScanConfig{
		ChunkSize:       cfg.Sync.ChunkSize,
		ActorChunkSize:  cfg.Sync.ActorChunkSize,
		MinChunkSize:    cfg.Sync.MinChunkSize,
		RequestInterval: cfg.Sync.RequestInterval.Duration,
		MaxRetries:      cfg.Sync.MaxRetries,
		RetryBackoff:    cfg.Sync.RetryBackoff.Duration,
		HeadCacheTTL:    cfg.Sync.HeadCacheTTL.Duration,
	}, logger)
	deps.Checks["chain"] = func(ctx context.Context) error {
		_, err := deps.Scanner.Head(ctx)
		return err
	}

	resolver, err := wireResolver(cfg, client, logger)
	if err != nil {
		return fail(err)
	}
	deps.Resolver = resolver

	// --- Event store ---
	switch strings.ToLower(cfg.StoreBackend) {
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLite.Path, cfg.Chain.DeploymentBlock)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = st.Close() })
		deps.Store = st
		deps.Checks["sqlite"] = st.Ping
	default:
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Store = postgres.NewEventStore(pg.Pool(), cfg.Chain.DeploymentBlock)
		deps.Checks["postgres"] = pg.Ping
	}

	// --- Redis (optional) ---
	var rc *redis.Client
	if cfg.Redis.Enabled {
		rc, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.StatsCache = redis.NewStatsCache(rc)
		deps.LockManager = redis.NewLockManager(rc)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.SignalBus = redis.NewSignalBus(rc)
		deps.Checks["redis"] = rc.Ping
	} else {
		deps.RateLimiter = middleware.NewLocalLimiter()
		deps.SignalBus = local.NewSignalBus()
	}

	// --- Listener state ---
	if cfg.Runs(config.ModeListener) {
		switch cfg.Listener.StateStore {
		case "redis":
			deps.ListenerStore = redis.NewListenerState(rc)
		case "badger":
			key, err := decodeEncryptionKey(cfg.Badger.EncryptionKey)
			if err != nil {
				return fail(err)
			}
			st, err := badger.Open(badger.OpenOptions{Path: cfg.Badger.Path, EncryptionKey: key})
			if err != nil {
				return fail(fmt.Errorf("wire: %w", err))
			}
			closers = append(closers, func() { _ = st.Close() })
			deps.ListenerStore = st
		}
	}

	// --- S3 archive (optional) ---
	if cfg.S3.Enabled && cfg.Sync.Archive {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		blobs := s3blob.NewStore(s3c)
		deps.Archiver = s3blob.NewArchiver(blobs, blobs, cfg.Sync.ArchivePrefix)
		deps.Checks["s3"] = s3c.Health
	}

	// --- Notifications ---
	if cfg.Telegram.BotToken != "" {
		deps.Telegram = notify.NewTelegramClient(cfg.Telegram.BotToken, cfg.Telegram.APIURL)
	}
	if cfg.Discord.WebhookURL != "" {
		deps.Mirrors = append(deps.Mirrors, notify.NewDiscordSender(cfg.Discord.WebhookURL))
	}
	if cfg.Advisor.Enabled && cfg.Advisor.APIKey != "" {
		deps.Advisor = advisor.NewGemini(advisor.Config{
			APIKey:  cfg.Advisor.APIKey,
			Model:   cfg.Advisor.Model,
			BaseURL: cfg.Advisor.BaseURL,
			Timeout: cfg.Advisor.Timeout.Duration,
			Retries: cfg.Advisor.Retries,
		})
	}

	return deps, cleanup, nil
}

// wireResolver loads the admin key when one is configured. Without a key the
// /resolve command answers that resolution is unavailable.
func wireResolver(cfg *config.Config, client *chain.Client, logger *slog.Logger) (domain.MarketResolver, error) {
	src := crypto.KeySource{
		RawHex:   cfg.Chain.AdminPrivateKey,
		KeyFile:  cfg.Chain.AdminKeyFile,
		Password: cfg.Chain.AdminKeyPass,
	}
	if !src.Configured() {
		return nil, nil
	}
	key, err := crypto.LoadAdminKey(src)
	if err != nil {
		return nil, fmt.Errorf("wire: admin key: %w", err)
	}
	tx, ok := client.Backend().(chain.TxBackend)
	if !ok {
		return nil, errors.New("wire: rpc backend cannot send transactions")
	}
	r := chain.NewResolver(tx, client.Contract(), key, cfg.Chain.ChainID, logger)
	logger.Info("admin key loaded", slog.String("address", r.From().Hex()))
	return r, nil
}

func decodeEncryptionKey(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("wire: badger encryption_key: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	default:
		return nil, fmt.Errorf("wire: badger encryption_key must be 16, 24 or 32 bytes, got %d", len(key))
	}
}
