package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/degended/marketsync/internal/config"
	"github.com/degended/marketsync/internal/eventsync"
	"github.com/degended/marketsync/internal/listener"
	"github.com/degended/marketsync/internal/notify"
	"github.com/degended/marketsync/internal/pipeline"
	"github.com/degended/marketsync/internal/server"
	"github.com/degended/marketsync/internal/server/handler"
	"github.com/degended/marketsync/internal/server/ws"
	"github.com/degended/marketsync/internal/stats"
)

// components holds the objects shared between run modes. The syncer backs
// both the sync loop and GET /api/sync/status; the dispatcher backs both the
// listener and the webhook.
type components struct {
	syncer     *eventsync.Syncer
	state      *listener.State
	format     *notify.Formatter
	dispatcher *notify.Dispatcher
}

// tasks builds the orchestrator tasks for the configured mode.
func (a *App) tasks(ctx context.Context, deps *Dependencies) ([]pipeline.Task, error) {
	comp, err := a.buildComponents(ctx, deps)
	if err != nil {
		return nil, err
	}

	var tasks []pipeline.Task
	if a.cfg.Runs(config.ModeSync) {
		tasks = append(tasks, a.syncTasks(comp)...)
	}
	if a.cfg.Runs(config.ModeListener) {
		lt, err := a.listenerTasks(ctx, deps, comp)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, lt...)
	}
	if a.cfg.Runs(config.ModeServer) {
		tasks = append(tasks, a.serverTasks(deps, comp)...)
	}
	return tasks, nil
}

func (a *App) buildComponents(ctx context.Context, deps *Dependencies) (*components, error) {
	opts := []eventsync.Option{
		eventsync.WithSignalBus(deps.SignalBus),
		eventsync.WithMetrics(deps.Metrics),
	}
	if deps.LockManager != nil {
		opts = append(opts, eventsync.WithLock(deps.LockManager))
	}
	if deps.Archiver != nil {
		opts = append(opts, eventsync.WithArchiver(deps.Archiver))
	}
	syncer := eventsync.New(eventsync.Config{
		Contract:         deps.Chain.Contract(),
		CursorKey:        a.cfg.Sync.CursorKey,
		RangeSize:        a.cfg.Sync.RangeSize,
		LockTTL:          a.cfg.Sync.LockTTL.Duration,
		MaxPassesPerTick: a.cfg.Sync.MaxPassesPerTick,
	}, deps.Scanner, deps.Store, a.logger, opts...)

	comp := &components{
		syncer: syncer,
		format: notify.NewFormatter(a.cfg.Listener.SiteURL, a.cfg.Chain.ExplorerURL, a.cfg.Listener.Timezone),
	}
	if deps.Telegram == nil {
		return comp, nil
	}

	comp.state = listener.NewState(deps.ListenerStore, a.logger)
	if err := comp.state.Restore(ctx, a.cfg.Telegram.ChatIDs); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	comp.dispatcher = notify.NewDispatcher(deps.Telegram, comp.state, deps.Mirrors, deps.Metrics, a.logger)
	return comp, nil
}

// syncTasks runs the event sync loop.
func (a *App) syncTasks(comp *components) []pipeline.Task {
	a.logger.Info("event sync enabled",
		slog.Duration("interval", a.cfg.Sync.Interval.Duration),
		slog.Uint64("range_size", a.cfg.Sync.RangeSize),
	)
	return []pipeline.Task{pipeline.Every("eventsync", comp.syncer, a.cfg.Sync.Interval.Duration)}
}

// listenerTasks runs the market poll loop and, when enabled, the bot
// command loop.
func (a *App) listenerTasks(ctx context.Context, deps *Dependencies, comp *components) ([]pipeline.Task, error) {
	if comp.dispatcher == nil {
		return nil, fmt.Errorf("app: listener needs a telegram bot token")
	}

	pollOpts := []listener.PollOption{
		listener.WithBus(deps.SignalBus),
		listener.WithMetrics(deps.Metrics),
	}
	if deps.Advisor != nil {
		pollOpts = append(pollOpts, listener.WithAdvisor(deps.Advisor))
	}
	poller := listener.NewPoller(listener.PollConfig{
		AdvisorMaxAttempts: a.cfg.Advisor.MaxAttempts,
		Seed:               a.cfg.Listener.SeedOnStart,
	}, deps.Chain, comp.state, comp.dispatcher, comp.format, a.logger, pollOpts...)

	known, resolved := comp.state.Counts()
	a.logger.Info("listener enabled",
		slog.Duration("poll_interval", a.cfg.Listener.PollInterval.Duration),
		slog.Int("subscribers", len(comp.state.Subscribers())),
		slog.Int("known_markets", known),
		slog.Int("resolved_markets", resolved),
		slog.Bool("advisor", deps.Advisor != nil),
		slog.Bool("resolver", deps.Resolver != nil),
	)

	tasks := []pipeline.Task{pipeline.Every("poller", poller, a.cfg.Listener.PollInterval.Duration)}
	if !a.cfg.Telegram.Commands {
		return tasks, nil
	}

	// getUpdates and a webhook are mutually exclusive on the Bot API.
	if err := deps.Telegram.DeleteWebhook(ctx); err != nil {
		a.logger.Warn("delete telegram webhook failed", slog.String("error", err.Error()))
	}
	if err := deps.Telegram.SetMyCommands(ctx, listener.BotCommands); err != nil {
		a.logger.Warn("register bot commands failed", slog.String("error", err.Error()))
	}
	commands := listener.NewCommands(deps.Chain, comp.state, comp.dispatcher, comp.format,
		deps.Resolver, a.cfg.Telegram.AdminChatIDs, a.logger)
	updates := listener.NewUpdatePoller(deps.Telegram, commands, a.logger)
	return append(tasks, pipeline.Task{Name: "updates", Run: updates.Run}), nil
}

// serverTasks runs the HTTP API and the WebSocket hub.
func (a *App) serverTasks(deps *Dependencies, comp *components) []pipeline.Task {
	sources := stats.Sources{stats.NewDBSource(deps.Store)}
	if a.cfg.Stats.ChainFallback {
		sources = append(sources, stats.NewChainSource(deps.Scanner, deps.Chain.Contract(), a.cfg.Chain.DeploymentBlock, a.logger))
	}
	agg := stats.NewAggregator(stats.Config{
		CacheTTL:    a.cfg.Stats.CacheTTL.Duration,
		TouchedOnly: !a.cfg.Stats.ProbeAllMarkets,
		Concurrency: a.cfg.Stats.Concurrency,
	}, sources, deps.Chain, deps.StatsCache, deps.Metrics, a.logger)

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Stats:  handler.NewStatsHandler(agg, deps.Store, a.logger),
		Sync:   handler.NewSyncHandler(comp.syncer, a.logger),
	}
	if comp.dispatcher != nil {
		handlers.Webhook = handler.NewWebhookHandler(a.cfg.Telegram.WebhookSecret, comp.dispatcher, comp.format, a.logger)
	}

	var tasks []pipeline.Task
	var hub *ws.Hub
	if a.cfg.Server.WebSocket {
		hub = ws.NewHub(deps.SignalBus, deps.Metrics, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
		})
		tasks = append(tasks, pipeline.Task{Name: "ws-hub", Run: hub.Run})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.Metrics, deps.RateLimiter, a.logger)

	return append(tasks, pipeline.Task{Name: "http", Run: srv.Run})
}
