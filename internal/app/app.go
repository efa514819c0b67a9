// Package app provides the top-level application lifecycle for marketsync.
// It wires the chain client, stores, caches, notification channels and the
// HTTP API together and runs the loops of the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/degended/marketsync/internal/config"
	"github.com/degended/marketsync/internal/pipeline"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the tasks of the configured mode and
// blocks until the context is cancelled or a task fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("store", a.cfg.StoreBackend),
		slog.String("contract", a.cfg.Chain.ContractAddress),
		slog.Int64("chain_id", a.cfg.Chain.ChainID),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	tasks, err := a.tasks(ctx, deps)
	if err != nil {
		return err
	}
	return pipeline.NewOrchestrator(a.logger, tasks...).Run(ctx)
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
