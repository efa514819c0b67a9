// Command marketsync is the backend entry point for the prediction market
// service. It loads configuration, validates it, wires dependencies, sets up
// signal handling, and runs the event sync loop, the Telegram listener and
// the HTTP API according to the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/degended/marketsync/internal/app"
	"github.com/degended/marketsync/internal/config"
	"github.com/degended/marketsync/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	sealKey := flag.String("seal-key", "", "encrypt chain.admin_private_key with chain.admin_key_password into this file and exit")
	flag.Parse()

	// Bootstrap logger until the configured level is known.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	if *sealKey != "" {
		if err := writeSealedKey(*sealKey, cfg); err != nil {
			logger.Error("seal admin key failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("admin key sealed", slog.String("path", *sealKey))
		return
	}

	logger, closeLog := newLogger(cfg)
	defer closeLog()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("marketsync starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("marketsync stopped")
}

// newLogger builds the JSON logger at the configured level. With log_file
// set, output is also written to a size-rotated file.
func newLogger(cfg *config.Config) (*slog.Logger, func()) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closeFn = func() { _ = rotator.Close() }
	}

	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})), closeFn
}

// writeSealedKey writes the encrypted key file read back by
// chain.admin_key_file.
func writeSealedKey(path string, cfg *config.Config) error {
	if cfg.Chain.AdminPrivateKey == "" {
		return errors.New("no admin private key configured (set PRIVATE_KEY)")
	}
	if cfg.Chain.AdminKeyPass == "" {
		return errors.New("no password configured (set MARKETSYNC_CHAIN_ADMIN_KEY_PASSWORD)")
	}
	data, err := crypto.SealKey(cfg.Chain.AdminPrivateKey, cfg.Chain.AdminKeyPass)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
