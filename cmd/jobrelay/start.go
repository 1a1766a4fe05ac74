package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/jobrelay/internal/config"
	"github.com/mattjoyce/jobrelay/internal/log"
)

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("jobrelay starting",
		"version", version,
		"environment", cfg.Service.Environment,
		"config", cfg.SourcePath,
		"config_hash", cfg.SourceHash,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer a.close()

	if err := a.worker.Start(ctx); err != nil {
		logger.Error("notify worker failed to start", "error", err)
		return 1
	}
	defer a.worker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start only returns once the listener is shut down or has failed.
	serverDone := make(chan error, 1)
	go func() { serverDone <- a.server.Start(ctx) }()

	logger.Info("jobrelay running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		if err := <-serverDone; err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("webhook server shutdown", "error", err)
		}
	case err := <-serverDone:
		logger.Error("component failed", "error", fmt.Errorf("webhook: %w", err))
		cancel()
		return 1
	}

	logger.Info("jobrelay stopped")
	return 0
}
