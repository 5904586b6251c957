package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sebas/sip-ai-bridge/internal/app"
	"github.com/sebas/sip-ai-bridge/internal/config"
	"github.com/sebas/sip-ai-bridge/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config: failed to load", "error", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)

	bridge, err := app.New(cfg)
	if err != nil {
		slog.Error("app: failed to start", "error", err)
		os.Exit(1)
	}
	defer bridge.Shutdown()

	run(bridge, cfg)
}

func run(bridge *app.Bridge, cfg *config.Config) {
	slog.Info("sip-ai-bridge: starting",
		"sip_server", cfg.SIPServer,
		"client_port", cfg.ClientPort,
		"skip_registration", cfg.SkipRegistration,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- bridge.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("sip-ai-bridge: received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			slog.Error("sip-ai-bridge: exiting due to error", "error", err)
		}
		return
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		slog.Warn("sip-ai-bridge: timed out waiting for transport shutdown")
	}
}
