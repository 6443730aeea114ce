package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fissellab/bcp-telemetry/internal/config"
	"github.com/fissellab/bcp-telemetry/internal/logger"
	"github.com/fissellab/bcp-telemetry/internal/server"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	busCfg := config.Default()
	if cfg.configPath != "" {
		loaded, err := config.Load(cfg.configPath)
		if err != nil {
			log.Error("failed to load config", "path", cfg.configPath, "error", err)
			os.Exit(1)
		}
		busCfg = loaded
	}

	bus, err := server.New(busCfg)
	if err != nil {
		log.Error("failed to construct telemetry bus", "error", err)
		os.Exit(1)
	}
	if err := bus.Start(); err != nil {
		log.Error("failed to start telemetry bus", "error", err)
		os.Exit(1)
	}

	if cfg.configPath != "" {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := bus.WatchConfig(ctx, cfg.configPath); err != nil {
			log.Warn("config hot-reload disabled", "error", err)
		}
	}

	log.Info("telemetry bus started",
		"ingest", bus.IngestAddr(),
		"request", bus.RequestAddr(),
		"telecommand", bus.TelecommandAddr(),
		"downlink", bus.DownlinkAddr(),
		"metrics", bus.MetricsAddr(),
		"version", version,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if err := bus.Stop(); err != nil {
			log.Error("telemetry bus stop error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("telemetry bus stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}
