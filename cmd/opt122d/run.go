package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	_ "github.com/veesix-networks/cmopt122/internal/audit"
	_ "github.com/veesix-networks/cmopt122/internal/exporter"
	"github.com/veesix-networks/cmopt122/internal/queue"
	"github.com/veesix-networks/cmopt122/pkg/cache/memory"
	"github.com/veesix-networks/cmopt122/pkg/component"
	"github.com/veesix-networks/cmopt122/pkg/config"
	"github.com/veesix-networks/cmopt122/pkg/events/local"
	"github.com/veesix-networks/cmopt122/pkg/logger"
	"github.com/veesix-networks/cmopt122/pkg/mangle"
	"github.com/veesix-networks/cmopt122/pkg/stats"
)

func configureLogging(cfg *config.Config) {
	logger.Configure(cfg.Logging.Format, logger.LogLevel(cfg.Logging.Level), cfg.LogComponents())
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	configureLogging(cfg)

	mainLog := logger.Get(logger.Main)
	mainLog.Info("Starting opt122d", "queue", cfg.Queue.Num, "checksum", cfg.Checksum)

	bus := local.NewBus(local.DefaultCapacity)
	defer bus.Close()

	store := memory.New(memory.DefaultCleanupInterval)
	defer store.Close()

	deps := component.Dependencies{
		EventBus: bus,
		Cache:    store,
		Config:   cfg,
		Mangler:  mangle.New(mangle.Options{Checksum: cfg.Checksum}),
		Stats:    stats.New(),
	}

	orch := component.NewOrchestrator()

	// Consumers start before the queue so no rewrite event is missed.
	optional, err := component.LoadAll(deps)
	if err != nil {
		log.Fatalf("Failed to load components: %v", err)
	}
	for _, comp := range optional {
		mainLog.Info("Loaded component", "name", comp.Name())
		orch.Register(comp)
	}

	q, err := queue.New(deps)
	if err != nil {
		log.Fatalf("Failed to create queue component: %v", err)
	}
	orch.Register(q)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start components: %w", err)
	}

	mainLog.Info("opt122d running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	mainLog.Info("Shutting down", "signal", sig.String())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()

	if err := orch.Stop(stopCtx); err != nil {
		mainLog.Error("Error during shutdown", "error", err)
		return err
	}

	mainLog.Info("Shutdown complete")
	return nil
}
