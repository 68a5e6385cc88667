// Package main contains the entrypoint for the chatmix service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/namarks/chatmix/internal/cache"
	"github.com/namarks/chatmix/internal/catalog"
	"github.com/namarks/chatmix/internal/chatstore"
	"github.com/namarks/chatmix/internal/config"
	"github.com/namarks/chatmix/internal/httpapi"
	"github.com/namarks/chatmix/internal/logger"
	"github.com/namarks/chatmix/internal/maintenance"
	"github.com/namarks/chatmix/internal/query"
	"github.com/namarks/chatmix/internal/service"
	"github.com/namarks/chatmix/internal/synth"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run wires all components together, starts the service, and returns the
// process exit code.
func run(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	store, err := chatstore.Open(cfg.Store.Path, log)
	if err != nil {
		log.Error("Failed to open message store", "path", cfg.Store.Path, "error", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing message store", "error", err)
		}
	}()

	trackCache, err := cache.Open(cfg.Cache.Path, log)
	if err != nil {
		log.Error("Failed to open catalog cache", "path", cfg.Cache.Path, "error", err)
		return 1
	}
	defer func() {
		if err := trackCache.Close(); err != nil {
			log.Error("Error closing catalog cache", "error", err)
		}
	}()

	catalogClient := catalog.NewClient(cfg.Catalog, log)
	queryEngine := query.NewEngine(store, log)
	synthesizer := synth.New(store, trackCache, catalogClient, synth.Options{
		MaxRetries:     cfg.Catalog.MaxRetries,
		RetryBaseDelay: cfg.Catalog.RetryBaseDelay,
	}, log)

	server := httpapi.NewServer(cfg.HTTP, store, queryEngine, synthesizer, catalogClient, log)

	scheduler, err := maintenance.NewScheduler(cfg.Cache, trackCache, log)
	if err != nil {
		log.Error("Failed to create maintenance scheduler", "error", err)
		return 1
	}

	log.Info("Starting chatmix service...")
	runErr := service.New(server, scheduler, log).Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Service stopped due to error", "error", runErr)
		return 1
	}

	log.Info("Service stopped gracefully.")
	return 0
}
