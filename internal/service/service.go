// Package service orchestrates the long-lived components of the process: the
// HTTP API server and the maintenance scheduler, tied together with graceful
// shutdown.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/namarks/chatmix/internal/httpapi"
	"github.com/namarks/chatmix/internal/maintenance"
)

// shutdownTimeout bounds how long in-flight HTTP requests may run after a
// shutdown signal.
const shutdownTimeout = 10 * time.Second

type Service struct {
	server    *httpapi.Server
	scheduler *maintenance.Scheduler
	logger    *slog.Logger
}

func New(server *httpapi.Server, scheduler *maintenance.Scheduler, logger *slog.Logger) *Service {
	return &Service{
		server:    server,
		scheduler: scheduler,
		logger:    logger.With("component", "service"),
	}
}

// Run blocks until ctx is cancelled or a component fails, then shuts both
// components down gracefully.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("Starting service orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.server.Start(); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		if gCtx.Err() == nil {
			return errors.New("http server stopped unexpectedly")
		}
		return nil
	})

	g.Go(func() error {
		if err := s.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		s.logger.Info("Shutdown signal received, stopping scheduler...")
		if err := s.scheduler.Stop(); err != nil {
			s.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Error shutting down HTTP server", "error", err)
		}
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("Service orchestrator stopped due to error", "error", err)
		return err
	}
	s.logger.Info("Service orchestrator stopped gracefully.")
	return nil
}
