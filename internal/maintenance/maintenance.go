// Package maintenance runs the service's scheduled background tasks, today a
// single catalog cache sweep.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/namarks/chatmix/internal/cache"
	"github.com/namarks/chatmix/internal/config"
)

// Scheduler manages scheduled maintenance tasks using gocron.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	cfg       config.CacheConfig
	cache     *cache.Cache

	mu      sync.Mutex
	running bool
}

func NewScheduler(cfg config.CacheConfig, trackCache *cache.Cache, logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: s,
		logger:    logger.With("component", "maintenance"),
		cfg:       cfg,
		cache:     trackCache,
	}, nil
}

// Start registers the enabled tasks and starts the scheduler ticking. The
// cache sweep is skipped when no schedule or no maximum entry age is
// configured.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	if s.cfg.SweepSchedule == "" || s.cfg.MaxEntryAge <= 0 {
		s.logger.Info("Cache sweep disabled",
			"schedule", s.cfg.SweepSchedule, "max_entry_age", s.cfg.MaxEntryAge)
		s.scheduler.Start()
		s.running = true
		return nil
	}

	_, err := s.scheduler.NewJob(
		gocron.CronJob(s.cfg.SweepSchedule, true),
		gocron.NewTask(func(ctx context.Context) {
			s.logger.InfoContext(ctx, "Running scheduled task", "task_name", "cache_sweep")
			start := time.Now()
			if removed, err := s.cache.SweepOlderThan(ctx, s.cfg.MaxEntryAge); err != nil {
				s.logger.ErrorContext(ctx, "Scheduled task failed",
					"task_name", "cache_sweep", "error", err)
			} else {
				s.logger.InfoContext(ctx, "Finished scheduled task",
					"task_name", "cache_sweep", "removed", removed, "duration", time.Since(start))
			}
		}, context.Background()),
		gocron.WithName("cache_sweep"),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule cache sweep: %w", err)
	}

	s.scheduler.Start()
	s.running = true
	s.logger.Info("Maintenance scheduler started",
		"schedule", s.cfg.SweepSchedule, "max_entry_age", s.cfg.MaxEntryAge)
	return nil
}

// Stop shuts the scheduler down, waiting for a running task to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	return nil
}
