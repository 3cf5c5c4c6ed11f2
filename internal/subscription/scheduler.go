package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// DefaultRefreshInterval is how often subscriptions are re-fetched.
const DefaultRefreshInterval = 6 * time.Hour

// Scheduler handles automatic subscription refreshes
type Scheduler struct {
	scheduler gocron.Scheduler
	manager   *Manager
	interval  time.Duration
	log       *slog.Logger
	running   bool
}

// NewScheduler creates a new subscription scheduler
func NewScheduler(manager *Manager, interval time.Duration, log *slog.Logger) (*Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Scheduler{
		scheduler: scheduler,
		manager:   manager,
		interval:  interval,
		log:       log.With("component", "subscription-scheduler"),
	}, nil
}

// Start schedules the refresh job. The first refresh runs immediately when
// the cache is older than one interval.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			s.refresh(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create refresh job: %w", err)
	}

	s.scheduler.Start()
	s.running = true

	if last, err := s.manager.LastRefresh(ctx); err != nil || time.Since(last) > s.interval {
		go s.refresh(ctx)
	}
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	if !s.running {
		return nil
	}
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	s.running = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	return s.running
}

func (s *Scheduler) refresh(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	result, err := s.manager.Update(ctx)
	if err != nil {
		s.log.Warn("subscription refresh failed", "error", err)
		return
	}
	for _, sr := range result.Sources {
		if sr.Err != nil {
			s.log.Warn("source failed", "url", sr.URL, "error", sr.Err)
		}
	}
}
