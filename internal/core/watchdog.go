package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// DefaultWatchdogInterval is how often the core's health is checked.
const DefaultWatchdogInterval = 15 * time.Second

// NodeSwitcher picks a faster upstream node for the next connect.
type NodeSwitcher interface {
	// Evaluate probes the candidates and reports whether the selection
	// moved to a different node.
	Evaluate(ctx context.Context) (bool, error)
}

// Watchdog periodically restarts a dead core and moves to a faster node.
type Watchdog struct {
	scheduler gocron.Scheduler
	sup       *Supervisor
	switcher  NodeSwitcher
	interval  time.Duration
	log       *slog.Logger
	running   bool
}

// NewWatchdog creates a watchdog. switcher may be nil.
func NewWatchdog(sup *Supervisor, switcher NodeSwitcher, interval time.Duration, log *slog.Logger) (*Watchdog, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Watchdog{
		scheduler: scheduler,
		sup:       sup,
		switcher:  switcher,
		interval:  interval,
		log:       log.With("component", "watchdog"),
	}, nil
}

// Start schedules the health check.
func (w *Watchdog) Start(ctx context.Context) error {
	if w.running {
		return fmt.Errorf("watchdog is already running")
	}

	_, err := w.scheduler.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(func() {
			w.RunOnce(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create health job: %w", err)
	}

	w.scheduler.Start()
	w.running = true
	return nil
}

// Stop stops the scheduler
func (w *Watchdog) Stop() error {
	if !w.running {
		return nil
	}
	if err := w.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	w.running = false
	return nil
}

// RunOnce performs one health check.
func (w *Watchdog) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	restarted, err := w.sup.Check(ctx)
	if restarted {
		if err != nil {
			w.log.Error("core restart failed", "error", err)
		} else {
			w.log.Info("core restarted")
		}
		return
	}

	if w.switcher == nil || !w.sup.IsRunning() {
		return
	}

	switched, err := w.switcher.Evaluate(ctx)
	if err != nil {
		w.log.Debug("node evaluation failed", "error", err)
		return
	}
	if !switched {
		return
	}

	w.log.Info("switching to faster node")
	if err := w.sup.Reconnect(ctx, "faster node"); err != nil {
		w.log.Error("reconnect to faster node failed", "error", err)
	}
}
