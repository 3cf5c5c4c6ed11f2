package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"corpvpn/internal/latency"
	"corpvpn/internal/storage"
	"corpvpn/internal/storage/models"
	pkgerrors "corpvpn/pkg/errors"
)

// SwitchMargin is how much faster another node must be before the
// watchdog moves to it.
const SwitchMargin = 50

// ProfileSource loads the user's connection profile.
type ProfileSource interface {
	Profile(ctx context.Context) (*models.Profile, error)
}

// Selector resolves the connection profile, falling back to the least-delay
// subscription node when the user's profile names no server.
type Selector struct {
	base     ProfileSource
	manager  *Manager
	tester   *latency.Tester
	settings storage.Storage
	log      *slog.Logger

	connectTimeout  time.Duration
	watchdogTimeout time.Duration

	mu      sync.Mutex
	current *models.Node
	delay   int
	// next is set by Evaluate and consumed by the following Profile call.
	next      *models.Node
	nextDelay int
}

// SelectorConfig holds the probe timeouts.
type SelectorConfig struct {
	ConnectTimeout  time.Duration
	WatchdogTimeout time.Duration
}

// NewSelector creates a selector over base.
func NewSelector(base ProfileSource, manager *Manager, tester *latency.Tester, store storage.Storage, cfg SelectorConfig, log *slog.Logger) *Selector {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = latency.ConnectTimeout
	}
	if cfg.WatchdogTimeout <= 0 {
		cfg.WatchdogTimeout = latency.WatchdogTimeout
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Selector{
		base:            base,
		manager:         manager,
		tester:          tester,
		settings:        store,
		log:             log.With("component", "selector"),
		connectTimeout:  cfg.ConnectTimeout,
		watchdogTimeout: cfg.WatchdogTimeout,
	}
}

// Profile returns the user's profile when it names an outbound or a URI.
// Otherwise, with subscriptions configured, it probes the cached nodes and
// returns a profile for the fastest one.
func (s *Selector) Profile(ctx context.Context) (*models.Profile, error) {
	p, err := s.base.Profile(ctx)
	if err != nil {
		return nil, err
	}
	if !p.IsEmpty() || s.manager == nil || !s.manager.Configured() {
		s.setCurrent(nil, 0)
		return p, nil
	}

	s.mu.Lock()
	next, nextDelay := s.next, s.nextDelay
	s.next = nil
	s.mu.Unlock()
	if next != nil {
		s.setCurrent(next, nextDelay)
		return &models.Profile{VLESSURI: next.URI}, nil
	}

	nodes, err := s.manager.EnsureNodes(ctx)
	if err != nil {
		return nil, err
	}
	best := s.tester.TestBatchTimeout(ctx, nodes, s.connectTimeout, nil).Best()
	if best == nil {
		return nil, fmt.Errorf("%w: probed %d nodes", pkgerrors.ErrNoReachableNode, len(nodes))
	}

	s.log.Info("selected node", "name", best.Node.Name, "delay_ms", best.DelayMS())
	s.setCurrent(best.Node, best.DelayMS())
	return &models.Profile{VLESSURI: best.Node.URI}, nil
}

// Evaluate re-probes the nodes and reports whether a different node beats
// the current one by more than SwitchMargin. The winner is used by the
// next Profile call.
func (s *Selector) Evaluate(ctx context.Context) (bool, error) {
	s.mu.Lock()
	current, delay := s.current, s.delay
	s.mu.Unlock()
	if current == nil {
		return false, nil
	}

	nodes, err := s.manager.Nodes(ctx)
	if err != nil {
		return false, err
	}
	if len(nodes) < 2 {
		return false, nil
	}

	best := s.tester.TestBatchTimeout(ctx, nodes, s.watchdogTimeout, nil).Best()
	if best == nil {
		return false, nil
	}
	if best.Node.URI == current.URI || best.DelayMS()+SwitchMargin >= delay {
		return false, nil
	}

	s.log.Info("faster node found", "name", best.Node.Name, "delay_ms", best.DelayMS(), "current_ms", delay)
	s.mu.Lock()
	s.next, s.nextDelay = best.Node, best.DelayMS()
	s.mu.Unlock()
	return true, nil
}

// Current returns the node in use and its delay at selection, or nil when
// the profile did not come from a subscription.
func (s *Selector) Current() (*models.Node, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.delay
}

func (s *Selector) setCurrent(node *models.Node, delay int) {
	s.mu.Lock()
	s.current, s.delay = node, delay
	s.mu.Unlock()

	if node == nil || s.settings == nil {
		return
	}
	if err := s.settings.SetSetting(context.Background(), storage.SettingSelectedNode, node.URI); err != nil {
		s.log.Debug("failed to save selected node", "error", err)
	}
}
