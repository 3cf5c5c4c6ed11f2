package core

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"

	"corpvpn/internal/core/types"
	"corpvpn/internal/core/xray"
	"corpvpn/internal/storage/models"
	pkgerrors "corpvpn/pkg/errors"
)

// Config holds the Supervisor's paths and timings.
type Config struct {
	ConfigPath  string
	ProfilePath string
	Options     xray.Options

	GraceWait        time.Duration
	StopTimeout      time.Duration
	ProxyTimeout     time.Duration
	AutostartTimeout time.Duration
}

// DefaultConfig returns the standard timings for an artifact at configPath.
func DefaultConfig(configPath string, opts xray.Options) Config {
	return Config{
		ConfigPath:       configPath,
		Options:          opts,
		GraceWait:        800 * time.Millisecond,
		StopTimeout:      2 * time.Second,
		ProxyTimeout:     5 * time.Second,
		AutostartTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.ConfigPath, c.Options)
	if c.GraceWait <= 0 {
		c.GraceWait = d.GraceWait
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.ProxyTimeout <= 0 {
		c.ProxyTimeout = d.ProxyTimeout
	}
	if c.AutostartTimeout <= 0 {
		c.AutostartTimeout = d.AutostartTimeout
	}
	return c
}

// Deps are the Supervisor's collaborators. Autostart, Journal and Sampler
// are optional.
type Deps struct {
	Launcher  Launcher
	Proxy     SystemProxy
	Autostart AutoStarter
	Profiles  ProfileSource
	States    StateStore
	Journal   Journal
	Sampler   *Sampler
	Log       *slog.Logger
}

// transitions lists the allowed state changes.
var transitions = map[types.State][]types.State{
	types.StateStopped:  {types.StateStarting},
	types.StateStarting: {types.StateRunning, types.StateFailed},
	types.StateRunning:  {types.StateStopping},
	types.StateStopping: {types.StateStopped},
	types.StateFailed:   {types.StateStopped},
}

func canTransition(from, to types.State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Supervisor owns the core process lifecycle. Control operations are
// serialized; state is readable concurrently.
type Supervisor struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	// opMu serializes Connect, Disconnect, ToggleTun and friends.
	opMu sync.Mutex

	mu        sync.RWMutex
	state     types.State
	proc      Process
	startedAt time.Time
	server    string
	tun       bool
	sessionID string
	lastErr   error

	// statProc is the gopsutil handle of the current core, kept across
	// Status calls so CPU usage is measured between polls.
	statMu   sync.Mutex
	statProc *process.Process

	bg sync.WaitGroup
}

// NewSupervisor creates a stopped Supervisor.
func NewSupervisor(cfg Config, deps Deps) *Supervisor {
	log := deps.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Supervisor{
		cfg:   cfg.withDefaults(),
		deps:  deps,
		log:   log.With("component", "supervisor"),
		state: types.StateStopped,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() types.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsRunning returns whether the core is currently running
func (s *Supervisor) IsRunning() bool {
	return s.State() == types.StateRunning
}

// transition moves to the next state. Callers hold s.mu.
func (s *Supervisor) transition(to types.State) {
	if !canTransition(s.state, to) {
		s.log.Error("state unchanged", "from", s.state, "to", to, "error", pkgerrors.ErrInvalidTransition)
		return
	}
	s.log.Debug("state", "from", s.state, "to", to)
	s.state = to
}

func (s *Supervisor) setState(to types.State) {
	s.mu.Lock()
	s.transition(to)
	s.mu.Unlock()
}

// Connect starts the core and routes host traffic through it. Unless the
// Supervisor is Stopped it does nothing and returns the current state. On
// failure the Supervisor is left Stopped with the host proxy untouched.
func (s *Supervisor) Connect(ctx context.Context) (types.State, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Supervisor) connectLocked(ctx context.Context) (types.State, error) {
	if st := s.State(); st != types.StateStopped {
		return st, nil
	}

	if !s.deps.Launcher.Exists() {
		return s.reject(pkgerrors.ErrBinaryMissing)
	}

	appState, err := s.deps.States.LoadState()
	if err != nil {
		s.log.Warn("failed to load app state, using defaults", "error", err)
	}

	profile, err := s.deps.Profiles.Profile(ctx)
	if err != nil {
		return s.reject(&pkgerrors.ConfigError{Path: s.cfg.ProfilePath, Err: err})
	}
	cfg, err := xray.Synthesize(profile, appState.TunEnabled, s.cfg.Options)
	if err != nil {
		return s.reject(&pkgerrors.ConfigError{Path: s.cfg.ProfilePath, Err: err})
	}

	s.setState(types.StateStarting)

	if err := xray.WriteConfig(s.cfg.ConfigPath, cfg); err != nil {
		return s.fail(&pkgerrors.ConfigError{Path: s.cfg.ConfigPath, Err: err})
	}

	proc, err := s.deps.Launcher.Start(s.cfg.ConfigPath)
	if err != nil {
		return s.fail(err)
	}

	select {
	case <-proc.Done():
		return s.fail(fmt.Errorf("%w: %v", pkgerrors.ErrEarlyExit, proc.ExitErr()))
	case <-ctx.Done():
		s.terminate(proc)
		return s.fail(ctx.Err())
	case <-time.After(s.cfg.GraceWait):
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProxyTimeout)
	err = s.deps.Proxy.Set(pctx, true, s.cfg.Options.ProxyAddr())
	cancel()
	if err != nil {
		s.terminate(proc)
		return s.fail(fmt.Errorf("%w: %v", pkgerrors.ErrProxyToggleFailed, err))
	}

	now := time.Now()
	server := describeOutbound(cfg)

	s.mu.Lock()
	s.proc = proc
	s.startedAt = now
	s.server = server
	s.tun = appState.TunEnabled
	s.lastErr = nil
	s.transition(types.StateRunning)
	s.mu.Unlock()

	if s.deps.Sampler != nil {
		s.deps.Sampler.Reset()
	}
	s.openSession(ctx, proc.PID(), server, appState.TunEnabled, now)
	if !appState.AutostartDone {
		s.installAutostart()
	}

	s.log.Info("core running", "pid", proc.PID(), "server", server, "tun", appState.TunEnabled)
	return types.StateRunning, nil
}

// reject fails a connect before any process exists; state stays Stopped.
func (s *Supervisor) reject(err error) (types.State, error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.log.Warn("connect rejected", "error", err)
	return types.StateStopped, err
}

// fail unwinds a started connect through Failed to Stopped.
func (s *Supervisor) fail(err error) (types.State, error) {
	err = &pkgerrors.CoreError{CoreType: string(types.CoreTypeXray), Err: err}
	s.mu.Lock()
	s.lastErr = err
	s.transition(types.StateFailed)
	s.transition(types.StateStopped)
	s.mu.Unlock()
	s.log.Warn("connect failed", "error", err)
	return types.StateStopped, err
}

func (s *Supervisor) terminate(proc Process) {
	if err := proc.Terminate(s.cfg.StopTimeout); err != nil {
		s.log.Warn("core did not exit", "pid", proc.PID(), "error", err)
	}
}

// Disconnect restores the host proxy and stops the core. It is idempotent
// and never fails.
func (s *Supervisor) Disconnect(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.disconnectLocked(ctx, "disconnect")
}

func (s *Supervisor) disconnectLocked(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.state != types.StateRunning {
		s.mu.Unlock()
		return
	}
	s.transition(types.StateStopping)
	proc := s.proc
	sessionID := s.sessionID
	s.mu.Unlock()

	// Teardown must finish even when the caller's context is gone.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ProxyTimeout)
	if err := s.deps.Proxy.Set(pctx, false, ""); err != nil {
		s.log.Warn("failed to disable system proxy", "error", err)
	}
	cancel()

	if proc != nil {
		s.terminate(proc)
	}

	var total uint64
	if s.deps.Sampler != nil {
		total = s.deps.Sampler.LastTotal()
		s.deps.Sampler.Reset()
	}

	s.mu.Lock()
	s.proc = nil
	s.sessionID = ""
	s.server = ""
	s.transition(types.StateStopped)
	s.mu.Unlock()

	s.closeSession(ctx, sessionID, total, reason)
	s.log.Info("core stopped", "reason", reason)
}

// ToggleTun flips the persisted TUN flag and, while Running, reconnects so
// the new configuration takes effect. It returns the new flag value.
func (s *Supervisor) ToggleTun(ctx context.Context) (bool, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	st, err := s.deps.States.UpdateState(func(a *models.AppState) {
		a.TunEnabled = !a.TunEnabled
	})
	if err != nil {
		return false, fmt.Errorf("failed to save app state: %w", err)
	}
	return st.TunEnabled, s.reconnectLocked(ctx, "tun toggled")
}

// SetTun sets the TUN flag, reconnecting only when it changed while Running.
func (s *Supervisor) SetTun(ctx context.Context, enabled bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	prev, err := s.deps.States.LoadState()
	if err != nil {
		return fmt.Errorf("failed to load app state: %w", err)
	}
	if prev.TunEnabled == enabled {
		return nil
	}
	if _, err := s.deps.States.UpdateState(func(a *models.AppState) {
		a.TunEnabled = enabled
	}); err != nil {
		return fmt.Errorf("failed to save app state: %w", err)
	}
	return s.reconnectLocked(ctx, "tun toggled")
}

// Reconnect restarts a running core against a freshly built configuration.
func (s *Supervisor) Reconnect(ctx context.Context, reason string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.reconnectLocked(ctx, reason)
}

func (s *Supervisor) reconnectLocked(ctx context.Context, reason string) error {
	if s.State() != types.StateRunning {
		return nil
	}
	s.disconnectLocked(ctx, reason)
	_, err := s.connectLocked(ctx)
	return err
}

// Check restarts the core when it died while Running. It reports whether a
// restart was attempted.
func (s *Supervisor) Check(ctx context.Context) (bool, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	proc := s.proc
	running := s.state == types.StateRunning
	s.mu.RUnlock()

	if !running || proc == nil {
		return false, nil
	}
	select {
	case <-proc.Done():
	default:
		return false, nil
	}

	s.log.Warn("core exited unexpectedly, restarting", "pid", proc.PID(), "error", proc.ExitErr())
	s.disconnectLocked(ctx, "core exited")
	_, err := s.connectLocked(ctx)
	return true, err
}

// Status returns a snapshot of the core state with process resource usage.
func (s *Supervisor) Status(ctx context.Context) *types.Status {
	s.mu.RLock()
	status := &types.Status{
		State:      s.state,
		CoreType:   string(types.CoreTypeXray),
		Server:     s.server,
		TunEnabled: s.tun,
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	if s.proc != nil {
		status.PID = s.proc.PID()
		status.StartedAt = s.startedAt
		status.Uptime = time.Since(s.startedAt)
	}
	s.mu.RUnlock()

	if status.PID > 0 {
		status.RSSBytes, status.CPUPercent = s.resourceUsage(ctx, status.PID)
	}
	return status
}

// resourceUsage reports the RSS and CPU share of pid. CPU is measured since
// the previous call for the same pid and is zero on the first one.
func (s *Supervisor) resourceUsage(ctx context.Context, pid int) (rss uint64, cpu float64) {
	s.statMu.Lock()
	defer s.statMu.Unlock()

	if s.statProc == nil || s.statProc.Pid != int32(pid) {
		p, err := process.NewProcessWithContext(ctx, int32(pid))
		if err != nil {
			s.statProc = nil
			return 0, 0
		}
		s.statProc = p
	}

	if mem, err := s.statProc.MemoryInfoWithContext(ctx); err == nil {
		rss = mem.RSS
	}
	if pct, err := s.statProc.PercentWithContext(ctx, 0); err == nil {
		cpu = pct
	}
	return rss, cpu
}

// Close disconnects and waits briefly for background work.
func (s *Supervisor) Close(ctx context.Context) {
	s.Disconnect(ctx)

	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(250 * time.Millisecond):
	}
}

func (s *Supervisor) installAutostart() {
	if s.deps.Autostart == nil {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AutostartTimeout)
		defer cancel()

		if err := s.deps.Autostart.Install(ctx); err != nil {
			s.log.Warn("failed to register autostart", "error", err)
			return
		}
		if _, err := s.deps.States.UpdateState(func(a *models.AppState) {
			a.AutostartDone = true
		}); err != nil {
			s.log.Warn("failed to save app state", "error", err)
			return
		}
		s.log.Info("autostart registered")
	}()
}

func (s *Supervisor) openSession(ctx context.Context, pid int, server string, tun bool, at time.Time) {
	if s.deps.Journal == nil {
		return
	}
	session := &models.Session{
		ID:         uuid.NewString(),
		Server:     server,
		TunEnabled: tun,
		PID:        pid,
		StartedAt:  at,
	}
	if err := s.deps.Journal.OpenSession(ctx, session); err != nil {
		s.log.Warn("failed to record session", "error", err)
		return
	}
	s.mu.Lock()
	s.sessionID = session.ID
	s.mu.Unlock()
}

func (s *Supervisor) closeSession(ctx context.Context, id string, total uint64, reason string) {
	if s.deps.Journal == nil || id == "" {
		return
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.deps.Journal.CloseSession(jctx, id, time.Now(), total, reason); err != nil {
		s.log.Warn("failed to close session", "id", id, "error", err)
	}
}

// describeOutbound names the upstream server of the proxy outbound.
func describeOutbound(cfg *xray.Config) string {
	if len(cfg.Outbounds) == 0 {
		return ""
	}
	switch ob := cfg.Outbounds[0].(type) {
	case *models.Outbound:
		host, port := ob.Server()
		return net.JoinHostPort(host, strconv.Itoa(port))
	case map[string]any:
		if proto, ok := ob["protocol"].(string); ok {
			return "custom " + proto
		}
	}
	return "custom"
}
