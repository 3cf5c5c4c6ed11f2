package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"corpvpn/internal/core"
	"corpvpn/internal/core/autostart"
	"corpvpn/internal/core/sysproxy"
	"corpvpn/internal/core/types"
	"corpvpn/internal/core/xray"
	"corpvpn/internal/latency"
	"corpvpn/internal/logger"
	"corpvpn/internal/paths"
	"corpvpn/internal/profile"
	"corpvpn/internal/storage/sqlite"
	"corpvpn/internal/subscription"
)

// File names under the per-user directories.
const (
	DBFile       = "corpvpn.db"
	ArtifactFile = "config.json"
	LogFile      = "corpvpn.log"
)

// App represents the application context
type App struct {
	Settings *Settings
	Config   *Config
	Log      *slog.Logger

	Storage       *sqlite.DB
	Profiles      *profile.Store
	Binary        *xray.Binary
	Options       xray.Options
	Subscriptions *subscription.Manager
	Tester        *latency.Tester
	Selector      *subscription.Selector
	Supervisor    *core.Supervisor
	Sampler       *core.Sampler

	logCloser io.Closer

	statsMu sync.Mutex
	onStats func(types.Stats)

	bgMu   sync.Mutex
	bgStop []func()
}

// Config records where the application keeps its files.
type Config struct {
	SettingsPath string
	ConfigDir    string
	DataDir      string
	RuntimeDir   string
	DBPath       string
	ArtifactPath string
	LogPath      string
}

// Options controls how New builds the application.
type Options struct {
	// SettingsPath defaults to corpvpn.yaml in the config directory.
	SettingsPath string
	// LogLevel overrides the settings file when set.
	LogLevel string
	// LogToFile sends logs to the log file instead of stderr, for the
	// full-screen dashboard.
	LogToFile bool
}

// New creates a new application instance
func New(opts Options) (*App, error) {
	configDir, err := paths.ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	dataDir, err := paths.DataDir()
	if err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	runtimeDir, err := paths.RuntimeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to create runtime directory: %w", err)
	}

	cfg := &Config{
		SettingsPath: opts.SettingsPath,
		ConfigDir:    configDir,
		DataDir:      dataDir,
		RuntimeDir:   runtimeDir,
		DBPath:       filepath.Join(dataDir, DBFile),
		ArtifactPath: filepath.Join(runtimeDir, ArtifactFile),
	}
	if cfg.SettingsPath == "" {
		cfg.SettingsPath = filepath.Join(configDir, SettingsFile)
	}

	settings, err := LoadSettings(cfg.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	a := &App{Settings: settings, Config: cfg}
	if err := a.initLogger(opts); err != nil {
		return nil, err
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		a.closeLog()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	paths.ChownToRealUser(cfg.DBPath)
	a.Storage = store

	a.Profiles = profile.NewStore(configDir, a.Log)
	if err := a.Profiles.Init(); err != nil {
		a.Log.Warn("failed to write profile template", "error", err)
	}

	if err := a.wire(); err != nil {
		store.Close()
		a.closeLog()
		return nil, err
	}
	return a, nil
}

func (a *App) initLogger(opts Options) error {
	level := a.Settings.Log.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}

	path := a.Settings.Log.File
	if path == "" && opts.LogToFile {
		path = filepath.Join(a.Config.RuntimeDir, LogFile)
	}
	if path == "" {
		a.Log = logger.New(level, nil)
		return nil
	}

	log, closer, err := logger.NewFile(level, path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	paths.ChownToRealUser(path)
	a.Log, a.logCloser, a.Config.LogPath = log, closer, path
	return nil
}

// wire builds the control plane over the opened storage and profile store.
func (a *App) wire() error {
	s := a.Settings

	a.Binary = xray.NewBinary(s.Xray.Binary)
	a.Options = s.XrayOptions(a.Config.RuntimeDir)

	strategy, err := latency.NewStrategy(s.Probe.Strategy, a.Binary, a.Config.RuntimeDir)
	if err != nil {
		return err
	}
	a.Tester = latency.NewTester(a.Storage, latency.TesterConfig{
		Workers:  int64(s.Probe.Workers),
		Timeout:  ms(s.Probe.ConnectTimeoutMS),
		Strategy: strategy,
	}, a.Log)

	fetchCfg := subscription.DefaultFetcherConfig()
	fetchCfg.Timeout = sec(s.Subscriptions.TimeoutSec)
	a.Subscriptions = subscription.NewManager(a.Storage, subscription.Sources{
		URLs:          s.Subscriptions.URLs,
		EncryptedList: s.Subscriptions.EncryptedList,
		Key:           s.Subscriptions.Key,
	}, subscription.NewFetcher(fetchCfg), a.Log)

	a.Selector = subscription.NewSelector(a.Profiles, a.Subscriptions, a.Tester, a.Storage, subscription.SelectorConfig{
		ConnectTimeout:  ms(s.Probe.ConnectTimeoutMS),
		WatchdogTimeout: ms(s.Probe.WatchdogTimeoutMS),
	}, a.Log)

	querier, err := xray.NewStatsQuerier(s.Xray.StatsBackend, a.Binary.Path, a.Options.APIAddr(), sec(s.Xray.StatsTimeoutSec))
	if err != nil {
		return err
	}
	a.Sampler = core.NewSampler(querier, ms(s.Sampler.IntervalMS), a.emitStats, a.Log)

	deps := core.Deps{
		Launcher: core.NewLauncher(a.Binary),
		Proxy:    sysproxy.New(a.Options.SOCKSAddr()),
		Profiles: a.Selector,
		States:   a.Profiles,
		Journal:  a.Storage,
		Sampler:  a.Sampler,
		Log:      a.Log,
	}
	if inst, err := autostart.New("connect"); err != nil {
		a.Log.Warn("autostart unavailable", "error", err)
	} else {
		deps.Autostart = inst
	}

	supCfg := core.DefaultConfig(a.Config.ArtifactPath, a.Options)
	supCfg.ProfilePath = a.Profiles.ProfilePath()
	supCfg.GraceWait = ms(s.Xray.GraceMS)
	supCfg.StopTimeout = sec(s.Xray.StopTimeoutSec)
	a.Supervisor = core.NewSupervisor(supCfg, deps)
	return nil
}

// OnStats sets the receiver of throughput samples. fn runs on the sampler
// goroutine and must not block.
func (a *App) OnStats(fn func(types.Stats)) {
	a.statsMu.Lock()
	a.onStats = fn
	a.statsMu.Unlock()
}

func (a *App) emitStats(st types.Stats) {
	a.statsMu.Lock()
	fn := a.onStats
	a.statsMu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// Start runs the background workers: the throughput sampler, the
// watchdog, the subscription refresh and the profile watcher, as
// configured. They stop when ctx is done or on Stop.
func (a *App) Start(ctx context.Context) error {
	a.bgMu.Lock()
	defer a.bgMu.Unlock()
	if len(a.bgStop) > 0 {
		return fmt.Errorf("background workers already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	a.bgStop = append(a.bgStop, cancel)
	a.bgStop = append(a.bgStop, a.Sampler.Start(ctx, a.Supervisor.IsRunning))

	s := a.Settings
	if !s.Watchdog.Disabled {
		var switcher core.NodeSwitcher
		if a.Subscriptions.Configured() {
			switcher = a.Selector
		}
		wd, err := core.NewWatchdog(a.Supervisor, switcher, sec(s.Watchdog.IntervalSec), a.Log)
		if err != nil {
			a.stopLocked()
			return err
		}
		if err := wd.Start(ctx); err != nil {
			a.stopLocked()
			return err
		}
		a.bgStop = append(a.bgStop, func() { wd.Stop() })
	}

	if a.Subscriptions.Configured() {
		sched, err := subscription.NewScheduler(a.Subscriptions, time.Duration(s.Subscriptions.RefreshHours)*time.Hour, a.Log)
		if err != nil {
			a.stopLocked()
			return err
		}
		if err := sched.Start(ctx); err != nil {
			a.stopLocked()
			return err
		}
		a.bgStop = append(a.bgStop, func() { sched.Stop() })
	}

	if s.WatchProfile {
		w := profile.NewWatcher(a.Profiles, func(ctx context.Context) {
			if err := a.Supervisor.Reconnect(ctx, "profile changed"); err != nil {
				a.Log.Error("reconnect after profile change failed", "error", err)
			}
		}, a.Log)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := w.Run(ctx); err != nil {
				a.Log.Warn("profile watcher stopped", "error", err)
			}
		}()
		a.bgStop = append(a.bgStop, func() {
			select {
			case <-done:
			case <-time.After(250 * time.Millisecond):
			}
		})
	}
	return nil
}

// Stop stops the background workers.
func (a *App) Stop() {
	a.bgMu.Lock()
	defer a.bgMu.Unlock()
	a.stopLocked()
}

func (a *App) stopLocked() {
	// cancel is first; the rest wait for their worker.
	if len(a.bgStop) == 0 {
		return
	}
	a.bgStop[0]()
	for i := len(a.bgStop) - 1; i > 0; i-- {
		a.bgStop[i]()
	}
	a.bgStop = nil
}

// Close disconnects, stops the workers and releases resources.
func (a *App) Close() error {
	a.Stop()
	if a.Supervisor != nil {
		a.Supervisor.Close(context.Background())
	}
	var err error
	if a.Storage != nil {
		err = a.Storage.Close()
	}
	a.closeLog()
	return err
}

func (a *App) closeLog() {
	if a.logCloser != nil {
		a.logCloser.Close()
		a.logCloser = nil
	}
}
