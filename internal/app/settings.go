package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"corpvpn/internal/core/xray"
	"corpvpn/internal/paths"
)

// SettingsFile is the optional settings file in the config directory.
const SettingsFile = "corpvpn.yaml"

const (
	DefaultLogLevel            = "info"
	DefaultGraceMS             = 800
	DefaultStopTimeoutSec      = 2
	DefaultStatsTimeoutSec     = 4
	DefaultSamplerIntervalMS   = 1000
	DefaultWatchdogSec         = 15
	DefaultRefreshHours        = 6
	DefaultProbeStrategy       = "tcp"
	DefaultProbeWorkers        = 16
	DefaultConnectTimeoutMS    = 1800
	DefaultWatchdogTimeoutMS   = 1400
	DefaultSubscriptionTimeSec = 20
)

// Settings is the user-editable application configuration. Every field is
// optional.
type Settings struct {
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`

	Xray struct {
		Binary          string `yaml:"binary"`
		SOCKSPort       int    `yaml:"socks_port"`
		HTTPPort        int    `yaml:"http_port"`
		APIPort         int    `yaml:"api_port"`
		LogLevel        string `yaml:"log_level"`
		GraceMS         int    `yaml:"grace_ms"`
		StopTimeoutSec  int    `yaml:"stop_timeout_sec"`
		StatsBackend    string `yaml:"stats_backend"`
		StatsTimeoutSec int    `yaml:"stats_timeout_sec"`
	} `yaml:"xray"`

	Sampler struct {
		IntervalMS int `yaml:"interval_ms"`
	} `yaml:"sampler"`

	Watchdog struct {
		Disabled    bool `yaml:"disabled"`
		IntervalSec int  `yaml:"interval_sec"`
	} `yaml:"watchdog"`

	Subscriptions struct {
		URLs          []string `yaml:"urls"`
		EncryptedList string   `yaml:"encrypted_list"`
		Key           string   `yaml:"key"`
		RefreshHours  int      `yaml:"refresh_hours"`
		TimeoutSec    int      `yaml:"timeout_sec"`
	} `yaml:"subscriptions"`

	Probe struct {
		Strategy          string `yaml:"strategy"`
		Workers           int    `yaml:"workers"`
		ConnectTimeoutMS  int    `yaml:"connect_timeout_ms"`
		WatchdogTimeoutMS int    `yaml:"watchdog_timeout_ms"`
	} `yaml:"probe"`

	// WatchProfile reconnects a running core when profile.json changes.
	WatchProfile bool `yaml:"watch_profile"`
}

// DefaultSettingsPath returns the settings file in the config directory.
func DefaultSettingsPath() (string, error) {
	dir, err := paths.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SettingsFile), nil
}

// LoadSettings reads the settings at path. A missing file yields the
// defaults.
func LoadSettings(path string) (*Settings, error) {
	var s Settings

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	s.applyDefaults()
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &s, nil
}

func (s *Settings) applyDefaults() {
	if s.Log.Level == "" {
		s.Log.Level = DefaultLogLevel
	}
	if s.Xray.SOCKSPort == 0 {
		s.Xray.SOCKSPort = xray.DefaultSOCKSPort
	}
	if s.Xray.HTTPPort == 0 {
		s.Xray.HTTPPort = xray.DefaultHTTPPort
	}
	if s.Xray.APIPort == 0 {
		s.Xray.APIPort = xray.DefaultAPIPort
	}
	if s.Xray.LogLevel == "" {
		s.Xray.LogLevel = "warning"
	}
	if s.Xray.GraceMS <= 0 {
		s.Xray.GraceMS = DefaultGraceMS
	}
	if s.Xray.StopTimeoutSec <= 0 {
		s.Xray.StopTimeoutSec = DefaultStopTimeoutSec
	}
	if s.Xray.StatsBackend == "" {
		s.Xray.StatsBackend = xray.StatsBackendCLI
	}
	if s.Xray.StatsTimeoutSec <= 0 {
		s.Xray.StatsTimeoutSec = DefaultStatsTimeoutSec
	}
	if s.Sampler.IntervalMS <= 0 {
		s.Sampler.IntervalMS = DefaultSamplerIntervalMS
	}
	if s.Watchdog.IntervalSec <= 0 {
		s.Watchdog.IntervalSec = DefaultWatchdogSec
	}
	if s.Subscriptions.RefreshHours <= 0 {
		s.Subscriptions.RefreshHours = DefaultRefreshHours
	}
	if s.Subscriptions.TimeoutSec <= 0 {
		s.Subscriptions.TimeoutSec = DefaultSubscriptionTimeSec
	}
	if s.Probe.Strategy == "" {
		s.Probe.Strategy = DefaultProbeStrategy
	}
	if s.Probe.Workers <= 0 {
		s.Probe.Workers = DefaultProbeWorkers
	}
	if s.Probe.ConnectTimeoutMS <= 0 {
		s.Probe.ConnectTimeoutMS = DefaultConnectTimeoutMS
	}
	if s.Probe.WatchdogTimeoutMS <= 0 {
		s.Probe.WatchdogTimeoutMS = DefaultWatchdogTimeoutMS
	}
}

func (s *Settings) validate() error {
	ports := map[int]string{}
	for _, p := range []struct {
		name string
		port int
	}{
		{"xray.socks_port", s.Xray.SOCKSPort},
		{"xray.http_port", s.Xray.HTTPPort},
		{"xray.api_port", s.Xray.APIPort},
	} {
		if p.port < 1 || p.port > 65535 {
			return fmt.Errorf("%s out of range: %d", p.name, p.port)
		}
		if other, ok := ports[p.port]; ok {
			return fmt.Errorf("%s and %s share port %d", other, p.name, p.port)
		}
		ports[p.port] = p.name
	}

	switch s.Xray.StatsBackend {
	case xray.StatsBackendCLI, xray.StatsBackendGRPC:
	default:
		return fmt.Errorf("xray.stats_backend must be cli or grpc, got %q", s.Xray.StatsBackend)
	}
	switch s.Probe.Strategy {
	case "tcp", "http":
	default:
		return fmt.Errorf("probe.strategy must be tcp or http, got %q", s.Probe.Strategy)
	}
	if s.Subscriptions.EncryptedList != "" && s.Subscriptions.Key == "" {
		return errors.New("subscriptions.key required with subscriptions.encrypted_list")
	}
	return nil
}

// XrayOptions returns the core endpoints with logs under runtimeDir.
func (s *Settings) XrayOptions(runtimeDir string) xray.Options {
	return xray.Options{
		SOCKSPort:  s.Xray.SOCKSPort,
		HTTPPort:   s.Xray.HTTPPort,
		APIPort:    s.Xray.APIPort,
		RuntimeDir: runtimeDir,
		LogLevel:   s.Xray.LogLevel,
	}
}

func ms(n int) time.Duration  { return time.Duration(n) * time.Millisecond }
func sec(n int) time.Duration { return time.Duration(n) * time.Second }
