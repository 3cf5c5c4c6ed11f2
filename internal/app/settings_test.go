package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), SettingsFile)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	return path
}

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.Xray.SOCKSPort != 10808 || s.Xray.HTTPPort != 10809 || s.Xray.APIPort != 10085 {
		t.Fatalf("unexpected ports: %+v", s.Xray)
	}
	if s.Xray.GraceMS != 800 || s.Xray.StatsBackend != "cli" {
		t.Fatalf("unexpected xray defaults: %+v", s.Xray)
	}
	if s.Sampler.IntervalMS != 1000 || s.Watchdog.IntervalSec != 15 {
		t.Fatalf("unexpected intervals: sampler=%d watchdog=%d", s.Sampler.IntervalMS, s.Watchdog.IntervalSec)
	}
	if s.Probe.ConnectTimeoutMS != 1800 || s.Probe.WatchdogTimeoutMS != 1400 || s.Probe.Strategy != "tcp" {
		t.Fatalf("unexpected probe defaults: %+v", s.Probe)
	}
	if s.Log.Level != "info" || s.WatchProfile {
		t.Fatalf("unexpected log/watch defaults: %+v %v", s.Log, s.WatchProfile)
	}
}

func TestLoadSettingsOverrides(t *testing.T) {
	path := writeSettings(t, `
log:
  level: debug
xray:
  binary: /opt/xray/xray
  socks_port: 20808
  http_port: 20809
  stats_backend: grpc
subscriptions:
  urls:
    - https://sub.example/a
  refresh_hours: 0
probe:
  workers: 4
watch_profile: true
`)
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.Log.Level != "debug" || s.Xray.Binary != "/opt/xray/xray" {
		t.Fatalf("overrides lost: %+v %+v", s.Log, s.Xray)
	}
	if s.Xray.APIPort != 10085 || s.Xray.StatsBackend != "grpc" {
		t.Fatalf("unexpected xray: %+v", s.Xray)
	}
	if len(s.Subscriptions.URLs) != 1 || s.Subscriptions.RefreshHours != 6 {
		t.Fatalf("unexpected subscriptions: %+v", s.Subscriptions)
	}
	if s.Probe.Workers != 4 || !s.WatchProfile {
		t.Fatalf("unexpected probe/watch: %+v %v", s.Probe, s.WatchProfile)
	}

	opts := s.XrayOptions("/run/corpvpn")
	if opts.SOCKSAddr() != "127.0.0.1:20808" || opts.ProxyAddr() != "127.0.0.1:20809" {
		t.Fatalf("unexpected addresses: %s %s", opts.SOCKSAddr(), opts.ProxyAddr())
	}
}

func TestLoadSettingsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad yaml", "xray: [", "parse"},
		{"port clash", "xray:\n  http_port: 10808\n", "share port"},
		{"port range", "xray:\n  api_port: 70000\n", "out of range"},
		{"stats backend", "xray:\n  stats_backend: rest\n", "stats_backend"},
		{"probe strategy", "probe:\n  strategy: icmp\n", "probe.strategy"},
		{"list without key", "subscriptions:\n  encrypted_list: /tmp/list.enc\n", "subscriptions.key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSettings(writeSettings(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
