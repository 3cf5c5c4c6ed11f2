package xray

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"corpvpn/internal/config/parser"
	"corpvpn/internal/core/tun"
	"corpvpn/internal/paths"
	"corpvpn/internal/storage/models"
	pkgerrors "corpvpn/pkg/errors"
)

// Local endpoints exposed by the runtime configuration.
const (
	DefaultSOCKSPort = 10808
	DefaultHTTPPort  = 10809
	DefaultAPIPort   = 10085

	ProxyTag   = "proxy"
	apiTag     = "api"
	listenAddr = "127.0.0.1"
)

// Config represents the root Xray configuration
type Config struct {
	Log       *LogConfig      `json:"log"`
	API       *APIConfig      `json:"api"`
	Stats     *StatsConfig    `json:"stats"`
	Policy    *PolicyConfig   `json:"policy"`
	Inbounds  []InboundConfig `json:"inbounds"`
	Outbounds []any           `json:"outbounds"`
	Routing   *RoutingConfig  `json:"routing"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	LogLevel string `json:"loglevel"`
	Access   string `json:"access"`
	Error    string `json:"error"`
}

// StatsConfig enables xray statistics
type StatsConfig struct{}

// APIConfig configures xray gRPC API
type APIConfig struct {
	Tag      string   `json:"tag"`
	Services []string `json:"services"`
}

// PolicyConfig sets system-level policies
type PolicyConfig struct {
	System *SystemPolicy `json:"system"`
}

// SystemPolicy enables per-outbound traffic counters
type SystemPolicy struct {
	StatsOutboundUplink   bool `json:"statsOutboundUplink"`
	StatsOutboundDownlink bool `json:"statsOutboundDownlink"`
}

// InboundConfig represents an inbound configuration
type InboundConfig struct {
	Tag      string         `json:"tag"`
	Port     int            `json:"port,omitempty"`
	Listen   string         `json:"listen,omitempty"`
	Protocol string         `json:"protocol"`
	Settings map[string]any `json:"settings"`
}

// OutboundConfig is a settings-free outbound such as freedom or blackhole
type OutboundConfig struct {
	Tag      string `json:"tag"`
	Protocol string `json:"protocol"`
}

// RoutingConfig represents routing configuration
type RoutingConfig struct {
	DomainStrategy string        `json:"domainStrategy"`
	Rules          []RoutingRule `json:"rules"`
}

// RoutingRule represents a routing rule
type RoutingRule struct {
	Type        string   `json:"type"`
	InboundTag  []string `json:"inboundTag"`
	OutboundTag string   `json:"outboundTag"`
}

// Options carries the environment-dependent parts of the configuration.
type Options struct {
	SOCKSPort  int
	HTTPPort   int
	APIPort    int
	RuntimeDir string
	LogLevel   string
}

// DefaultOptions returns the fixed local endpoints with logs under runtimeDir.
func DefaultOptions(runtimeDir string) Options {
	return Options{
		SOCKSPort:  DefaultSOCKSPort,
		HTTPPort:   DefaultHTTPPort,
		APIPort:    DefaultAPIPort,
		RuntimeDir: runtimeDir,
		LogLevel:   "warning",
	}
}

func (o Options) withDefaults() Options {
	if o.SOCKSPort == 0 {
		o.SOCKSPort = DefaultSOCKSPort
	}
	if o.HTTPPort == 0 {
		o.HTTPPort = DefaultHTTPPort
	}
	if o.APIPort == 0 {
		o.APIPort = DefaultAPIPort
	}
	if o.LogLevel == "" {
		o.LogLevel = "warning"
	}
	return o
}

// APIAddr returns the address of the stats API inbound.
func (o Options) APIAddr() string {
	return fmt.Sprintf("%s:%d", listenAddr, o.withDefaults().APIPort)
}

// ProxyAddr returns the address of the HTTP inbound used as system proxy.
func (o Options) ProxyAddr() string {
	return fmt.Sprintf("%s:%d", listenAddr, o.withDefaults().HTTPPort)
}

// SOCKSAddr returns the address of the SOCKS inbound.
func (o Options) SOCKSAddr() string {
	return fmt.Sprintf("%s:%d", listenAddr, o.withDefaults().SOCKSPort)
}

// Synthesize builds the complete runtime configuration for a profile.
// It fails with ErrMissingDescriptor when the profile names no outbound and
// with a *ValidationError when its URI does not compile.
func Synthesize(profile *models.Profile, tunEnabled bool, opts Options) (*Config, error) {
	opts = opts.withDefaults()

	outbound, err := resolveOutbound(profile)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Log: &LogConfig{
			LogLevel: opts.LogLevel,
			Access:   absPath(filepath.Join(opts.RuntimeDir, "access.log")),
			Error:    absPath(filepath.Join(opts.RuntimeDir, "error.log")),
		},
		API: &APIConfig{
			Tag:      apiTag,
			Services: []string{"StatsService"},
		},
		Stats: &StatsConfig{},
		Policy: &PolicyConfig{
			System: &SystemPolicy{
				StatsOutboundUplink:   true,
				StatsOutboundDownlink: true,
			},
		},
		Inbounds: []InboundConfig{
			{
				Tag:      "socks-in",
				Port:     opts.SOCKSPort,
				Listen:   listenAddr,
				Protocol: "socks",
				Settings: map[string]any{"udp": true},
			},
			{
				Tag:      "http-in",
				Port:     opts.HTTPPort,
				Listen:   listenAddr,
				Protocol: "http",
				Settings: map[string]any{},
			},
			{
				Tag:      apiTag,
				Port:     opts.APIPort,
				Listen:   listenAddr,
				Protocol: "dokodemo-door",
				Settings: map[string]any{"address": listenAddr},
			},
		},
		Outbounds: []any{
			outbound,
			OutboundConfig{Tag: "direct", Protocol: "freedom"},
			OutboundConfig{Tag: "block", Protocol: "blackhole"},
		},
		Routing: &RoutingConfig{
			DomainStrategy: "AsIs",
			Rules: []RoutingRule{{
				Type:        "field",
				InboundTag:  []string{apiTag},
				OutboundTag: "direct",
			}},
		},
	}

	if tunEnabled {
		cfg.Inbounds = append(cfg.Inbounds, InboundConfig{
			Tag:      "tun-in",
			Protocol: "tun",
			Settings: map[string]any{
				"name":        tun.DeviceName,
				"mtu":         tun.DefaultMTU,
				"stack":       tun.Stack,
				"autoRoute":   true,
				"strictRoute": true,
			},
		})
	}

	return cfg, nil
}

// resolveOutbound picks the pre-built outbound object when present and
// compiles the URI otherwise.
func resolveOutbound(profile *models.Profile) (any, error) {
	if profile == nil {
		return nil, pkgerrors.ErrMissingDescriptor
	}
	if obj, ok := profile.OutboundObject(); ok {
		if _, hasTag := obj["tag"]; !hasTag {
			obj["tag"] = ProxyTag
		}
		return obj, nil
	}
	if profile.VLESSURI != "" {
		return parser.Compile(profile.VLESSURI)
	}
	return nil, pkgerrors.ErrMissingDescriptor
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Marshal renders cfg as 2-space indented JSON without HTML escaping.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteConfig replaces the runtime artifact at path.
func WriteConfig(path string, cfg *Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create runtime directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	// Under sudo the core runs as the invoking user and must be able to read it.
	paths.ChownToRealUser(path)
	return nil
}
