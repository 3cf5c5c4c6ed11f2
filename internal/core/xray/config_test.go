package xray

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"corpvpn/internal/storage/models"
	pkgerrors "corpvpn/pkg/errors"
)

func roundTrip(t *testing.T, cfg *Config) map[string]any {
	t.Helper()
	data, err := Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestSynthesizeInbounds(t *testing.T) {
	profile := &models.Profile{VLESSURI: "vless://abc@h:443?security=reality&pbk=K"}

	tests := []struct {
		tun      bool
		inbounds int
	}{
		{false, 3},
		{true, 4},
	}
	for _, tt := range tests {
		cfg, err := Synthesize(profile, tt.tun, DefaultOptions(t.TempDir()))
		if err != nil {
			t.Fatalf("Synthesize(tun=%v): %v", tt.tun, err)
		}
		if len(cfg.Inbounds) != tt.inbounds {
			t.Fatalf("tun=%v: %d inbounds, want %d", tt.tun, len(cfg.Inbounds), tt.inbounds)
		}
		if tt.tun {
			tun := cfg.Inbounds[3]
			if tun.Tag != "tun-in" || tun.Protocol != "tun" || tun.Settings["name"] != "xray-tun" {
				t.Fatalf("unexpected tun inbound: %+v", tun)
			}
		}
	}
}

func TestSynthesizeLayout(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Synthesize(&models.Profile{VLESSURI: "vless://abc@h"}, false, DefaultOptions(dir))
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	out := roundTrip(t, cfg)

	inbounds := out["inbounds"].([]any)
	wantPorts := map[string]float64{"socks-in": 10808, "http-in": 10809, "api": 10085}
	for _, raw := range inbounds {
		in := raw.(map[string]any)
		if in["port"] != wantPorts[in["tag"].(string)] {
			t.Fatalf("inbound %v port = %v", in["tag"], in["port"])
		}
		if in["listen"] != "127.0.0.1" {
			t.Fatalf("inbound %v listen = %v", in["tag"], in["listen"])
		}
	}
	socks := inbounds[0].(map[string]any)["settings"].(map[string]any)
	if socks["udp"] != true {
		t.Fatalf("socks settings = %v", socks)
	}
	if http := inbounds[1].(map[string]any)["settings"].(map[string]any); len(http) != 0 {
		t.Fatalf("http settings = %v", http)
	}

	outbounds := out["outbounds"].([]any)
	var tags []string
	for _, raw := range outbounds {
		tags = append(tags, raw.(map[string]any)["tag"].(string))
	}
	if strings.Join(tags, ",") != "proxy,direct,block" {
		t.Fatalf("outbound tags = %v", tags)
	}

	routing := out["routing"].(map[string]any)
	rules := routing["rules"].([]any)
	if routing["domainStrategy"] != "AsIs" || len(rules) != 1 {
		t.Fatalf("routing = %v", routing)
	}
	rule := rules[0].(map[string]any)
	if rule["outboundTag"] != "direct" || rule["inboundTag"].([]any)[0] != "api" {
		t.Fatalf("rule = %v", rule)
	}

	policy := out["policy"].(map[string]any)["system"].(map[string]any)
	if policy["statsOutboundUplink"] != true || policy["statsOutboundDownlink"] != true {
		t.Fatalf("policy = %v", policy)
	}

	log := out["log"].(map[string]any)
	if log["loglevel"] != "warning" || log["access"] != filepath.Join(dir, "access.log") {
		t.Fatalf("log = %v", log)
	}
	if _, ok := out["stats"].(map[string]any); !ok {
		t.Fatalf("stats = %v", out["stats"])
	}
}

func TestSynthesizePrebuiltOutbound(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantTag string
	}{
		{"tag defaulted", `{"protocol":"freedom","settings":{"x":1}}`, "proxy"},
		{"tag kept", `{"tag":"custom","protocol":"freedom"}`, "custom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := &models.Profile{
				Outbound: json.RawMessage(tt.raw),
				VLESSURI: "vless://ignored@h",
			}
			cfg, err := Synthesize(profile, false, DefaultOptions(t.TempDir()))
			if err != nil {
				t.Fatalf("Synthesize: %v", err)
			}
			first := roundTrip(t, cfg)["outbounds"].([]any)[0].(map[string]any)
			if first["tag"] != tt.wantTag || first["protocol"] != "freedom" {
				t.Fatalf("first outbound = %v", first)
			}
		})
	}
}

func TestSynthesizeErrors(t *testing.T) {
	_, err := Synthesize(&models.Profile{}, false, DefaultOptions(t.TempDir()))
	if !errors.Is(err, pkgerrors.ErrMissingDescriptor) {
		t.Fatalf("empty profile error = %v", err)
	}

	_, err = Synthesize(&models.Profile{Outbound: json.RawMessage(`"not an object"`)}, false, DefaultOptions(t.TempDir()))
	if !errors.Is(err, pkgerrors.ErrMissingDescriptor) {
		t.Fatalf("non-object outbound error = %v", err)
	}

	_, err = Synthesize(&models.Profile{VLESSURI: "trojan://x@h"}, false, DefaultOptions(t.TempDir()))
	var verr *pkgerrors.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("bad uri error = %v", err)
	}
}

func TestWriteConfig(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Synthesize(&models.Profile{VLESSURI: "vless://abc@h?path=/a&type=ws"}, false, DefaultOptions(dir))
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	path := filepath.Join(dir, "active-config.json")
	if err := os.WriteFile(path, []byte("stale"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := WriteConfig(path, cfg); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "{\n  \"log\": {") {
		t.Fatalf("unexpected layout: %.40q", data)
	}
	if strings.Contains(string(data), `<`) || strings.Contains(string(data), "stale") {
		t.Fatalf("unexpected content: %s", data)
	}
}
