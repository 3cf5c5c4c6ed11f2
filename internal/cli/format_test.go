package cli

import (
	"testing"
	"time"
)

func TestFormatRate(t *testing.T) {
	tests := []struct {
		kbps float64
		want string
	}{
		{0, "0.0 Kbps"},
		{8, "8.0 Kbps"},
		{999.94, "999.9 Kbps"},
		{1000, "1.00 Mbps"},
		{12340, "12.34 Mbps"},
	}
	for _, tt := range tests {
		if got := formatRate(tt.kbps); got != tt.want {
			t.Errorf("formatRate(%v) = %q, want %q", tt.kbps, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 20, "5.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatTime(t *testing.T) {
	now := time.Now()
	tests := []struct {
		at   time.Time
		want string
	}{
		{now, "just now"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-49 * time.Hour), "2d ago"},
	}
	for _, tt := range tests {
		if got := formatTime(tt.at); got != tt.want {
			t.Errorf("formatTime(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}

func TestTruncateName(t *testing.T) {
	if got := truncateName("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := truncateName("a-rather-long-node-name", 10); got != "a-rathe..." {
		t.Fatalf("got %q", got)
	}
}
