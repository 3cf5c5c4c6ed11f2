package autostart

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInstallDesktopEntry(t *testing.T) {
	home := t.TempDir()
	i := &Installer{Exe: "/opt/corp vpn/corpvpn", Args: []string{"connect"}, home: home}

	if err := i.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(home, ".config", "autostart", "corpvpn.desktop"))
	if err != nil {
		t.Fatalf("entry not written: %v", err)
	}
	if !strings.Contains(string(data), `Exec="/opt/corp vpn/corpvpn" "connect"`) {
		t.Fatalf("unexpected entry:\n%s", data)
	}

	// Install again replaces the entry.
	i.Args = nil
	if err := i.Install(context.Background()); err != nil {
		t.Fatalf("second Install: %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(home, ".config", "autostart", "corpvpn.desktop"))
	if strings.Contains(string(data), `"connect"`) {
		t.Fatal("entry not replaced")
	}
}

func TestInstallRequiresExecutable(t *testing.T) {
	i := &Installer{home: t.TempDir()}
	if err := i.Install(context.Background()); err == nil {
		t.Fatal("expected error without executable")
	}
}

func TestCommandLineQuoting(t *testing.T) {
	i := &Installer{Exe: `C:\Program Files\corpvpn.exe`, Args: []string{`say "hi"`}}
	want := `"C:\Program Files\corpvpn.exe" "say \"hi\""`
	if got := i.commandLine(); got != want {
		t.Fatalf("commandLine() = %s, want %s", got, want)
	}
}
