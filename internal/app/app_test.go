package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"corpvpn/internal/core/types"
	pkgerrors "corpvpn/pkg/errors"
)

func newTestApp(t *testing.T, settings string) *App {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SUDO_USER", "")
	t.Setenv("SUDO_UID", "")

	path := filepath.Join(home, SettingsFile)
	if err := os.WriteFile(path, []byte(settings), 0o600); err != nil {
		t.Fatal(err)
	}
	a, err := New(Options{SettingsPath: path, LogToFile: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewCreatesLayout(t *testing.T) {
	a := newTestApp(t, "xray:\n  binary: /nonexistent/xray\n")

	for _, p := range []string{a.Config.DBPath, a.Profiles.ProfilePath(), a.Config.LogPath} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s: %v", p, err)
		}
	}
	if filepath.Dir(a.Config.ArtifactPath) != a.Config.RuntimeDir {
		t.Fatalf("artifact %s outside runtime dir %s", a.Config.ArtifactPath, a.Config.RuntimeDir)
	}
	if a.Supervisor.State() != types.StateStopped {
		t.Fatalf("state = %s", a.Supervisor.State())
	}
}

func TestConnectWithoutBinary(t *testing.T) {
	a := newTestApp(t, "xray:\n  binary: /nonexistent/xray\n")

	st, err := a.Supervisor.Connect(context.Background())
	if !errors.Is(err, pkgerrors.ErrBinaryMissing) {
		t.Fatalf("error = %v, want ErrBinaryMissing", err)
	}
	if st != types.StateStopped {
		t.Fatalf("state = %s", st)
	}
	if _, err := os.Stat(a.Config.ArtifactPath); !os.IsNotExist(err) {
		t.Fatalf("artifact written on rejected connect: %v", err)
	}
}

func TestStartStopWorkers(t *testing.T) {
	a := newTestApp(t, `
xray:
  binary: /nonexistent/xray
watch_profile: true
subscriptions:
  urls: ["http://127.0.0.1:1/sub"]
  timeout_sec: 1
`)
	ctx := context.Background()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Start(ctx); err == nil {
		t.Fatal("second Start succeeded")
	}
	a.Stop()
	a.Stop()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestOnStats(t *testing.T) {
	a := newTestApp(t, "")

	var got []types.Stats
	a.OnStats(func(s types.Stats) { got = append(got, s) })
	a.emitStats(types.Stats{Kbps: 8})
	a.OnStats(nil)
	a.emitStats(types.Stats{Kbps: 16})

	if len(got) != 1 || got[0].Kbps != 8 {
		t.Fatalf("got %+v", got)
	}
}
