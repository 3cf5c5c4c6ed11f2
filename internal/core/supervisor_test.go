package core

import (
	"context"
	"errors"
	"os"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"corpvpn/internal/core/types"
	"corpvpn/internal/storage/models"
	pkgerrors "corpvpn/pkg/errors"
)

func TestConnectDisconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	state, err := h.sup.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if state != types.StateRunning || !h.sup.IsRunning() {
		t.Fatalf("state = %v, want running", state)
	}
	if _, err := os.Stat(h.artifact); err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	if h.proxy.addr != "127.0.0.1:10809" {
		t.Fatalf("proxy addr = %q", h.proxy.addr)
	}
	status := h.sup.Status(ctx)
	if status.Server != "vpn.example:443" || status.PID != 1000 {
		t.Fatalf("status = %+v", status)
	}

	proc := h.launcher.last()
	h.sup.Disconnect(ctx)
	if h.sup.State() != types.StateStopped {
		t.Fatalf("state after disconnect = %v", h.sup.State())
	}
	if !proc.terminated.Load() {
		t.Fatal("process was not terminated")
	}
	if got := h.proxy.history(); !reflect.DeepEqual(got, []bool{true, false}) {
		t.Fatalf("proxy calls = %v", got)
	}
	if len(h.journal.opened) != 1 || len(h.journal.closed) != 1 {
		t.Fatalf("journal opened=%d closed=%d", len(h.journal.opened), len(h.journal.closed))
	}

	// Idempotent.
	h.sup.Disconnect(ctx)
	if got := h.proxy.history(); len(got) != 2 {
		t.Fatalf("second disconnect touched the proxy: %v", got)
	}
}

func TestConnectWhileRunningIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.sup.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	state, err := h.sup.Connect(ctx)
	if err != nil || state != types.StateRunning {
		t.Fatalf("second Connect = %v, %v", state, err)
	}
	if h.launcher.starts() != 1 {
		t.Fatalf("starts = %d, want 1", h.launcher.starts())
	}
}

func TestConnectRejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		wantErr error
	}{
		{
			name:    "binary missing",
			setup:   func(h *harness) { h.launcher.exists = false },
			wantErr: pkgerrors.ErrBinaryMissing,
		},
		{
			name:    "missing descriptor",
			setup:   func(h *harness) { h.profiles.profile = &models.Profile{} },
			wantErr: pkgerrors.ErrMissingDescriptor,
		},
		{
			name:    "invalid uri",
			setup:   func(h *harness) { h.profiles.profile = &models.Profile{VLESSURI: "vmess://x@h"} },
			wantErr: pkgerrors.ErrURIInvalid,
		},
		{
			name:    "early exit",
			setup:   func(h *harness) { h.launcher.exitEarly = true },
			wantErr: pkgerrors.ErrEarlyExit,
		},
		{
			name:    "spawn failure",
			setup:   func(h *harness) { h.launcher.startErr = pkgerrors.ErrSpawnFailed },
			wantErr: pkgerrors.ErrSpawnFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)

			state, err := h.sup.Connect(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if state != types.StateStopped || h.sup.State() != types.StateStopped {
				t.Fatalf("state = %v", h.sup.State())
			}
			if got := h.proxy.history(); len(got) != 0 {
				t.Fatalf("proxy touched: %v", got)
			}
			if h.sup.Status(context.Background()).LastError == "" {
				t.Fatal("last error not recorded")
			}
		})
	}
}

func TestConnectConfigErrorType(t *testing.T) {
	h := newHarness(t)
	h.profiles.profile = &models.Profile{}

	_, err := h.sup.Connect(context.Background())
	var cerr *pkgerrors.ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %T %v, want *ConfigError", err, err)
	}
	if h.launcher.starts() != 0 {
		t.Fatal("core started despite config error")
	}
}

func TestConnectProxyFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.proxy.failEnable = errors.New("registry denied")

	state, err := h.sup.Connect(context.Background())
	if !errors.Is(err, pkgerrors.ErrProxyToggleFailed) {
		t.Fatalf("error = %v", err)
	}
	if state != types.StateStopped {
		t.Fatalf("state = %v", state)
	}
	if !h.launcher.last().terminated.Load() {
		t.Fatal("process left running after proxy failure")
	}
	if len(h.journal.opened) != 0 {
		t.Fatal("session recorded for failed connect")
	}
}

func TestToggleTunReconnects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.sup.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	first := h.launcher.last()

	enabled, err := h.sup.ToggleTun(ctx)
	if err != nil || !enabled {
		t.Fatalf("ToggleTun = %v, %v", enabled, err)
	}
	if !first.terminated.Load() || h.launcher.starts() != 2 {
		t.Fatalf("expected restart: terminated=%v starts=%d", first.terminated.Load(), h.launcher.starts())
	}
	data, err := os.ReadFile(h.artifact)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"tun-in"`) {
		t.Fatal("artifact lacks tun inbound after toggle")
	}
	if !h.sup.Status(ctx).TunEnabled {
		t.Fatal("status does not report tun")
	}
}

func TestToggleTunStopped(t *testing.T) {
	h := newHarness(t)

	enabled, err := h.sup.ToggleTun(context.Background())
	if err != nil || !enabled {
		t.Fatalf("ToggleTun = %v, %v", enabled, err)
	}
	if h.launcher.starts() != 0 {
		t.Fatal("toggle while stopped started the core")
	}
	if st, _ := h.states.LoadState(); !st.TunEnabled {
		t.Fatal("flag not persisted")
	}
}

func TestToggleTunFailedReconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.sup.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.launcher.mu.Lock()
	h.launcher.exitEarly = true
	h.launcher.mu.Unlock()

	if _, err := h.sup.ToggleTun(ctx); !errors.Is(err, pkgerrors.ErrEarlyExit) {
		t.Fatalf("ToggleTun error = %v", err)
	}
	if h.sup.State() != types.StateStopped {
		t.Fatalf("state = %v, want stopped", h.sup.State())
	}
}

func TestSetTunUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.sup.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := h.sup.SetTun(ctx, false); err != nil {
		t.Fatalf("SetTun: %v", err)
	}
	if h.launcher.starts() != 1 {
		t.Fatal("unchanged flag caused a restart")
	}
}

func TestAutostartOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := h.sup.Connect(ctx); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		h.sup.bg.Wait()
		h.sup.Disconnect(ctx)
	}

	if got := h.autostart.calls.Load(); got != 1 {
		t.Fatalf("autostart calls = %d, want 1", got)
	}
	if st, _ := h.states.LoadState(); !st.AutostartDone {
		t.Fatal("autostart flag not persisted")
	}
}

func TestAutostartFailureRetried(t *testing.T) {
	h := newHarness(t)
	h.autostart.err = errors.New("schtasks failed")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := h.sup.Connect(ctx); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		h.sup.bg.Wait()
		h.sup.Disconnect(ctx)
	}

	if got := h.autostart.calls.Load(); got != 2 {
		t.Fatalf("autostart calls = %d, want 2", got)
	}
}

func TestCheckRestartsDeadCore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if restarted, _ := h.sup.Check(ctx); restarted {
		t.Fatal("Check restarted a stopped core")
	}
	if _, err := h.sup.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if restarted, _ := h.sup.Check(ctx); restarted {
		t.Fatal("Check restarted a healthy core")
	}

	h.launcher.last().exit()
	restarted, err := h.sup.Check(ctx)
	if !restarted || err != nil {
		t.Fatalf("Check = %v, %v", restarted, err)
	}
	if h.launcher.starts() != 2 || !h.sup.IsRunning() {
		t.Fatalf("starts=%d state=%v", h.launcher.starts(), h.sup.State())
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to types.State
		ok       bool
	}{
		{types.StateStopped, types.StateStarting, true},
		{types.StateStopped, types.StateRunning, false},
		{types.StateStarting, types.StateRunning, true},
		{types.StateStarting, types.StateFailed, true},
		{types.StateFailed, types.StateStopped, true},
		{types.StateFailed, types.StateRunning, false},
		{types.StateRunning, types.StateStopping, true},
		{types.StateRunning, types.StateStopped, false},
		{types.StateStopping, types.StateStopped, true},
	}
	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("canTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestStatusReusesProcessHandle(t *testing.T) {
	s := NewSupervisor(Config{}, Deps{})
	ctx := context.Background()
	pid := os.Getpid()

	s.resourceUsage(ctx, pid)
	first := s.statProc
	if first == nil || first.Pid != int32(pid) {
		t.Fatalf("no handle cached for pid %d", pid)
	}

	// Burn some CPU so the interval since the first call is measurable.
	deadline := time.Now().Add(200 * time.Millisecond)
	for n := 0; time.Now().Before(deadline); n++ {
		_ = strconv.Itoa(n)
	}

	rss, cpu := s.resourceUsage(ctx, pid)
	if s.statProc != first {
		t.Fatal("handle recreated for the same pid")
	}
	if rss == 0 {
		t.Fatal("RSS = 0 for a live process")
	}
	if cpu <= 0 {
		t.Fatalf("CPU = %v after a busy interval, want > 0", cpu)
	}

	ppid := os.Getppid()
	s.resourceUsage(ctx, ppid)
	if s.statProc == first || s.statProc == nil || s.statProc.Pid != int32(ppid) {
		t.Fatal("handle not replaced after pid change")
	}
}
