package sysproxy

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

type recorder struct {
	calls [][]string
	fail  string
}

func (r *recorder) run(_ context.Context, name string, args ...string) (string, error) {
	call := append([]string{name}, args...)
	r.calls = append(r.calls, call)
	if r.fail != "" && strings.Contains(strings.Join(call, " "), r.fail) {
		return "", errors.New("exit status 1")
	}
	return "", nil
}

func TestSetEnableGnome(t *testing.T) {
	rec := &recorder{}
	p := &Proxy{SOCKSAddr: "127.0.0.1:10808", run: rec.run}

	if err := p.Set(context.Background(), true, "127.0.0.1:10809"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	want := []string{
		"gsettings set org.gnome.system.proxy.http host 127.0.0.1",
		"gsettings set org.gnome.system.proxy.http port 10809",
		"gsettings set org.gnome.system.proxy.https port 10809",
		"gsettings set org.gnome.system.proxy.socks port 10808",
		"gsettings set org.gnome.system.proxy mode manual",
	}
	seen := map[string]bool{}
	for _, c := range rec.calls {
		seen[strings.Join(c, " ")] = true
	}
	for _, cmd := range want {
		if !seen[cmd] {
			t.Errorf("missing command %q", cmd)
		}
	}
	if last := strings.Join(rec.calls[len(rec.calls)-1], " "); last != "gsettings set org.gnome.system.proxy mode manual" {
		t.Errorf("mode switched before addresses were set; last command %q", last)
	}
}

func TestSetDisableGnome(t *testing.T) {
	rec := &recorder{}
	p := &Proxy{run: rec.run}

	if err := p.Set(context.Background(), false, ""); err != nil {
		t.Fatalf("Set: %v", err)
	}
	want := [][]string{{"gsettings", "set", "org.gnome.system.proxy", "mode", "none"}}
	if !reflect.DeepEqual(rec.calls, want) {
		t.Fatalf("calls = %v", rec.calls)
	}
}

func TestSetErrors(t *testing.T) {
	rec := &recorder{fail: "https"}
	p := &Proxy{run: rec.run}

	if err := p.Set(context.Background(), true, "127.0.0.1:10809"); err == nil {
		t.Fatal("expected command failure")
	}
	if err := p.Set(context.Background(), true, "no-port"); err == nil {
		t.Fatal("expected invalid address error")
	}
}
