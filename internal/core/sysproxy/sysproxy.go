// Package sysproxy points the host's system proxy at the local core.
package sysproxy

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
)

// Proxy toggles the desktop's system proxy. HTTP and HTTPS go to the
// address passed to Set; SOCKS is configured too where the platform has a
// separate setting and SOCKSAddr is non-empty.
type Proxy struct {
	SOCKSAddr string

	run func(ctx context.Context, name string, args ...string) (string, error)
}

// New returns a Proxy for the current platform.
func New(socksAddr string) *Proxy {
	return &Proxy{SOCKSAddr: socksAddr, run: runCommand}
}

// Set enables the system proxy for addr, or disables it. addr is ignored
// when disabling.
func (p *Proxy) Set(ctx context.Context, enabled bool, addr string) error {
	if !enabled {
		return p.disable(ctx)
	}
	if _, _, err := splitAddr(addr); err != nil {
		return err
	}
	return p.enable(ctx, addr)
}

func splitAddr(addr string) (host, port string, err error) {
	host, port, err = net.SplitHostPort(addr)
	if err != nil {
		return "", "", fmt.Errorf("invalid proxy address %q: %w", addr, err)
	}
	if host == "" || port == "" {
		return "", "", fmt.Errorf("invalid proxy address %q", addr)
	}
	return host, port, nil
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}
