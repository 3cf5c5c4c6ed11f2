package sysproxy

import (
	"context"
	"fmt"
	"strings"
)

// enable sets the web, secure web and SOCKS proxies on every enabled
// network service.
func (p *Proxy) enable(ctx context.Context, addr string) error {
	host, port, _ := splitAddr(addr)
	services, err := p.activeNetworkServices(ctx)
	if err != nil {
		return fmt.Errorf("failed to detect network services: %w", err)
	}

	for _, svc := range services {
		commands := [][]string{
			{"-setwebproxy", svc, host, port},
			{"-setwebproxystate", svc, "on"},
			{"-setsecurewebproxy", svc, host, port},
			{"-setsecurewebproxystate", svc, "on"},
		}
		if socksHost, socksPort, err := splitAddr(p.SOCKSAddr); err == nil {
			commands = append(commands,
				[]string{"-setsocksfirewallproxy", svc, socksHost, socksPort},
				[]string{"-setsocksfirewallproxystate", svc, "on"},
			)
		}
		for _, args := range commands {
			if _, err := p.run(ctx, "networksetup", args...); err != nil {
				return fmt.Errorf("failed to configure proxy on %s: %w", svc, err)
			}
		}
	}
	return nil
}

// disable turns the proxies off on every service, reporting the first error.
func (p *Proxy) disable(ctx context.Context) error {
	services, err := p.activeNetworkServices(ctx)
	if err != nil {
		return fmt.Errorf("failed to detect network services: %w", err)
	}

	var firstErr error
	for _, svc := range services {
		for _, flag := range []string{"-setwebproxystate", "-setsecurewebproxystate", "-setsocksfirewallproxystate"} {
			if _, err := p.run(ctx, "networksetup", flag, svc, "off"); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// activeNetworkServices lists the non-disabled network services.
func (p *Proxy) activeNetworkServices(ctx context.Context) ([]string, error) {
	out, err := p.run(ctx, "networksetup", "-listallnetworkservices")
	if err != nil {
		return nil, err
	}

	var services []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		// Disabled services are marked with *.
		if line == "" || strings.HasPrefix(line, "An asterisk") || strings.HasPrefix(line, "*") {
			continue
		}
		services = append(services, line)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("no active network services found")
	}
	return services, nil
}
