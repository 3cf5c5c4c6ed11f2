package sysproxy

import "context"

const gnomeProxySchema = "org.gnome.system.proxy"

// enable switches the GNOME proxy (Ubuntu/GNOME desktops) to manual mode.
func (p *Proxy) enable(ctx context.Context, addr string) error {
	host, port, _ := splitAddr(addr)

	commands := [][]string{
		{"set", gnomeProxySchema + ".http", "host", host},
		{"set", gnomeProxySchema + ".http", "port", port},
		{"set", gnomeProxySchema + ".https", "host", host},
		{"set", gnomeProxySchema + ".https", "port", port},
		{"set", gnomeProxySchema, "ignore-hosts", "['localhost', '127.0.0.0/8', '::1']"},
	}
	if socksHost, socksPort, err := splitAddr(p.SOCKSAddr); err == nil {
		commands = append(commands,
			[]string{"set", gnomeProxySchema + ".socks", "host", socksHost},
			[]string{"set", gnomeProxySchema + ".socks", "port", socksPort},
		)
	}
	commands = append(commands, []string{"set", gnomeProxySchema, "mode", "manual"})

	for _, args := range commands {
		if _, err := p.run(ctx, "gsettings", args...); err != nil {
			return err
		}
	}
	return nil
}

func (p *Proxy) disable(ctx context.Context) error {
	_, err := p.run(ctx, "gsettings", "set", gnomeProxySchema, "mode", "none")
	return err
}
