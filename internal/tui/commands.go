package tui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"corpvpn/internal/config/parser"
	"corpvpn/internal/core/types"
	"corpvpn/internal/latency"
	"corpvpn/internal/storage/models"
)

// loadNodes fetches the cached subscription nodes with their latest delay.
func loadNodes(d Deps) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		nodes, err := d.Subscriptions.Nodes(ctx)
		if err != nil {
			return nodesLoadedMsg{err: err}
		}
		lat := make(map[int64]*models.LatencyTest, len(nodes))
		for _, n := range nodes {
			if lt, err := d.Storage.GetLatestLatency(ctx, n.ID); err == nil && lt != nil {
				lat[n.ID] = lt
			}
		}
		return nodesLoadedMsg{nodes: nodes, latency: lat}
	}
}

// loadProfile reads the profile and the persisted flags.
func loadProfile(d Deps) tea.Cmd {
	return func() tea.Msg {
		p, err := d.Profiles.Profile(context.Background())
		if err != nil {
			return profileLoadedMsg{err: err}
		}
		state, err := d.Profiles.LoadState()
		return profileLoadedMsg{profile: p, state: state, err: err}
	}
}

// connect starts the core for the current profile.
func connect(d Deps) tea.Cmd {
	return func() tea.Msg {
		_, err := d.Supervisor.Connect(context.Background())
		return connectResultMsg{err: err}
	}
}

// disconnect stops the core and clears the system proxy.
func disconnect(d Deps) tea.Cmd {
	return func() tea.Msg {
		d.Supervisor.Disconnect(context.Background())
		return disconnectResultMsg{}
	}
}

// toggleTun flips TUN mode, restarting a running core.
func toggleTun(d Deps) tea.Cmd {
	return func() tea.Msg {
		enabled, err := d.Supervisor.ToggleTun(context.Background())
		return tunResultMsg{enabled: enabled, err: err}
	}
}

// pollStatus fetches the supervisor status and the selected node.
func pollStatus(d Deps) tea.Cmd {
	return func() tea.Msg {
		st := d.Supervisor.Status(context.Background())
		node, delay := d.Selector.Current()
		return statusResultMsg{status: st, node: node, delay: delay}
	}
}

// statusTick returns a tea.Cmd that fires after a second.
func statusTick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return statusTickMsg{}
	})
}

// testBatchLatency probes nodes with progress reporting via program.Send.
func testBatchLatency(d Deps, nodes []*models.Node, p *tea.Program) tea.Cmd {
	return func() tea.Msg {
		progress := func(result *latency.TestResult, current, total int) {
			if p != nil {
				p.Send(latencyTestProgressMsg{result: result, current: current, total: total})
			}
		}
		batch := d.Tester.TestBatch(context.Background(), nodes, progress)
		return latencyTestDoneMsg{batch: batch}
	}
}

// updateSubscriptions refreshes every subscription source.
func updateSubscriptions(d Deps) tea.Cmd {
	return func() tea.Msg {
		result, err := d.Subscriptions.Update(context.Background())
		return subUpdateResultMsg{result: result, err: err}
	}
}

// saveURI validates and stores a new VLESS URI. An empty URI clears the
// profile so the next connect picks a subscription node.
func saveURI(d Deps, uri string) tea.Cmd {
	return func() tea.Msg {
		if uri != "" {
			if _, err := parser.Compile(uri); err != nil {
				return profileSavedMsg{what: "URI", err: err}
			}
		}
		if err := d.Profiles.SaveProfile(&models.Profile{VLESSURI: uri}); err != nil {
			return profileSavedMsg{what: "URI", err: err}
		}
		return profileSavedMsg{what: "URI", err: reconnectIfRunning(d, "profile edited")}
	}
}

// useNode pins a subscription node as the profile URI.
func useNode(d Deps, node *models.Node) tea.Cmd {
	return func() tea.Msg {
		if err := d.Profiles.SaveProfile(&models.Profile{VLESSURI: node.URI}); err != nil {
			return profileSavedMsg{what: node.Name, err: err}
		}
		return profileSavedMsg{what: node.Name, err: reconnectIfRunning(d, "node pinned")}
	}
}

func reconnectIfRunning(d Deps, reason string) error {
	if d.Supervisor.State() != types.StateRunning {
		return nil
	}
	if err := d.Supervisor.Reconnect(context.Background(), reason); err != nil {
		return errors.Join(errors.New("saved, but reconnect failed"), err)
	}
	return nil
}

// clearNotification fires after d to clear the notification with version.
func clearNotification(d time.Duration, version int) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return clearNotificationMsg{version: version}
	})
}
