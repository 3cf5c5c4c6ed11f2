package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"corpvpn/internal/core"
	"corpvpn/internal/core/tun"
	"corpvpn/internal/core/types"
	"corpvpn/internal/core/xray"
	"corpvpn/internal/latency"
	"corpvpn/internal/profile"
	"corpvpn/internal/storage"
	"corpvpn/internal/subscription"
)

// Tab indices.
const (
	tabStatus  = 0
	tabNodes   = 1
	tabProfile = 2
	tabCount   = 3
)

// Model is the root BubbleTea model.
type Model struct {
	deps    Deps
	program *tea.Program

	// Dimensions.
	width  int
	height int

	// Navigation.
	activeTab int
	showHelp  bool

	// Connection state.
	state      types.State
	tunEnabled bool
	connecting bool
	tunBusy    bool

	// Tab models.
	statusTab  statusModel
	nodesTab   nodesModel
	profileTab profileModel

	// Notification.
	notification    string
	notificationErr bool
	notifVersion    int

	// Spinner for async operations.
	spinner spinner.Model
}

// Deps holds all dependencies injected into the TUI.
type Deps struct {
	Supervisor    *core.Supervisor
	Profiles      *profile.Store
	Subscriptions *subscription.Manager
	Selector      *subscription.Selector
	Tester        *latency.Tester
	Storage       storage.Storage
	Options       xray.Options
}

// NewModel creates a new root Model.
func NewModel(deps Deps) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return &Model{
		deps:       deps,
		activeTab:  tabStatus,
		spinner:    s,
		statusTab:  newStatusModel(),
		nodesTab:   newNodesModel(),
		profileTab: newProfileModel(),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		loadNodes(m.deps),
		loadProfile(m.deps),
		pollStatus(m.deps),
		statusTick(),
		m.spinner.Tick,
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	prevNotifVersion := m.notifVersion

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		ch := m.contentHeight()
		m.statusTab.setSize(msg.Width, ch)
		m.nodesTab.setSize(msg.Width, ch)
		m.profileTab.setSize(msg.Width, ch)
		return m, nil

	case tea.KeyMsg:
		if cmd := m.handleGlobalKey(msg); cmd != nil {
			return m, cmd
		}

	// Data loading.
	case nodesLoadedMsg:
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Load nodes: %v", msg.err), true)
		} else {
			m.nodesTab.setNodes(msg.nodes, msg.latency)
		}
	case profileLoadedMsg:
		m.profileTab.setProfile(msg)
		m.tunEnabled = msg.state.TunEnabled

	// Connection.
	case connectResultMsg:
		m.connecting = false
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Connect failed: %v", msg.err), true)
		} else {
			m.statusTab.resetTraffic()
			m.setNotification("Connected", false)
		}
		cmds = append(cmds, pollStatus(m.deps), loadProfile(m.deps))
	case disconnectResultMsg:
		m.connecting = false
		m.setNotification("Disconnected", false)
		cmds = append(cmds, pollStatus(m.deps))
	case tunResultMsg:
		m.tunBusy = false
		switch {
		case msg.err != nil:
			m.setNotification(fmt.Sprintf("TUN toggle failed: %v", msg.err), true)
		case msg.enabled && !tun.Elevated():
			m.setNotification("TUN mode on, but it needs root/Administrator to open the device", true)
		default:
			m.setNotification("TUN mode "+onOff(msg.enabled), false)
		}
		cmds = append(cmds, pollStatus(m.deps), loadProfile(m.deps))

	// Status polling.
	case statusTickMsg:
		cmds = append(cmds, pollStatus(m.deps), statusTick())
	case statusResultMsg:
		if m.state == types.StateRunning && !msg.status.Running() && !m.connecting {
			m.setNotification("Connection lost, core process stopped", true)
		}
		m.state = msg.status.State
		if msg.status.Running() {
			m.tunEnabled = msg.status.TunEnabled
		}
		m.statusTab.updateStatus(msg)
	case statsMsg:
		m.statusTab.addSample(msg.stats)

	// Latency.
	case latencyTestProgressMsg:
		m.nodesTab.updateProgress(msg)
	case latencyTestDoneMsg:
		m.nodesTab.testing = false
		m.nodesTab.adjustTableHeight()
		b := msg.batch
		if best := b.Best(); best != nil {
			m.setNotification(fmt.Sprintf("Probed %d: %d ok, %d failed, best %s (%d ms)",
				b.Tested, b.Succeeded, b.Failed, best.Node.Name, best.DelayMS()), false)
		} else {
			m.setNotification(fmt.Sprintf("Probed %d: no node reachable", b.Tested), true)
		}
		cmds = append(cmds, loadNodes(m.deps))

	// Subscription.
	case subUpdateResultMsg:
		m.nodesTab.updating = false
		m.nodesTab.adjustTableHeight()
		switch {
		case msg.err != nil:
			m.setNotification(fmt.Sprintf("Update failed: %v", msg.err), true)
		case msg.result.Failed > 0:
			m.setNotification(fmt.Sprintf("Updated: %d nodes, %d of %d sources failed",
				msg.result.Nodes, msg.result.Failed, len(msg.result.Sources)), true)
		default:
			m.setNotification(fmt.Sprintf("Updated: %d nodes from %d sources",
				msg.result.Nodes, len(msg.result.Sources)), false)
		}
		cmds = append(cmds, loadNodes(m.deps))

	// Profile.
	case profileSavedMsg:
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Save %s: %v", msg.what, msg.err), true)
		} else {
			m.setNotification(fmt.Sprintf("Saved %s", msg.what), false)
		}
		cmds = append(cmds, loadProfile(m.deps), pollStatus(m.deps))

	// Notification.
	case clearNotificationMsg:
		if msg.version == m.notifVersion {
			m.notification = ""
			m.notificationErr = false
		}
	}

	if m.busy() {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	// Schedule notification auto-clear when a new notification was set.
	if m.notifVersion > prevNotifVersion && m.notification != "" {
		cmds = append(cmds, clearNotification(4*time.Second, m.notifVersion))
	}

	// Delegate to active tab.
	switch m.activeTab {
	case tabStatus:
		cmds = append(cmds, m.statusTab.Update(msg, m))
	case tabNodes:
		cmds = append(cmds, m.nodesTab.Update(msg, m))
	case tabProfile:
		cmds = append(cmds, m.profileTab.Update(msg, m))
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) busy() bool {
	return m.connecting || m.tunBusy || m.nodesTab.testing || m.nodesTab.updating
}

func (m *Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	server := ""
	if st := m.statusTab.status; st != nil {
		server = st.Server
	}
	header := renderHeader(m.activeTab, m.state, m.connecting || m.tunBusy, m.tunEnabled, server, m.width)

	var content string
	switch m.activeTab {
	case tabStatus:
		content = m.statusTab.View()
	case tabNodes:
		content = m.nodesTab.View(m.spinner)
	case tabProfile:
		content = m.profileTab.View(m.deps)
	}

	var notif string
	if m.notification != "" {
		if m.notificationErr {
			notif = notifErrorStyle.Render("! " + m.notification)
		} else {
			notif = notifSuccessStyle.Render("* " + m.notification)
		}
	}

	footer := renderFooter(renderHelpBar(m.showHelp), m.width)

	parts := []string{header}
	if notif != "" {
		parts = append(parts, notif)
	}
	parts = append(parts, content, footer)
	output := lipgloss.JoinVertical(lipgloss.Left, parts...)

	// Force exactly m.height lines to prevent BubbleTea rendering drift.
	return forceHeight(output, m.width, m.height)
}

// forceHeight ensures the string has exactly `height` lines, each padded to `width`.
// This prevents BubbleTea from leaving ghost lines when switching tabs.
func forceHeight(s string, width, height int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	blank := strings.Repeat(" ", width)
	for len(lines) < height {
		lines = append(lines, blank)
	}
	return strings.Join(lines, "\n")
}

func (m *Model) contentHeight() int {
	overhead := 5
	if m.showHelp {
		overhead += 3
	}
	return max(m.height-overhead, 1)
}

func (m *Model) handleGlobalKey(msg tea.KeyMsg) tea.Cmd {
	// Don't intercept while the URI is being edited.
	if m.activeTab == tabProfile && m.profileTab.editing {
		return nil
	}

	switch {
	case key.Matches(msg, keys.Quit):
		return tea.Quit

	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp
		ch := m.contentHeight()
		m.statusTab.setSize(m.width, ch)
		m.nodesTab.setSize(m.width, ch)
		m.profileTab.setSize(m.width, ch)
		return nil

	case key.Matches(msg, keys.TabNext):
		m.activeTab = (m.activeTab + 1) % tabCount
		return nil

	case key.Matches(msg, keys.TabPrev):
		m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		return nil

	case key.Matches(msg, keys.Connect):
		if m.state != types.StateRunning && !m.connecting {
			m.connecting = true
			return tea.Batch(connect(m.deps), m.spinner.Tick)
		}
		return nil

	case key.Matches(msg, keys.Disconnect):
		if m.state == types.StateRunning && !m.connecting {
			m.connecting = true
			return tea.Batch(disconnect(m.deps), m.spinner.Tick)
		}
		return nil

	case key.Matches(msg, keys.Tun):
		return m.toggleTun()

	case key.Matches(msg, keys.Refresh):
		return tea.Batch(
			loadNodes(m.deps),
			loadProfile(m.deps),
			pollStatus(m.deps),
		)
	}

	return nil
}

// toggleTun starts a TUN toggle unless one is already in flight.
func (m *Model) toggleTun() tea.Cmd {
	if m.tunBusy || m.connecting {
		return nil
	}
	m.tunBusy = true
	return tea.Batch(toggleTun(m.deps), m.spinner.Tick)
}

func (m *Model) setNotification(text string, isErr bool) {
	m.notification = text
	m.notificationErr = isErr
	m.notifVersion++
}

// NewProgram creates a bubbletea program with alt screen.
func NewProgram(deps Deps) *tea.Program {
	m := NewModel(deps)
	p := tea.NewProgram(m, tea.WithAltScreen())
	m.program = p
	return p
}

// SendStats forwards a throughput sample to a running program. It is safe
// to call from any goroutine.
func SendStats(p *tea.Program, st types.Stats) {
	p.Send(statsMsg{stats: st})
}
