package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"corpvpn/internal/config/parser"
	"corpvpn/internal/storage/models"
)

// Editable rows.
const (
	rowURI = iota
	rowTun
	rowCount
)

type profileModel struct {
	profile *models.Profile
	state   models.AppState
	err     error

	cursor  int
	editing bool
	input   textinput.Model
	width   int
	height  int
}

func newProfileModel() profileModel {
	ti := textinput.New()
	ti.CharLimit = 4096
	ti.Prompt = "> "
	ti.Placeholder = "vless://uuid@host:443?security=reality&...  (empty = fastest node)"
	ti.PromptStyle = lipgloss.NewStyle().Foreground(colorAccent)
	ti.TextStyle = lipgloss.NewStyle().Foreground(colorFg)

	return profileModel{input: ti}
}

func (pm *profileModel) setSize(w, h int) {
	pm.width = w
	pm.height = h
	pm.input.Width = max(w-24, 20)
}

func (pm *profileModel) setProfile(msg profileLoadedMsg) {
	pm.profile = msg.profile
	pm.state = msg.state
	pm.err = msg.err
}

// describeURI summarizes the profile's server for display.
func (pm *profileModel) describeURI() string {
	switch {
	case pm.profile == nil:
		return "-"
	case pm.profile.VLESSURI != "":
		return parser.Label(pm.profile.VLESSURI)
	}
	if _, ok := pm.profile.OutboundObject(); ok {
		return "custom outbound"
	}
	return "not set, fastest subscription node"
}

func (pm *profileModel) Update(msg tea.Msg, root *Model) tea.Cmd {
	if pm.editing {
		return pm.updateEditing(msg, root)
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "up", "k":
			if pm.cursor > 0 {
				pm.cursor--
			}
		case "down", "j":
			if pm.cursor < rowCount-1 {
				pm.cursor++
			}
		case "enter", "left", "right", "h", "l":
			if pm.cursor == rowTun {
				return root.toggleTun()
			}
			if msg.String() != "enter" {
				return nil
			}
			pm.editing = true
			if pm.profile != nil {
				pm.input.SetValue(pm.profile.VLESSURI)
			}
			pm.input.CursorEnd()
			pm.input.Focus()
			return textinput.Blink
		}
	}
	return nil
}

func (pm *profileModel) updateEditing(msg tea.Msg, root *Model) tea.Cmd {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, keys.Back):
			pm.editing = false
			pm.input.Blur()
			return nil
		case key.Matches(msg, keys.Enter):
			pm.editing = false
			pm.input.Blur()
			return saveURI(root.deps, strings.TrimSpace(pm.input.Value()))
		}
	}

	var cmd tea.Cmd
	pm.input, cmd = pm.input.Update(msg)
	return cmd
}

func (pm *profileModel) View(d Deps) string {
	var b strings.Builder

	b.WriteString(cardTitleStyle.Render("Profile"))
	b.WriteString("\n")

	if pm.err != nil {
		b.WriteString(errorStyle.Render(pm.err.Error()) + "\n\n")
	}

	rows := []struct {
		label, value, hint string
	}{
		{"Server", pm.describeURI(), "enter to edit the VLESS URI, empty to clear"},
		{"TUN mode", onOff(pm.state.TunEnabled), "enter/arrows to toggle, restarts a running core"},
	}
	for i, r := range rows {
		selected := i == pm.cursor
		if selected {
			label := selectedRowStyle.Width(14).Render("> " + r.label)
			if pm.editing && i == rowURI {
				b.WriteString(label + pm.input.View() + "\n")
				continue
			}
			b.WriteString(label + cardValueStyle.Render(r.value) + "\n")
			b.WriteString(dimStyle.PaddingLeft(4).Render(r.hint) + "\n")
			continue
		}
		b.WriteString(lipgloss.NewStyle().Foreground(colorFg).Width(14).Render("  "+r.label) +
			dimStyle.Render(r.value) + "\n")
	}

	autostart := "pending first connect"
	if pm.state.AutostartDone {
		autostart = "registered"
	}
	sources := "none"
	if d.Subscriptions != nil && d.Subscriptions.Configured() {
		sources = "configured"
	}

	b.WriteString("\n")
	for _, r := range [][2]string{
		{"SOCKS5", d.Options.SOCKSAddr()},
		{"HTTP", d.Options.ProxyAddr() + " (system proxy)"},
		{"Autostart", autostart},
		{"Sources", sources},
		{"File", d.Profiles.ProfilePath()},
	} {
		b.WriteString("  " + cardLabelStyle.Render(r[0]+":") + " " + dimStyle.Render(r[1]) + "\n")
	}

	return forceHeight(b.String(), pm.width, pm.height)
}
