package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"corpvpn/internal/core/types"
)

var tabNames = []string{"Status", "Nodes", "Profile"}

func renderHeader(activeTab int, state types.State, busy, tun bool, server string, width int) string {
	logo := logoStyle.Render("CORPVPN")

	var pill string
	switch {
	case busy || state == types.StateStarting || state == types.StateStopping:
		pill = transitionPillStyle.Render(" WORKING ")
	case state == types.StateRunning:
		label := " CONNECTED "
		if server != "" {
			label = fmt.Sprintf(" %s ", server)
		}
		pill = runningPillStyle.Render(label)
	default:
		pill = stoppedPillStyle.Render(" DISCONNECTED ")
	}
	if tun {
		pill = tunBadgeStyle.Render("TUN") + " " + pill
	}

	var tabs []string
	for i, name := range tabNames {
		if i == activeTab {
			tabs = append(tabs, activeTabStyle.Render(name))
		} else {
			tabs = append(tabs, inactiveTabStyle.Render(name))
		}
	}
	tabBar := lipgloss.JoinHorizontal(lipgloss.Bottom, tabs...)

	// First row: logo + pill right-aligned.
	gap := max(width-lipgloss.Width(logo)-lipgloss.Width(pill), 1)
	topRow := logo + strings.Repeat(" ", gap) + pill

	return lipgloss.JoinVertical(lipgloss.Left, topRow, tabBar, separator(width))
}

func renderFooter(helpText string, width int) string {
	return lipgloss.JoinVertical(lipgloss.Left, separator(width), helpBarStyle.Render(helpText))
}

func separator(width int) string {
	return lipgloss.NewStyle().
		Foreground(colorBorder).
		Render(strings.Repeat("─", max(width, 0)))
}

func renderHelpBar(showFull bool) string {
	if showFull {
		return renderFullHelp()
	}
	return renderShortHelp()
}

func renderShortHelp() string {
	var parts []string
	for _, b := range keys.ShortHelp() {
		if !b.Enabled() {
			continue
		}
		parts = append(parts, helpKeyStyle.Render(b.Help().Key)+" "+helpDescStyle.Render(b.Help().Desc))
	}
	return strings.Join(parts, helpSepStyle.Render(" | "))
}

func renderFullHelp() string {
	var lines []string
	for _, group := range keys.FullHelp() {
		var parts []string
		for _, b := range group {
			if !b.Enabled() {
				continue
			}
			parts = append(parts, helpKeyStyle.Render(b.Help().Key)+" "+helpDescStyle.Render(b.Help().Desc))
		}
		lines = append(lines, strings.Join(parts, helpSepStyle.Render("  ")))
	}
	return strings.Join(lines, "\n")
}
