package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"corpvpn/internal/storage/models"
)

type nodesModel struct {
	table  table.Model
	nodes  []*models.Node
	width  int
	height int

	updating bool

	testing      bool
	progress     progress.Model
	batchCurrent int
	batchTotal   int
}

func nodeColumns(w int) []table.Column {
	name, addr := 30, 28
	if w > 100 {
		name, addr = w/3, w/4
	}
	return []table.Column{
		{Title: "ID", Width: 5},
		{Title: "Name", Width: name},
		{Title: "Address", Width: addr},
		{Title: "Net", Width: 6},
		{Title: "Delay", Width: 9},
	}
}

func newNodesModel() nodesModel {
	t := table.New(
		table.WithColumns(nodeColumns(0)),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorBorder).
		BorderBottom(true).
		Bold(true).
		Foreground(colorAccent)
	s.Selected = s.Selected.
		Foreground(colorFg).
		Background(lipgloss.AdaptiveColor{Light: "#DCE8FA", Dark: "#1A2A44"}).
		Bold(true)
	t.SetStyles(s)

	return nodesModel{
		table:    t,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
}

func (nm *nodesModel) setSize(w, h int) {
	nm.width = w
	nm.height = h
	nm.table.SetColumns(nodeColumns(w))
	nm.progress.Width = max(w-24, 10)
	nm.adjustTableHeight()
}

// adjustTableHeight leaves one line for the activity indicator while it is
// shown.
func (nm *nodesModel) adjustTableHeight() {
	overhead := 0
	if nm.testing || nm.updating {
		overhead++
	}
	nm.table.SetHeight(max(nm.height-overhead, 1))
}

func (nm *nodesModel) setNodes(nodes []*models.Node, lat map[int64]*models.LatencyTest) {
	nm.nodes = nodes
	rows := make([]table.Row, len(nodes))
	for i, n := range nodes {
		delay := "-"
		if lt, ok := lat[n.ID]; ok {
			delay = "fail"
			if lt.Success && lt.LatencyMS != nil {
				delay = fmt.Sprintf("%d ms", *lt.LatencyMS)
			}
		}
		rows[i] = table.Row{
			fmt.Sprintf("%d", n.ID),
			truncate(n.Name, 40),
			fmt.Sprintf("%s:%d", n.Address, n.Port),
			n.Network,
			delay,
		}
	}
	nm.table.SetRows(rows)
	if nm.table.Cursor() >= len(rows) {
		nm.table.GotoTop()
	}
}

func (nm *nodesModel) selectedNode() *models.Node {
	idx := nm.table.Cursor()
	if idx >= 0 && idx < len(nm.nodes) {
		return nm.nodes[idx]
	}
	return nil
}

func (nm *nodesModel) updateProgress(msg latencyTestProgressMsg) {
	nm.batchCurrent = msg.current
	nm.batchTotal = msg.total
}

func (nm *nodesModel) Update(msg tea.Msg, root *Model) tea.Cmd {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, keys.Enter):
			if n := nm.selectedNode(); n != nil {
				return useNode(root.deps, n)
			}

		case key.Matches(msg, keys.TestBatch):
			if len(nm.nodes) > 0 && !nm.testing {
				nm.testing = true
				nm.batchCurrent = 0
				nm.batchTotal = len(nm.nodes)
				nm.adjustTableHeight()
				return tea.Batch(testBatchLatency(root.deps, nm.nodes, root.program), root.spinner.Tick)
			}

		case key.Matches(msg, keys.Update):
			if !nm.updating {
				if !root.deps.Subscriptions.Configured() {
					root.setNotification("No subscription sources configured", true)
					return nil
				}
				nm.updating = true
				nm.adjustTableHeight()
				return tea.Batch(updateSubscriptions(root.deps), root.spinner.Tick)
			}
		}
	}

	var cmd tea.Cmd
	nm.table, cmd = nm.table.Update(msg)
	return cmd
}

func (nm *nodesModel) View(s spinner.Model) string {
	var b strings.Builder

	switch {
	case nm.testing:
		pct := 0.0
		if nm.batchTotal > 0 {
			pct = float64(nm.batchCurrent) / float64(nm.batchTotal)
		}
		b.WriteString(fmt.Sprintf("%s Probing %d/%d ", s.View(), nm.batchCurrent, nm.batchTotal))
		b.WriteString(nm.progress.ViewAs(pct))
		b.WriteString("\n")
	case nm.updating:
		b.WriteString(s.View() + " Updating subscriptions...\n")
	}

	if len(nm.nodes) == 0 {
		b.WriteString(dimStyle.Render("No cached nodes. Press 'u' to update subscriptions."))
	} else {
		b.WriteString(nm.table.View())
	}
	return forceHeight(b.String(), nm.width, nm.height)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-1] + "~"
}
