package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"corpvpn/internal/core/types"
	"corpvpn/internal/storage/models"
)

// historySize is the number of throughput samples kept for the sparkline.
const historySize = 60

type statusModel struct {
	width  int
	height int

	status *types.Status
	node   *models.Node
	delay  int

	stats   types.Stats
	history []float64
	peak    float64
}

func newStatusModel() statusModel {
	return statusModel{}
}

func (sm *statusModel) setSize(w, h int) {
	sm.width = w
	sm.height = h
}

func (sm *statusModel) updateStatus(msg statusResultMsg) {
	sm.status = msg.status
	sm.node = msg.node
	sm.delay = msg.delay
}

// addSample records a throughput sample. Errored samples only update the
// error shown in the traffic card.
func (sm *statusModel) addSample(st types.Stats) {
	if st.Err != nil {
		sm.stats.Err = st.Err
		return
	}
	sm.stats = st
	sm.history = append(sm.history, st.Kbps)
	if len(sm.history) > historySize {
		sm.history = sm.history[len(sm.history)-historySize:]
	}
	sm.peak = 0
	for _, v := range sm.history {
		sm.peak = max(sm.peak, v)
	}
}

// resetTraffic clears the counters when a session ends.
func (sm *statusModel) resetTraffic() {
	sm.stats = types.Stats{}
	sm.history = nil
	sm.peak = 0
}

func (sm *statusModel) Update(msg tea.Msg, root *Model) tea.Cmd {
	return nil
}

func (sm *statusModel) View() string {
	w := max(sm.width-6, 30)

	conn := sm.connectionCard()
	if sm.status == nil || !sm.status.Running() {
		return forceHeight(cardStyle.Width(w).Render(conn), sm.width, sm.height)
	}

	traffic := sm.trafficCard()
	var content string
	if sm.width > 80 {
		halfW := (w - 4) / 2
		content = lipgloss.JoinHorizontal(lipgloss.Top,
			cardStyle.Width(halfW).Render(conn), "  ",
			cardStyle.Width(halfW).Render(traffic))
	} else {
		content = lipgloss.JoinVertical(lipgloss.Left,
			cardStyle.Width(w).Render(conn),
			cardStyle.Width(w).Render(traffic))
	}
	return forceHeight(content, sm.width, sm.height)
}

func (sm *statusModel) connectionCard() string {
	rows := []string{cardTitleStyle.Render("Connection")}

	st := sm.status
	if st == nil {
		return lipgloss.JoinVertical(lipgloss.Left, append(rows, dimStyle.Render("Loading..."))...)
	}

	state := st.State.String()
	switch st.State {
	case types.StateRunning:
		state = successStyle.Render("Running")
	case types.StateStopped:
		state = dimStyle.Render("Stopped")
	default:
		state = warningStyle.Render(state)
	}
	rows = append(rows, sm.row("Status", state))

	if st.Running() {
		rows = append(rows,
			sm.row("Server", st.Server),
			sm.row("PID", fmt.Sprintf("%d", st.PID)),
			sm.row("Started", st.StartedAt.Format("15:04:05")),
			sm.row("Uptime", formatDuration(st.Uptime)),
		)
		if st.RSSBytes > 0 {
			rows = append(rows, sm.row("Memory", formatBytes(st.RSSBytes)))
			rows = append(rows, sm.row("CPU", fmt.Sprintf("%.1f%%", st.CPUPercent)))
		}
		rows = append(rows, sm.row("TUN", onOff(st.TunEnabled)))
	}
	if sm.node != nil {
		rows = append(rows, sm.row("Node", fmt.Sprintf("%s (%s)", sm.node.Name,
			latencyStyle(sm.delay).Render(fmt.Sprintf("%d ms", sm.delay)))))
	}
	if st.LastError != "" {
		rows = append(rows, "", errorStyle.Render(st.LastError))
	}
	if !st.Running() {
		rows = append(rows, "", dimStyle.Render("Press 'c' to connect"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (sm *statusModel) trafficCard() string {
	rows := []string{
		cardTitleStyle.Render("Traffic"),
		sm.row("Rate", formatRate(sm.stats.Kbps)),
		sm.row("Peak", formatRate(sm.peak)),
		sm.row("Total", formatBytes(sm.stats.TotalBytes)),
	}
	if len(sm.history) > 0 {
		rows = append(rows, "", sparkStyle.Render(sparkline(sm.history, sm.peak)))
	}
	if sm.stats.Err != nil {
		rows = append(rows, "", warningStyle.Render("stats: "+sm.stats.Err.Error()))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (sm *statusModel) row(label, value string) string {
	return cardLabelStyle.Render(label+":") + " " + cardValueStyle.Render(value)
}

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// sparkline renders values scaled against peak.
func sparkline(values []float64, peak float64) string {
	var b strings.Builder
	for _, v := range values {
		i := 0
		if peak > 0 {
			i = int(v / peak * float64(len(sparkLevels)-1))
		}
		i = min(max(i, 0), len(sparkLevels)-1)
		b.WriteRune(sparkLevels[i])
	}
	return b.String()
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func formatRate(kbps float64) string {
	if kbps >= 1000 {
		return fmt.Sprintf("%.2f Mbps", kbps/1000)
	}
	return fmt.Sprintf("%.1f Kbps", kbps)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
