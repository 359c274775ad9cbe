package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Dicklesworthstone/pcinfo/internal/refresh"
)

// Styles
var (
	borderColor = lipgloss.Color("60")
	selectedFg  = lipgloss.Color("229")
	selectedBg  = lipgloss.Color("57")
	tableBorder = lipgloss.NormalBorder()

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Bold(true)
	tabStyle     = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("244"))
	activeTab    = tabStyle.Foreground(lipgloss.Color("229")).Background(selectedBg).Bold(true)
	pausedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	cardStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)
	confirmStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(1, 2)
)

func (m *Model) View() string {
	header := titleStyle.Render("PC Info") + "  " + m.tabs() + "  " +
		subtleStyle.Render(fmt.Sprintf("every %s", m.loop.Interval()))
	if sel := m.loop.Selection(); sel.Selected {
		header += "  " + pausedStyle.Render(fmt.Sprintf("%s (pid %d)", refresh.Paused, sel.PID))
	}

	var body string
	switch m.mode {
	case confirmKillMode:
		body = confirmStyle.Render(fmt.Sprintf(
			"Terminate this process?\n\nProcess: %s\nPID: %d\n\nTerminating system processes may cause instability.\n\n%s / %s",
			m.pending.Name, m.pending.PID, keyStyle.Render("y"), keyStyle.Render("n")))
	case intervalMode:
		body = card("Change Update Interval",
			"Enter the new update interval (seconds):\n"+m.intervalInput.View())
	case helpMode:
		body = card("Keys", helpText())
	default:
		if m.view == systemView {
			body = m.systemCard()
		} else {
			body = cardStyle.Render(m.table.View())
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.statusLine(), m.footer())
}

func (m *Model) tabs() string {
	procs, sys := tabStyle, tabStyle
	if m.view == processView {
		procs = activeTab
	} else {
		sys = activeTab
	}
	return procs.Render("Processes") + sys.Render("System Info")
}

func (m *Model) systemCard() string {
	if m.snapshot == nil {
		return card("System Information", "Loading hardware information...")
	}
	var b strings.Builder
	for _, f := range m.snapshot.Fields() {
		fmt.Fprintf(&b, "%-14s %s\n", f.Label+":", f.Value)
	}
	if !m.snapshot.TakenAt.IsZero() {
		b.WriteString(subtleStyle.Render("as of " + m.snapshot.TakenAt.Format(time.TimeOnly)))
	}
	return card("System Information", strings.TrimRight(b.String(), "\n"))
}

func (m *Model) statusLine() string {
	if m.statusErr {
		return errorStyle.Render(m.status)
	}
	return successStyle.Render(m.status)
}

func (m *Model) footer() string {
	keys := []struct{ key, desc string }{
		{"enter", "select/pause"},
		{"esc", "resume"},
		{"x", "terminate"},
		{"r", "refresh"},
		{"i", "interval"},
		{"tab", "view"},
		{"?", "help"},
		{"q", "quit"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, keyStyle.Render(k.key)+" "+subtleStyle.Render(k.desc))
	}
	return strings.Join(parts, "  ")
}

func helpText() string {
	return strings.Join([]string{
		"↑/↓ j/k      move cursor",
		"enter        select the row under the cursor; updates pause until",
		"             it is released or the process exits",
		"esc          release the selection",
		"x / delete   terminate the selected process (asks first)",
		"r            refresh now (releases the selection)",
		"i            change the update interval",
		"tab, 1, 2    switch between processes and system info",
		"q            quit",
		"",
		subtleStyle.Render("press any key to close"),
	}, "\n")
}

// Helpers
func card(title, body string) string {
	return cardStyle.Render(labelStyle.Render(title) + "\n" + body)
}
