package ui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Dicklesworthstone/pcinfo/internal/config"
	"github.com/Dicklesworthstone/pcinfo/internal/model"
	"github.com/Dicklesworthstone/pcinfo/internal/procctl"
	"github.com/Dicklesworthstone/pcinfo/internal/refresh"
)

const statusTTL = 2 * time.Second

type view int

const (
	processView view = iota
	systemView
)

type mode int

const (
	normalMode mode = iota
	intervalMode
	confirmKillMode
	helpMode
)

// Model renders loop updates and forwards user actions to the loop.
type Model struct {
	loop    *refresh.Loop
	term    *procctl.Terminator
	updates <-chan refresh.Update

	snapshot *model.SystemSnapshot
	rows     []model.ProcessRow
	table    table.Model

	view    view
	mode    mode
	pending model.ProcessRow

	intervalInput textinput.Model

	status    string
	statusErr bool
	statusID  int

	width  int
	height int
}

func New(loop *refresh.Loop, term *procctl.Terminator) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "PID", Width: 8},
			{Title: "Process Name", Width: 36},
			{Title: "CPU Usage %", Width: 12},
			{Title: "Memory %", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(tableBorder).
		BorderForeground(borderColor).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(selectedFg).
		Background(selectedBg).
		Bold(false)
	t.SetStyles(s)

	in := textinput.New()
	in.Placeholder = "seconds"
	in.CharLimit = 5

	return &Model{
		loop:          loop,
		term:          term,
		updates:       loop.Updates(),
		table:         t,
		intervalInput: in,
		status:        "Ready",
		width:         100,
		height:        30,
	}
}

// Messages
type (
	updateMsg        refresh.Update
	updatesClosedMsg struct{}
	terminateMsg     struct {
		row model.ProcessRow
		res procctl.Result
		err error
	}
	clearStatusMsg struct{ id int }
)

// waitForUpdate blocks on the loop channel off the UI goroutine.
func waitForUpdate(ch <-chan refresh.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return updatesClosedMsg{}
		}
		return updateMsg(u)
	}
}

func (m *Model) Init() tea.Cmd { return waitForUpdate(m.updates) }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		if h := msg.Height - 8; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case updateMsg:
		cmd := m.applyUpdate(refresh.Update(msg))
		return m, tea.Batch(cmd, waitForUpdate(m.updates))

	case updatesClosedMsg:
		return m, tea.Quit

	case terminateMsg:
		return m, m.handleTerminated(msg)

	case clearStatusMsg:
		if msg.id == m.statusID {
			m.status, m.statusErr = "Ready", false
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// applyUpdate stores the snapshot and, unless a row is held, replaces the
// process table.
func (m *Model) applyUpdate(u refresh.Update) tea.Cmd {
	if u.Snapshot != nil {
		m.snapshot = u.Snapshot
	}

	var cmd tea.Cmd
	if u.Err != nil {
		cmd = m.setStatus("Update error: "+u.Err.Error(), true)
	}
	if !u.Replaced {
		return cmd
	}
	// the user may have selected a row after the poll started
	if m.loop.Selection().Selected {
		return cmd
	}

	m.setRows(u.Processes)
	switch {
	case u.Resumed:
		cmd = m.setStatus("Selected process ended - resuming updates", false)
	case u.Manual && u.Err == nil:
		cmd = m.setStatus("Updated", false)
	}
	return cmd
}

// setRows replaces the table contents, keeping the cursor on the same pid.
func (m *Model) setRows(rows []model.ProcessRow) {
	cursorPID := m.cursorPID()
	m.rows = rows

	tr := make([]table.Row, 0, len(rows))
	cursor := 0
	for i, r := range rows {
		if r.PID == cursorPID {
			cursor = i
		}
		tr = append(tr, table.Row{
			strconv.Itoa(int(r.PID)),
			r.Name,
			r.CPUText(),
			r.MemoryText(),
		})
	}
	m.table.SetRows(tr)
	if len(tr) > 0 {
		m.table.SetCursor(cursor)
	}
}

func (m *Model) cursorPID() int32 {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.rows) {
		return 0
	}
	return m.rows[i].PID
}

func (m *Model) rowByPID(pid int32) (model.ProcessRow, bool) {
	for _, r := range m.rows {
		if r.PID == pid {
			return r, true
		}
	}
	return model.ProcessRow{}, false
}

func (m *Model) setStatus(text string, isErr bool) tea.Cmd {
	m.statusID++
	m.status, m.statusErr = text, isErr
	id := m.statusID
	return tea.Tick(statusTTL, func(time.Time) tea.Msg { return clearStatusMsg{id: id} })
}

// setSticky sets a status line that stays until replaced.
func (m *Model) setSticky(text string) {
	m.statusID++
	m.status, m.statusErr = text, false
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.mode {
	case intervalMode:
		return m.handleIntervalKey(msg)
	case confirmKillMode:
		return m.handleConfirmKey(msg)
	case helpMode:
		m.mode = normalMode
		return m, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "?":
		m.mode = helpMode
		return m, nil

	case "tab":
		if m.view == processView {
			m.view = systemView
		} else {
			m.view = processView
		}
		return m, nil

	case "1":
		m.view = processView
		return m, nil

	case "2":
		m.view = systemView
		return m, nil

	case "r":
		m.loop.RefreshNow()
		m.setSticky("Updating...")
		return m, nil

	case "i":
		m.mode = intervalMode
		m.intervalInput.SetValue("")
		m.intervalInput.Focus()
		return m, textinput.Blink

	case "enter":
		return m, m.toggleSelection()

	case "esc":
		if m.loop.Selection().Selected {
			m.loop.ClearSelection()
			return m, m.setStatus("Ready", false)
		}
		return m, nil

	case "x", "delete":
		return m, m.confirmTerminate()
	}

	if m.view != processView {
		return m, nil
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// toggleSelection holds the row under the cursor, or releases it.
func (m *Model) toggleSelection() tea.Cmd {
	pid := m.cursorPID()
	if pid == 0 {
		return nil
	}
	if sel := m.loop.Selection(); sel.Selected && sel.PID == pid {
		m.loop.ClearSelection()
		return m.setStatus("Ready", false)
	}
	m.loop.Select(pid)
	m.setSticky(fmt.Sprintf("Process %d selected - updates paused", pid))
	return nil
}

func (m *Model) confirmTerminate() tea.Cmd {
	pid := m.cursorPID()
	if sel := m.loop.Selection(); sel.Selected {
		pid = sel.PID
	}
	row, ok := m.rowByPID(pid)
	if !ok {
		return m.setStatus("Please select a process to terminate.", true)
	}
	m.pending = row
	m.mode = confirmKillMode
	return nil
}

func (m *Model) handleConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y", "enter":
		m.mode = normalMode
		m.setSticky(fmt.Sprintf("Terminating %s (%d)...", m.pending.Name, m.pending.PID))
		return m, terminateCmd(m.term, m.pending)
	case "n", "N", "esc", "q":
		m.mode = normalMode
		return m, m.setStatus("Termination cancelled", false)
	}
	return m, nil
}

func terminateCmd(term *procctl.Terminator, row model.ProcessRow) tea.Cmd {
	return func() tea.Msg {
		res, err := term.Terminate(context.Background(), row.PID)
		return terminateMsg{row: row, res: res, err: err}
	}
}

func (m *Model) handleTerminated(msg terminateMsg) tea.Cmd {
	name := msg.res.Name
	if name == "" {
		name = msg.row.Name
	}

	switch {
	case msg.err == nil:
		m.loop.ClearSelection()
		m.loop.RefreshNow()
		return m.setStatus(fmt.Sprintf("Process %s %s", name, msg.res.Outcome), false)
	case errors.Is(msg.err, procctl.ErrProtected):
		return m.setStatus("Cannot terminate critical system process: "+name, true)
	case errors.Is(msg.err, procctl.ErrNotFound):
		m.loop.ClearSelection()
		m.loop.RefreshNow()
		return m.setStatus(fmt.Sprintf("Process with PID %d no longer exists.", msg.row.PID), true)
	case errors.Is(msg.err, procctl.ErrAccessDenied):
		return m.setStatus(fmt.Sprintf("Access denied. Cannot terminate %s; administrator privileges may be required.", name), true)
	}
	return m.setStatus("Failed to terminate process: "+msg.err.Error(), true)
}

func (m *Model) handleIntervalKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.mode = normalMode
		m.intervalInput.Blur()
		d, err := config.ParseInterval(m.intervalInput.Value())
		if err != nil {
			return m, m.setStatus("Update interval must be a positive integer.", true)
		}
		if err := m.loop.SetInterval(d); err != nil {
			return m, m.setStatus(err.Error(), true)
		}
		return m, m.setStatus(fmt.Sprintf("Update interval: %ds", int(d/time.Second)), false)

	case "esc":
		m.mode = normalMode
		m.intervalInput.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.intervalInput, cmd = m.intervalInput.Update(msg)
	return m, cmd
}

// Run starts the Bubble Tea program and blocks until the user quits or the
// loop stops.
func Run(loop *refresh.Loop, term *procctl.Terminator) error {
	prog := tea.NewProgram(New(loop, term), tea.WithAltScreen())
	_, err := prog.Run()
	return err
}
