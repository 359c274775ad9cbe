package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"

	"github.com/Dicklesworthstone/pcinfo/internal/model"
	"github.com/Dicklesworthstone/pcinfo/internal/procctl"
	"github.com/Dicklesworthstone/pcinfo/internal/refresh"
)

type nopSource struct{}

func (nopSource) Snapshot(context.Context) (model.SystemSnapshot, error) {
	return model.SystemSnapshot{}, nil
}

func (nopSource) Processes(context.Context) ([]model.ProcessRow, error) { return nil, nil }

func (nopSource) Alive(context.Context, int32) (bool, error) { return true, nil }

type stubHandle struct {
	name     string
	signaled bool
}

func (h *stubHandle) NameWithContext(context.Context) (string, error) { return h.name, nil }

func (h *stubHandle) TerminateWithContext(context.Context) error {
	h.signaled = true
	return nil
}

func (h *stubHandle) KillWithContext(context.Context) error {
	h.signaled = true
	return nil
}

func (h *stubHandle) IsRunningWithContext(context.Context) (bool, error) { return false, nil }

func newTestModel(h *stubHandle) (*Model, *refresh.Loop) {
	loop := refresh.New(nopSource{}, 5*time.Second)
	term := procctl.New(nil, procctl.WithLookup(func(context.Context, int32) (procctl.Handle, error) {
		if h == nil {
			return nil, errors.New("no handle")
		}
		return h, nil
	}))
	return New(loop, term), loop
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func rows(pids ...int32) []model.ProcessRow {
	out := make([]model.ProcessRow, 0, len(pids))
	for i, pid := range pids {
		out = append(out, model.ProcessRow{PID: pid, Name: "proc", CPUPercent: float64(len(pids) - i)})
	}
	return out
}

func tablePIDs(m *Model) []string {
	var out []string
	for _, r := range m.table.Rows() {
		out = append(out, r[0])
	}
	return out
}

func TestUpdateReplacesTable(t *testing.T) {
	m, _ := newTestModel(nil)

	m.Update(updateMsg{Replaced: true, Processes: rows(30, 20, 10)})

	if diff := cmp.Diff([]string{"30", "20", "10"}, tablePIDs(m)); diff != "" {
		t.Fatalf("unexpected rows (-want +got):\n%s", diff)
	}
}

func TestSelectionFreezesTable(t *testing.T) {
	m, loop := newTestModel(nil)
	m.Update(updateMsg{Replaced: true, Processes: rows(30, 20, 10)})

	m.Update(key("down"))
	m.Update(key("enter"))

	if sel := loop.Selection(); !sel.Selected || sel.PID != 20 {
		t.Fatalf("selection = %+v, want pid 20", sel)
	}

	m.Update(updateMsg{Replaced: true, Processes: rows(99, 98)})
	if diff := cmp.Diff([]string{"30", "20", "10"}, tablePIDs(m)); diff != "" {
		t.Fatalf("table replaced while selected (-want +got):\n%s", diff)
	}

	m.Update(key("esc"))
	if loop.Selection().Selected {
		t.Fatalf("esc should release the selection")
	}

	m.Update(updateMsg{Replaced: true, Processes: rows(99, 98)})
	if diff := cmp.Diff([]string{"99", "98"}, tablePIDs(m)); diff != "" {
		t.Fatalf("table not replaced after release (-want +got):\n%s", diff)
	}
}

func TestCursorFollowsPID(t *testing.T) {
	m, _ := newTestModel(nil)
	m.Update(updateMsg{Replaced: true, Processes: rows(30, 20, 10)})
	m.Update(key("down"))

	m.Update(updateMsg{Replaced: true, Processes: rows(20, 30, 10)})
	if got := m.cursorPID(); got != 20 {
		t.Fatalf("cursor on pid %d, want 20", got)
	}
}

func TestResumedShowsStatus(t *testing.T) {
	m, _ := newTestModel(nil)
	m.Update(updateMsg{Replaced: true, Resumed: true, Processes: rows(1)})

	if !strings.Contains(m.status, "resuming") {
		t.Fatalf("status = %q", m.status)
	}
}

func TestTerminateProtected(t *testing.T) {
	h := &stubHandle{name: "lsass.exe"}
	m, _ := newTestModel(h)
	m.Update(updateMsg{Replaced: true, Processes: rows(4321)})

	m.Update(key("x"))
	if m.mode != confirmKillMode {
		t.Fatalf("expected confirmation prompt")
	}

	_, cmd := m.Update(key("y"))
	if cmd == nil {
		t.Fatalf("expected a terminate command")
	}
	m.Update(cmd())

	if h.signaled {
		t.Fatalf("protected process was signalled")
	}
	if !m.statusErr || !strings.Contains(m.status, "critical system process") {
		t.Fatalf("status = %q", m.status)
	}
}

func TestTerminateSuccessResumes(t *testing.T) {
	h := &stubHandle{name: "editor"}
	m, loop := newTestModel(h)
	m.Update(updateMsg{Replaced: true, Processes: rows(4321)})
	m.Update(key("enter"))

	m.Update(key("x"))
	_, cmd := m.Update(key("y"))
	m.Update(cmd())

	if !h.signaled {
		t.Fatalf("process was not signalled")
	}
	if loop.Selection().Selected {
		t.Fatalf("selection should be released after termination")
	}
	if m.statusErr || !strings.Contains(m.status, "terminated") {
		t.Fatalf("status = %q", m.status)
	}
}

func TestTerminateCancelled(t *testing.T) {
	h := &stubHandle{name: "editor"}
	m, _ := newTestModel(h)
	m.Update(updateMsg{Replaced: true, Processes: rows(4321)})

	m.Update(key("x"))
	m.Update(key("n"))

	if m.mode != normalMode || h.signaled {
		t.Fatalf("cancel should leave the process alone")
	}
}

func TestTerminateWithoutRows(t *testing.T) {
	m, _ := newTestModel(nil)
	m.Update(key("x"))

	if m.mode != normalMode || !m.statusErr {
		t.Fatalf("expected an error status, got mode %v status %q", m.mode, m.status)
	}
}

func TestChangeInterval(t *testing.T) {
	m, loop := newTestModel(nil)

	m.Update(key("i"))
	m.Update(key("0"))
	m.Update(key("enter"))
	if !m.statusErr {
		t.Fatalf("zero interval should be rejected")
	}
	if loop.Interval() != 5*time.Second {
		t.Fatalf("interval changed to %s", loop.Interval())
	}

	m.Update(key("i"))
	m.Update(key("7"))
	m.Update(key("enter"))
	if loop.Interval() != 7*time.Second {
		t.Fatalf("interval = %s, want 7s", loop.Interval())
	}
}

func TestViewRendersBothTabs(t *testing.T) {
	m, _ := newTestModel(nil)
	m.Update(updateMsg{
		Snapshot:  &model.SystemSnapshot{CPUName: "Test CPU", CPUCount: 2},
		Replaced:  true,
		Processes: rows(1),
	})

	if !strings.Contains(m.View(), "Process Name") {
		t.Fatalf("process view missing table header")
	}
	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if !strings.Contains(m.View(), "Test CPU") {
		t.Fatalf("system view missing snapshot")
	}
}
