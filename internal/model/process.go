package model

import (
	"fmt"
	"sort"
)

// IdleProcessName is the pseudo-process Windows reports for idle CPU time.
// It is never listed.
const IdleProcessName = "System Idle Process"

// ProcessRow is one line of the process table.
type ProcessRow struct {
	PID           int32
	Name          string
	CPUPercent    float64
	MemoryPercent float64
}

// CPUText formats CPU usage for display.
func (r ProcessRow) CPUText() string { return FormatPercent(r.CPUPercent) }

// MemoryText formats memory usage for display.
func (r ProcessRow) MemoryText() string { return FormatPercent(r.MemoryPercent) }

// FormatPercent renders v with one decimal and a trailing percent sign.
func FormatPercent(v float64) string {
	if v <= 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", v)
}

// SortByCPU orders rows by CPU usage, highest first. Equal values keep no
// particular order.
func SortByCPU(rows []ProcessRow) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].CPUPercent > rows[j].CPUPercent })
}

// SelectionState records whether the user is holding a row.
type SelectionState struct {
	Selected bool
	PID      int32
}
