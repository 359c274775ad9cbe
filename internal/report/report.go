// Package report prints snapshots and process tables for the non-interactive
// subcommands.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/Dicklesworthstone/pcinfo/internal/model"
)

var (
	headingColor = color.New(color.FgHiCyan, color.Bold)
	labelColor   = color.New(color.FgCyan)
)

// Snapshot writes the snapshot as "Label: value" lines.
func Snapshot(w io.Writer, snap model.SystemSnapshot) error {
	if _, err := headingColor.Fprintln(w, "System Information:"); err != nil {
		return err
	}
	for _, f := range snap.Fields() {
		if _, err := labelColor.Fprintf(w, "%s:", f.Label); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, " %s\n", f.Value); err != nil {
			return err
		}
	}
	return nil
}

// Processes writes rows as a table. A positive limit truncates the output.
func Processes(w io.Writer, rows []model.ProcessRow, limit int) {
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"PID", "Process Name", "CPU Usage %", "Memory %"})
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	for _, r := range rows {
		table.Append([]string{
			strconv.Itoa(int(r.PID)),
			r.Name,
			r.CPUText(),
			r.MemoryText(),
		})
	}
	table.Render()
}
