// Command minitarp-view renders a serialised EventLog as a scrollable
// per-pid timeline table. It is the external renderer spec.md §1 names
// as a collaborator rather than an in-scope component: it only reads
// the JSON a minitarp run wrote and never imports the tracer itself.
package main

import (
	"fmt"
	"os"

	"github.com/gdamore/tcell/v2"
	"github.com/razzie/minitarp/common"
	"github.com/rivo/tview"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <event-log.json>\n", os.Args[0])
		os.Exit(2)
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := common.DeserializeEventLog(data)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	app := tview.NewApplication()
	table := buildTable(log)
	table.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Rune() == 'q' {
			app.Stop()
		}
		return event
	})

	if err := app.SetRoot(table, true).Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildTable lays the log out on the [i, i+1] grid DESIGN.md settles
// on: one column per sequence index (the time axis), one row per pid.
// A cell is populated when that pid has an event at that sequence
// index; empty cells mean the pid was not observed there.
func buildTable(log *common.EventLog) *tview.Table {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 1).
		SetSelectable(true, false)

	pids := log.PIDs()
	rowOf := make(map[int]int, len(pids))
	for row, pid := range pids {
		rowOf[pid] = row + 1
		table.SetCell(row+1, 0, tview.NewTableCell(fmt.Sprintf("pid %d", pid)).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false))
	}
	table.SetCell(0, 0, tview.NewTableCell("").SetSelectable(false))

	for col, event := range log.Events {
		table.SetCell(0, col+1, tview.NewTableCell(fmt.Sprintf("%d", col)).
			SetTextColor(tcell.ColorGray).
			SetSelectable(false))

		row, ok := rowOf[event.PID]
		if !ok {
			continue
		}
		table.SetCell(row, col+1, tview.NewTableCell(event.Description).
			SetMaxWidth(24).
			SetExpansion(1))
	}

	return table
}
