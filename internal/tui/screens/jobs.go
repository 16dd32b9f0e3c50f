package screens

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/thereceipt/posbridge/internal/job"
)

// Jobs reports recent print jobs, newest first.
type Jobs interface {
	Jobs() []job.Job
}

// JobsView shows detailed information about print jobs
type JobsView struct {
	app     *tview.Application
	jobs    Jobs
	table   *tview.Table
	details *tview.TextView
	layout  *tview.Flex

	rows []job.Job
}

// NewJobsView creates a new jobs view screen
func NewJobsView(app *tview.Application, jobs Jobs) *JobsView {
	j := &JobsView{
		app:  app,
		jobs: jobs,
	}

	j.setupUI()
	return j
}

func (j *JobsView) setupUI() {
	j.table = tview.NewTable()
	j.table.SetBorder(true)
	j.table.SetTitle("Print Jobs")
	j.table.SetSelectable(true, false)
	j.table.SetFixed(1, 0)
	j.table.SetSelectionChangedFunc(func(row, column int) {
		j.selectJob(row)
	})

	j.details = tview.NewTextView()
	j.details.SetBorder(true)
	j.details.SetTitle("Job Details")
	j.details.SetDynamicColors(true)

	j.layout = tview.NewFlex().
		AddItem(j.table, 0, 2, true).
		AddItem(j.details, 0, 1, false)

	j.table.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyRune && event.Rune() == 'r' {
			j.Refresh()
			return nil
		}
		return event
	})

	j.Refresh()
}

// Refresh reloads the job table
func (j *JobsView) Refresh() {
	j.rows = j.jobs.Jobs()
	j.table.Clear()

	for col, title := range []string{"Job", "Printer", "Type", "State", "Age"} {
		j.table.SetCell(0, col, tview.NewTableCell(title).SetAlign(tview.AlignCenter).SetSelectable(false))
	}

	for i, jb := range j.rows {
		row := i + 1
		j.table.SetCell(row, 0, tview.NewTableCell(jb.ID))
		j.table.SetCell(row, 1, tview.NewTableCell(jb.DeviceID))
		j.table.SetCell(row, 2, tview.NewTableCell(jb.DocumentType))
		j.table.SetCell(row, 3, tview.NewTableCell(StateIcon(jb.State)+" "+string(jb.State)))
		j.table.SetCell(row, 4, tview.NewTableCell(time.Since(jb.CreatedAt).Truncate(time.Second).String()))
	}

	if len(j.rows) == 0 {
		j.details.SetText("[yellow]No jobs yet[white]")
		return
	}
	row, _ := j.table.GetSelection()
	if row < 1 || row > len(j.rows) {
		row = 1
	}
	j.table.Select(row, 0)
	j.selectJob(row)
}

func (j *JobsView) selectJob(row int) {
	if row < 1 || row > len(j.rows) {
		return
	}
	jb := j.rows[row-1]

	var b strings.Builder
	fmt.Fprintf(&b, "[yellow]Job ID:[white] %s\n", jb.ID)
	fmt.Fprintf(&b, "[yellow]Printer:[white] %s\n", jb.DeviceID)
	fmt.Fprintf(&b, "[yellow]Document:[white] %s\n", jb.DocumentType)
	fmt.Fprintf(&b, "[yellow]State:[white] %s %s\n", StateIcon(jb.State), jb.State)
	fmt.Fprintf(&b, "[yellow]Created:[white] %s\n", jb.CreatedAt.Format("2006-01-02 15:04:05"))
	if !jb.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "[yellow]Took:[white] %s\n", jb.FinishedAt.Sub(jb.CreatedAt).Round(time.Millisecond))
	}
	if jb.Err != "" {
		fmt.Fprintf(&b, "\n[red]Error:[white] %s\n", jb.Err)
	}
	b.WriteString("\n[yellow]Press 'r' to refresh[white]")

	j.details.SetText(b.String())
}

// StateIcon returns the glyph shown next to a job state.
func StateIcon(s job.State) string {
	switch s {
	case job.StateQueued:
		return "⏳"
	case job.StateRendering, job.StateTransmitting:
		return "🟡"
	case job.StateCompleted:
		return "✅"
	case job.StateFailed:
		return "❌"
	default:
		return "⚪"
	}
}

// GetRoot returns the root primitive for this screen
func (j *JobsView) GetRoot() tview.Primitive {
	return j.layout
}
