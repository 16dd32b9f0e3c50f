// Package tui is the optional terminal dashboard shown when the bridge runs
// with --tui. It only reads the registry and job engine and forwards typed
// commands to the console executor.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/thereceipt/posbridge/internal/command"
	"github.com/thereceipt/posbridge/internal/device"
	"github.com/thereceipt/posbridge/internal/job"
	"github.com/thereceipt/posbridge/internal/tui/screens"
)

const (
	refreshInterval = 2 * time.Second
	maxLogLines     = 500
)

// Registry is the device table the dashboard shows.
type Registry interface {
	screens.Registry
	Printers() []device.LogicalDevice
}

// Scanners lists the open scanner sessions.
type Scanners interface {
	Sessions() []string
}

// Deps are the components the dashboard observes.
type Deps struct {
	Version  string
	Addr     string
	Registry Registry
	Jobs     screens.Jobs
	Executor *command.Executor
	Scanners Scanners
	Clients  func() int
}

// Dashboard is the main TUI application using tview
type Dashboard struct {
	App  *tview.Application
	deps Deps

	// Main layout
	flex *tview.Flex

	// Panels
	printersList *tview.List
	queueTable   *tview.Table
	statusBox    *tview.TextView
	logsArea     *tview.TextView
	commandInput *tview.InputField

	// Screens
	mu            sync.Mutex
	currentScreen string // "main", "devices", "jobs"
	devicesScreen *screens.DevicesView
	jobsScreen    *screens.JobsView

	startTime time.Time
	ctx       context.Context
}

// NewDashboard creates the dashboard. Nothing is drawn until Run.
func NewDashboard(deps Deps) *Dashboard {
	d := &Dashboard{
		App:           tview.NewApplication(),
		deps:          deps,
		currentScreen: "main",
		startTime:     time.Now(),
		ctx:           context.Background(),
	}

	d.setupUI()
	d.devicesScreen = screens.NewDevicesView(d.App, deps.Registry)
	d.jobsScreen = screens.NewJobsView(d.App, deps.Jobs)
	return d
}

func (d *Dashboard) setupUI() {
	d.printersList = tview.NewList()
	d.printersList.SetBorder(true)
	d.printersList.SetTitle("Printers")

	d.queueTable = tview.NewTable()
	d.queueTable.SetBorder(true)
	d.queueTable.SetTitle("Recent Jobs")

	d.statusBox = tview.NewTextView()
	d.statusBox.SetBorder(true)
	d.statusBox.SetTitle("Bridge Status")
	d.statusBox.SetDynamicColors(true)

	d.logsArea = tview.NewTextView()
	d.logsArea.SetBorder(true)
	d.logsArea.SetTitle("Logs")
	d.logsArea.SetDynamicColors(true)
	d.logsArea.SetScrollable(true)
	d.logsArea.SetMaxLines(maxLogLines)
	d.logsArea.SetChangedFunc(func() {
		d.App.Draw()
	})

	d.commandInput = tview.NewInputField().
		SetLabel("> ").
		SetFieldWidth(0).
		SetPlaceholder("Type a command (e.g., 'help')").
		SetDoneFunc(func(key tcell.Key) {
			if key == tcell.KeyEnter {
				d.executeCommand(d.commandInput.GetText())
				d.commandInput.SetText("")
			}
		})

	topRow := tview.NewFlex().
		AddItem(d.printersList, 0, 1, false).
		AddItem(d.queueTable, 0, 1, false).
		AddItem(d.statusBox, 0, 1, false)

	bottom := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.logsArea, 0, 3, false).
		AddItem(d.commandInput, 1, 0, true)

	d.flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(topRow, 0, 1, false).
		AddItem(bottom, 0, 1, true)

	d.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if d.screen() != "main" {
			if event.Key() == tcell.KeyEsc {
				d.showMainScreen()
				return nil
			}
			return event
		}

		// Typing goes to the command input untouched.
		if d.commandInput.HasFocus() {
			if event.Key() == tcell.KeyEsc {
				d.App.SetFocus(d.printersList)
				return nil
			}
			return event
		}

		switch event.Key() {
		case tcell.KeyCtrlC, tcell.KeyEsc:
			d.App.Stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case ':':
				d.App.SetFocus(d.commandInput)
				return nil
			case 'q':
				d.App.Stop()
				return nil
			case 'd':
				d.showScreen("devices")
				return nil
			case 'j':
				d.showScreen("jobs")
				return nil
			}
		}
		return event
	})

	d.App.SetRoot(d.flex, true)
}

// Run draws the dashboard until the user quits or ctx is cancelled.
func (d *Dashboard) Run(ctx context.Context) error {
	d.ctx = ctx
	d.refreshAll()

	done := make(chan struct{})
	defer close(done)
	go d.refreshTicker(done)
	go func() {
		select {
		case <-ctx.Done():
			d.App.Stop()
		case <-done:
		}
	}()

	d.AddLog(fmt.Sprintf("POS Bridge %s listening on %s", d.deps.Version, d.deps.Addr), "info")
	return d.App.Run()
}

func (d *Dashboard) refreshTicker(done <-chan struct{}) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			d.App.QueueUpdateDraw(d.refreshAll)
		}
	}
}

func (d *Dashboard) refreshAll() {
	d.refreshPrinters()
	d.refreshQueue()
	d.refreshStatus()

	switch d.screen() {
	case "devices":
		d.devicesScreen.Refresh()
	case "jobs":
		d.jobsScreen.Refresh()
	}
}

func (d *Dashboard) refreshPrinters() {
	d.printersList.Clear()

	printers := d.deps.Registry.Printers()
	if len(printers) == 0 {
		d.printersList.AddItem("No printers detected", "", 0, nil)
		return
	}

	for _, p := range printers {
		status := "🟢"
		if !p.Reachable {
			status = "🔴"
		}
		details := fmt.Sprintf("%s • %s", strings.ToUpper(string(p.Transport)), p.ID)
		d.printersList.AddItem(fmt.Sprintf("%s %s", status, p.Name()), details, 0, nil)
	}
}

func (d *Dashboard) refreshQueue() {
	d.queueTable.Clear()

	for col, title := range []string{"State", "Printer", "Type", "Age"} {
		d.queueTable.SetCell(0, col, tview.NewTableCell(title).SetAlign(tview.AlignCenter).SetSelectable(false))
	}

	jobs := d.deps.Jobs.Jobs()
	counts := make(map[job.State]int)

	for i, jb := range jobs {
		row := i + 1
		d.queueTable.SetCell(row, 0, tview.NewTableCell(screens.StateIcon(jb.State)+" "+string(jb.State)))
		d.queueTable.SetCell(row, 1, tview.NewTableCell(jb.DeviceID))
		d.queueTable.SetCell(row, 2, tview.NewTableCell(jb.DocumentType))
		d.queueTable.SetCell(row, 3, tview.NewTableCell(time.Since(jb.CreatedAt).Truncate(time.Second).String()))
		counts[jb.State]++
	}

	if len(jobs) > 0 {
		active := counts[job.StateRendering] + counts[job.StateTransmitting]
		summary := fmt.Sprintf("[%d] Queued [%d] Printing [%d] Completed [%d] Failed",
			counts[job.StateQueued], active, counts[job.StateCompleted], counts[job.StateFailed])
		d.queueTable.SetCell(len(jobs)+1, 0, tview.NewTableCell(tview.Escape(summary)).SetSelectable(false))
	}
}

func (d *Dashboard) refreshStatus() {
	uptime := time.Since(d.startTime)
	hours := int(uptime.Hours())
	minutes := int(uptime.Minutes()) % 60

	clients := 0
	if d.deps.Clients != nil {
		clients = d.deps.Clients()
	}
	scanner := "[gray]none[white]"
	if d.deps.Scanners != nil {
		if n := len(d.deps.Scanners.Sessions()); n > 0 {
			scanner = fmt.Sprintf("[green]%d listening[white]", n)
		}
	}

	d.statusBox.SetText(fmt.Sprintf(`[green]🟢 Running[white] %s

Uptime: %dh %dm
Listen: %s
Clients: %d
Printers: %d
Scanner: %s`, d.deps.Version, hours, minutes, d.deps.Addr, clients, len(d.deps.Registry.Printers()), scanner))
}

func (d *Dashboard) executeCommand(cmd string) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return
	}

	d.AddLog(cmd, "command")

	switch strings.ToLower(cmd) {
	case "devices", "d":
		d.showScreen("devices")
		return
	case "jobs", "j":
		d.showScreen("jobs")
		return
	case "refresh":
		d.refreshAll()
		return
	case "clear":
		d.logsArea.Clear()
		return
	case "quit", "q":
		d.App.Stop()
		return
	case "help", "h", "?":
		d.showHelp()
	}

	// Commands may block on device I/O, so they never run on the UI goroutine.
	go func() {
		res := d.deps.Executor.Execute(d.ctx, cmd)
		if !res.Success {
			d.AddLog(res.Error, "error")
			return
		}
		d.AddLog(res.Message, "info")
		d.App.QueueUpdateDraw(d.refreshAll)
	}()
}

func (d *Dashboard) showHelp() {
	help := []string{
		"Dashboard commands:",
		"  devices, d           - Browse and rename devices",
		"  jobs, j              - Browse print jobs",
		"  refresh              - Refresh all panels",
		"  clear                - Clear logs",
		"  quit, q              - Exit the dashboard and stop the bridge",
		"",
		"Keyboard shortcuts:",
		"  :   - Focus the command line",
		"  d/j - Devices or jobs view",
		"  Esc - Back to main",
	}
	d.AddLog(strings.Join(help, "\n"), "info")
}

func (d *Dashboard) screen() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentScreen
}

func (d *Dashboard) setScreen(name string) {
	d.mu.Lock()
	d.currentScreen = name
	d.mu.Unlock()
}

func (d *Dashboard) showScreen(name string) {
	switch name {
	case "devices":
		d.setScreen(name)
		d.devicesScreen.Refresh()
		d.App.SetRoot(d.devicesScreen.GetRoot(), true)
	case "jobs":
		d.setScreen(name)
		d.jobsScreen.Refresh()
		d.App.SetRoot(d.jobsScreen.GetRoot(), true)
	default:
		d.showMainScreen()
	}
}

func (d *Dashboard) showMainScreen() {
	d.setScreen("main")
	d.App.SetRoot(d.flex, true)
	d.App.SetFocus(d.commandInput)
}

// AddLog appends a line to the logs panel. It is safe to call from any
// goroutine.
func (d *Dashboard) AddLog(message string, level string) {
	var color, icon string

	switch level {
	case "error":
		color = "[red]"
		icon = "❌"
	case "warning":
		color = "[yellow]"
		icon = "⚠️"
	case "command":
		color = "[cyan]"
		icon = ">"
	case "debug":
		color = "[gray]"
		icon = "·"
	default:
		color = "[white]"
		icon = "ℹ️"
	}

	timeStr := time.Now().Format("15:04:05")
	fmt.Fprintf(d.logsArea, "%s[%s] %s %s[white]\n", color, timeStr, icon, tview.Escape(message))
}

// LogWriter returns an io.Writer that feeds console-encoded log lines into the
// logs panel, colored by level.
func (d *Dashboard) LogWriter() io.Writer {
	return &logWriter{dash: d}
}

type logWriter struct {
	dash *Dashboard
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimSpace(string(p)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			w.dash.AddLog(line, levelOf(line))
		}
	}
	return len(p), nil
}

// levelOf reads the level column of a console-encoded zap line.
func levelOf(line string) string {
	switch {
	case strings.Contains(line, "\tERROR\t"), strings.Contains(line, "\tDPANIC\t"):
		return "error"
	case strings.Contains(line, "\tWARN\t"):
		return "warning"
	case strings.Contains(line, "\tDEBUG\t"):
		return "debug"
	default:
		return "info"
	}
}
