package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/thereceipt/posbridge/internal/protocol"
)

const maxWatchLines = 200

// Messages
type eventMsg envelope
type connErrMsg struct{ err error }

type watchLine struct {
	at   time.Time
	text string
}

// watchModel follows the event stream of one connection.
type watchModel struct {
	url     string
	events  <-chan envelope
	errs    <-chan error
	spinner spinner.Model

	lines    []watchLine
	width    int
	height   int
	err      error
	quitting bool
}

func runWatch(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	c, err := dial(ctx, url)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()

	// Ask for status so the view starts with the current printers.
	if err := c.send(protocol.Command{Action: protocol.ActionGetStatus}); err != nil {
		return err
	}

	events := make(chan envelope, 64)
	errs := make(chan error, 1)
	go func() {
		for {
			ev, err := c.next(context.Background())
			if err != nil {
				errs <- err
				return
			}
			events <- ev
		}
	}()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	m := &watchModel{url: url, events: events, errs: errs, spinner: s}
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

func (m *watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent())
}

func (m *watchModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-m.events:
			return eventMsg(ev)
		case err := <-m.errs:
			return connErrMsg{err: err}
		}
	}
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit
		case "c":
			m.lines = nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case eventMsg:
		m.add(formatEvent(envelope(msg)))
		return m, m.waitForEvent()

	case connErrMsg:
		m.err = msg.err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *watchModel) add(text string) {
	m.lines = append(m.lines, watchLine{at: time.Now(), text: text})
	if len(m.lines) > maxWatchLines {
		m.lines = m.lines[len(m.lines)-maxWatchLines:]
	}
}

func (m *watchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render("POS Bridge events"))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(ErrorStyle.Render("✗ connection lost: " + m.err.Error()))
	} else {
		b.WriteString(m.spinner.View() + TextMuted.Render(" watching "+m.url))
	}
	b.WriteString("\n\n")

	visible := m.lines
	if room := m.height - 6; room > 0 && len(visible) > room {
		visible = visible[len(visible)-room:]
	}
	for _, l := range visible {
		b.WriteString(TextMuted.Render(l.at.Format("15:04:05")) + " " + l.text + "\n")
	}
	if len(m.lines) == 0 {
		b.WriteString(TextMuted.Render("No events yet") + "\n")
	}

	b.WriteString("\n")
	b.WriteString(HelpBarStyle.Render(RenderHelp("q", "quit") + "  " + RenderHelp("c", "clear")))
	return b.String()
}

// formatEvent renders one event as a single styled line.
func formatEvent(ev envelope) string {
	switch ev.Event {
	case protocol.EventStatus:
		return InfoStyle.Render("status") + fmt.Sprintf(" v%s, %d printer(s), scanner %t", ev.Version, len(ev.Printers), ev.Scanner)
	case protocol.EventPrinters:
		names := make([]string, 0, len(ev.Printers))
		for _, p := range ev.Printers {
			names = append(names, StatusIcon(p.Reachable)+" "+p.Name())
		}
		return InfoStyle.Render("printers") + " " + strings.Join(names, ", ")
	case protocol.EventPrintComplete:
		return SuccessStyle.Render("✓ print_complete") + " " + ev.JobID
	case protocol.EventPrintError:
		return ErrorStyle.Render("✗ print_error") + fmt.Sprintf(" %s: %s", ev.JobID, ev.Error)
	case protocol.EventBarcode:
		return WarningStyle.Render("▮ barcode") + fmt.Sprintf(" %s (%s)", ev.Value, ev.Type)
	case protocol.EventKeyboardToggled:
		return InfoStyle.Render("keyboard") + fmt.Sprintf(" visible=%t", ev.Visible)
	case protocol.EventError:
		return ErrorStyle.Render("error") + fmt.Sprintf(" %s: %s", ev.Code, ev.Message)
	default:
		return TextMuted.Render(ev.Event)
	}
}
