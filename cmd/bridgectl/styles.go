package main

import (
	"github.com/charmbracelet/lipgloss"
)

// Colors
var (
	Primary   = lipgloss.Color("#7C3AED") // Purple
	Secondary = lipgloss.Color("#06B6D4") // Cyan
	Success   = lipgloss.Color("#10B981") // Green
	Warning   = lipgloss.Color("#F59E0B") // Amber
	Error     = lipgloss.Color("#EF4444") // Red

	BgCard = lipgloss.Color("#1E293B") // Slate 800

	colorTextBright = lipgloss.Color("#F8FAFC") // Slate 50
	colorTextMuted  = lipgloss.Color("#64748B") // Slate 500
)

var (
	TextMuted = lipgloss.NewStyle().Foreground(colorTextMuted)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorTextBright).
			Background(Primary).
			Padding(0, 2).
			MarginBottom(1)

	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(Secondary)

	StatusOnline = lipgloss.NewStyle().
			Foreground(Success).
			SetString("●")

	StatusOffline = lipgloss.NewStyle().
			Foreground(Error).
			SetString("●")

	HelpKeyStyle = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)

	HelpStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	HelpBarStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Background(BgCard).
			Padding(0, 2)

	SuccessStyle = lipgloss.NewStyle().Foreground(Success)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Error)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning)
	InfoStyle    = lipgloss.NewStyle().Foreground(Secondary)

	SpinnerStyle = lipgloss.NewStyle().Foreground(Primary)
)

func RenderHelp(key, desc string) string {
	return HelpKeyStyle.Render(key) + HelpStyle.Render(" "+desc)
}

func StatusIcon(reachable bool) string {
	if reachable {
		return StatusOnline.String()
	}
	return StatusOffline.String()
}

func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
