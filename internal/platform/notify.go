package platform

import (
	"context"
	"fmt"
	"runtime"
	"strings"
)

// DefaultTitle is used when a notification has no title.
const DefaultTitle = "POS Bridge"

// CommandNotifier shows notifications with osascript on macOS, a PowerShell
// balloon tip on Windows and notify-send elsewhere.
type CommandNotifier struct {
	goos string
	run  runner
}

// NewNotifier returns the notifier for the running OS.
func NewNotifier() *CommandNotifier {
	return &CommandNotifier{goos: runtime.GOOS, run: execRunner{}}
}

func (n *CommandNotifier) Notify(ctx context.Context, title, body string) error {
	if title == "" {
		title = DefaultTitle
	}

	var err error
	switch n.goos {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", appleString(body), appleString(title))
		err = n.run.Run(ctx, "osascript", "-e", script)
	case "windows":
		err = n.run.Run(ctx, "powershell", "-NoProfile", "-Command", balloonScript(title, body))
	case "android", "ios":
		return ErrUnsupported
	default:
		err = n.run.Run(ctx, "notify-send", title, body)
	}
	if err != nil {
		return fmt.Errorf("failed to show notification: %w", err)
	}
	return nil
}

// appleString quotes s as an AppleScript string literal.
func appleString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// psString quotes s as a PowerShell single-quoted literal.
func psString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func balloonScript(title, body string) string {
	return strings.Join([]string{
		`[System.Reflection.Assembly]::LoadWithPartialName("System.Windows.Forms") | Out-Null`,
		`$n = New-Object System.Windows.Forms.NotifyIcon`,
		`$n.Icon = [System.Drawing.SystemIcons]::Information`,
		`$n.Visible = $true`,
		fmt.Sprintf(`$n.ShowBalloonTip(5000, %s, %s, "Info")`, psString(title), psString(body)),
		`Start-Sleep -Seconds 6`,
		`$n.Dispose()`,
	}, "; ")
}
