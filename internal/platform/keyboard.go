package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// CommandKeyboard toggles TabTip (or osk) on Windows and onboard on Linux.
// macOS has no on-screen keyboard to drive.
type CommandKeyboard struct {
	goos string
	run  runner

	// tabTip is the touch keyboard executable; empty means use osk.exe.
	tabTip string
	// settle is the pause between killing and relaunching TabTip, which
	// lingers in the background on Windows 11.
	settle time.Duration
}

// NewKeyboard returns the keyboard driver for the running OS.
func NewKeyboard() *CommandKeyboard {
	k := &CommandKeyboard{goos: runtime.GOOS, run: execRunner{}, settle: 300 * time.Millisecond}
	if k.goos == "windows" {
		programFiles := os.Getenv("ProgramFiles")
		if programFiles == "" {
			programFiles = `C:\Program Files`
		}
		path := filepath.Join(programFiles, "Common Files", "microsoft shared", "ink", "TabTip.exe")
		if _, err := os.Stat(path); err == nil {
			k.tabTip = path
		}
	}
	return k
}

func (k *CommandKeyboard) SetVisible(ctx context.Context, visible bool) error {
	var err error
	switch k.goos {
	case "windows":
		err = k.windows(ctx, visible)
	case "linux", "freebsd", "openbsd", "netbsd":
		if visible {
			err = k.run.Start("onboard")
		} else {
			// pkill exits 1 when onboard is not running.
			_ = k.run.Run(ctx, "pkill", "onboard")
		}
	default:
		return fmt.Errorf("virtual keyboard: %w", ErrUnsupported)
	}
	if err != nil {
		return fmt.Errorf("failed to toggle keyboard: %w", err)
	}
	return nil
}

func (k *CommandKeyboard) windows(ctx context.Context, visible bool) error {
	// taskkill fails when the process is not running; that is fine.
	_ = k.run.Run(ctx, "taskkill", "/IM", "TabTip.exe", "/F")
	if !visible {
		_ = k.run.Run(ctx, "taskkill", "/IM", "osk.exe", "/F")
		return nil
	}

	if k.tabTip == "" {
		return k.run.Start("osk.exe")
	}
	select {
	case <-time.After(k.settle):
	case <-ctx.Done():
		return ctx.Err()
	}
	return k.run.Start(k.tabTip)
}
