// Package platform drives the desktop capabilities the bridge exposes: OS
// notifications and the on-screen keyboard. Both shell out to the tools each
// OS ships with.
package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrUnsupported is returned when the OS has no such capability.
var ErrUnsupported = errors.New("not supported on this platform")

// commandTimeout bounds a single helper invocation.
const commandTimeout = 10 * time.Second

// Notifier shows OS notifications.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// Keyboard shows and hides the on-screen keyboard.
type Keyboard interface {
	SetVisible(ctx context.Context, visible bool) error
}

// runner starts helper programs. Run waits for the program; Start does not.
type runner interface {
	Run(ctx context.Context, name string, args ...string) error
	Start(name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (execRunner) Start(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	// Reap the process when it exits.
	go cmd.Wait()
	return nil
}
