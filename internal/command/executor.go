// Package command runs the text commands typed into the dashboard console.
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/thereceipt/posbridge/internal/device"
	"github.com/thereceipt/posbridge/internal/job"
)

// Registry is the device table as the console edits it.
type Registry interface {
	Printers() []device.LogicalDevice
	Get(id string) (device.LogicalDevice, error)
	SetDisplayName(id, name string) error
	AddNetwork(host string, port int) (device.LogicalDevice, error)
	Forget(id string) error
}

// Jobs accepts print jobs and reports recent ones.
type Jobs interface {
	Submit(req job.Request) error
	Jobs() []job.Job
	Get(id string) (job.Job, bool)
}

// Discovery runs a discovery cycle on demand.
type Discovery interface {
	RunOnce(ctx context.Context) ([]device.LogicalDevice, error)
}

// Scanners lists the open scanner sessions.
type Scanners interface {
	Sessions() []string
}

// Executor executes console commands. scanners may be nil.
type Executor struct {
	reg      Registry
	jobs     Jobs
	disc     Discovery
	scanners Scanners
	newID    func() string
}

// NewExecutor creates a new command executor
func NewExecutor(reg Registry, jobs Jobs, disc Discovery, scanners Scanners) *Executor {
	return &Executor{
		reg:      reg,
		jobs:     jobs,
		disc:     disc,
		scanners: scanners,
		newID:    newJobID,
	}
}

// Result represents the result of executing a command
type Result struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

func failf(format string, args ...interface{}) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Execute executes a command string and returns a result
func (e *Executor) Execute(ctx context.Context, cmdStr string) *Result {
	parts := parseCommand(cmdStr)
	if len(parts) == 0 {
		return failf("empty command")
	}

	command := parts[0]
	args := parts[1:]

	switch command {
	case "print":
		return e.handlePrint(args)
	case "test":
		return e.handleTest(args)
	case "drawer":
		return e.handleDrawer(args)
	case "printer":
		return e.handlePrinter(args)
	case "job":
		return e.handleJob(args)
	case "detect":
		return e.handleDetect(ctx)
	case "scanner":
		return e.handleScanner(args)
	case "help":
		return e.handleHelp()
	default:
		return failf("unknown command: %s. Type 'help' for available commands", command)
	}
}

// parseCommand splits cmdStr on spaces, keeping quoted strings together
func parseCommand(cmdStr string) []string {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return []string{}
	}

	var parts []string
	var current strings.Builder
	inQuotes := false
	quoted := false
	quoteChar := byte(0)

	for i := 0; i < len(cmdStr); i++ {
		char := cmdStr[i]

		switch {
		case char == '"' || char == '\'':
			if !inQuotes {
				inQuotes = true
				quoted = true
				quoteChar = char
			} else if char == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else {
				current.WriteByte(char)
			}
		case char == ' ' && !inQuotes:
			if current.Len() > 0 || quoted {
				parts = append(parts, current.String())
				current.Reset()
				quoted = false
			}
		default:
			current.WriteByte(char)
		}
	}

	if current.Len() > 0 || quoted {
		parts = append(parts, current.String())
	}

	return parts
}
