package command

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/thereceipt/posbridge/internal/document"
	"github.com/thereceipt/posbridge/internal/job"
)

func newJobID() string {
	return "console-" + uuid.NewString()[:8]
}

// handlePrint handles print commands
// Usage: print <printer-id> <document.json> [--type <document-type>]
//
//	print <printer-id> --lines <line>...
func (e *Executor) handlePrint(args []string) *Result {
	if len(args) < 2 {
		return failf("usage: print <printer-id> <document.json> [--type <type>] | print <printer-id> --lines <line>...")
	}

	printerID := args[0]
	docType := document.TypeReceipt
	var payload []byte

	if args[1] == "--lines" {
		data, err := json.Marshal(map[string][]string{"lines": args[2:]})
		if err != nil {
			return failf("failed to build document: %v", err)
		}
		payload = data
	} else {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return failf("failed to read document file: %v", err)
		}
		if _, err := document.Parse(data); err != nil {
			return failf("invalid document: %v", err)
		}
		payload = data

		rest := args[2:]
		for i := 0; i < len(rest); i++ {
			if rest[i] == "--type" && i+1 < len(rest) {
				docType = rest[i+1]
				i++
			}
		}
	}

	return e.submit(printerID, docType, payload)
}

// handleTest prints a test page
// Usage: test <printer-id>
func (e *Executor) handleTest(args []string) *Result {
	if len(args) < 1 {
		return failf("usage: test <printer-id>")
	}
	return e.submit(args[0], document.TypeTest, nil)
}

// handleDrawer opens the cash drawer
// Usage: drawer <printer-id> [2|5]
func (e *Executor) handleDrawer(args []string) *Result {
	if len(args) < 1 {
		return failf("usage: drawer <printer-id> [2|5]")
	}
	var payload []byte
	if len(args) >= 2 {
		pin, err := strconv.Atoi(args[1])
		if err != nil || (pin != 2 && pin != 5) {
			return failf("invalid pin: %s", args[1])
		}
		payload = []byte(fmt.Sprintf(`{"pin":%d}`, pin))
	}
	return e.submit(args[0], document.TypeDrawer, payload)
}

func (e *Executor) submit(printerID, docType string, payload []byte) *Result {
	if _, err := e.reg.Get(printerID); err != nil {
		return failf("printer not found: %s", printerID)
	}

	jobID := e.newID()
	if err := e.jobs.Submit(job.Request{
		JobID:        jobID,
		DeviceID:     printerID,
		DocumentType: docType,
		Payload:      payload,
	}); err != nil {
		return failf("print job rejected: %v", err)
	}

	return &Result{
		Success: true,
		Message: fmt.Sprintf("Print job queued: %s", jobID),
		Data: map[string]interface{}{
			"job_id":     jobID,
			"printer_id": printerID,
		},
	}
}

// handlePrinter handles printer commands
// Usage: printer list | add-network <host> [port] | rename <id> <name> | forget <id>
func (e *Executor) handlePrinter(args []string) *Result {
	if len(args) == 0 {
		return failf("usage: printer <list|add-network|rename|forget>")
	}

	switch args[0] {
	case "list":
		printers := e.reg.Printers()
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Found %d printer(s)", len(printers)),
			Data: map[string]interface{}{
				"printers": printers,
			},
		}

	case "add-network":
		if len(args) < 2 {
			return failf("usage: printer add-network <host> [port]")
		}
		port := 0
		if len(args) >= 3 {
			var err error
			port, err = strconv.Atoi(args[2])
			if err != nil {
				return failf("invalid port: %s", args[2])
			}
		}
		d, err := e.reg.AddNetwork(args[1], port)
		if err != nil {
			return failf("failed to add printer: %v", err)
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Added network printer: %s", d.ID),
			Data: map[string]interface{}{
				"printer_id": d.ID,
			},
		}

	case "rename":
		if len(args) < 3 {
			return failf("usage: printer rename <id> <name>")
		}
		if err := e.reg.SetDisplayName(args[1], args[2]); err != nil {
			return failf("rename failed: %v", err)
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Renamed printer %s to %s", args[1], args[2]),
		}

	case "forget":
		if len(args) < 2 {
			return failf("usage: printer forget <id>")
		}
		if err := e.reg.Forget(args[1]); err != nil {
			return failf("forget failed: %v", err)
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Forgot printer %s", args[1]),
		}

	default:
		return failf("unknown printer subcommand: %s. Use: list, add-network, rename, forget", args[0])
	}
}

// handleJob handles job commands
// Usage: job list | status <id>
func (e *Executor) handleJob(args []string) *Result {
	if len(args) == 0 {
		return failf("usage: job <list|status>")
	}

	switch args[0] {
	case "list":
		jobs := e.jobs.Jobs()
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Found %d job(s)", len(jobs)),
			Data: map[string]interface{}{
				"jobs": jobs,
			},
		}

	case "status":
		if len(args) < 2 {
			return failf("usage: job status <id>")
		}
		j, ok := e.jobs.Get(args[1])
		if !ok {
			return failf("job not found: %s", args[1])
		}
		msg := fmt.Sprintf("%s: %s", j.ID, j.State)
		if j.Err != "" {
			msg += " (" + j.Err + ")"
		}
		return &Result{
			Success: true,
			Message: msg,
			Data: map[string]interface{}{
				"job": j,
			},
		}

	default:
		return failf("unknown job subcommand: %s. Use: list, status", args[0])
	}
}

// handleDetect runs a discovery cycle
// Usage: detect
func (e *Executor) handleDetect(ctx context.Context) *Result {
	printers, err := e.disc.RunOnce(ctx)
	if err != nil {
		return failf("detection failed: %v", err)
	}
	reachable := 0
	for _, p := range printers {
		if p.Reachable {
			reachable++
		}
	}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("Detected %d printer(s), %d reachable", len(printers), reachable),
		Data: map[string]interface{}{
			"count": len(printers),
		},
	}
}

// handleScanner lists open scanner sessions
// Usage: scanner list
func (e *Executor) handleScanner(args []string) *Result {
	if len(args) == 0 || args[0] != "list" {
		return failf("usage: scanner list")
	}
	var sessions []string
	if e.scanners != nil {
		sessions = e.scanners.Sessions()
	}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("%d scanner(s) listening", len(sessions)),
		Data: map[string]interface{}{
			"scanners": sessions,
		},
	}
}

func (e *Executor) handleHelp() *Result {
	helpText := `Available Commands:

  print <printer-id> <document.json> [--type <type>]
    Print a JSON document (receipt, kitchen_order, invoice, ...)

  print <printer-id> --lines <line>...
    Print the given lines as a receipt

  test <printer-id>
    Print a test page

  drawer <printer-id> [2|5]
    Open the cash drawer on pin 2 (default) or 5

  printer list
    List known printers

  printer add-network <host> [port]
    Add a network printer (default port: 9100)

  printer rename <id> <name>
    Set a custom name for a printer

  printer forget <id>
    Remove a printer from the registry

  job list
    List recent print jobs

  job status <id>
    Get status of a specific job

  detect
    Run a discovery cycle now

  scanner list
    List open barcode scanners

  help
    Show this help message

Examples:
  print usb:0x04b8:0x0202 --lines "Hello" "World"
  print net:192.168.1.100:9100 ./order.json --type kitchen_order
  printer add-network 192.168.1.100 9100
  printer rename usb:0x04b8:0x0202 "Front Counter"
`

	return &Result{
		Success: true,
		Message: helpText,
	}
}
