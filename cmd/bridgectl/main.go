// Command bridgectl talks to a running POS bridge over its WebSocket
// endpoint, the same way a browser tab does.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/thereceipt/posbridge/internal/device"
	"github.com/thereceipt/posbridge/internal/document"
	"github.com/thereceipt/posbridge/internal/protocol"
)

const (
	defaultServerURL = "ws://127.0.0.1:12321/ws"
	// notifyWindow is how long to wait for a notification failure; the bridge
	// only answers send_notification when it fails.
	notifyWindow = 2 * time.Second
)

func main() {
	var serverURL string
	var timeout time.Duration
	flag.StringVar(&serverURL, "server", defaultServerURL, "Bridge WebSocket URL")
	flag.StringVar(&serverURL, "s", defaultServerURL, "Bridge WebSocket URL (short)")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for a reply")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() == 0 {
		printUsage()
		os.Exit(1)
	}

	args := flag.Args()
	if args[0] == "help" {
		printUsage()
		return
	}

	if args[0] == "watch" {
		if err := runWatch(serverURL); err != nil {
			printError(err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c, err := dial(ctx, serverURL)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer c.Close()

	if err := run(ctx, c, args); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client, args []string) error {
	command, rest := args[0], args[1:]

	switch command {
	case "status":
		if err := c.send(protocol.Command{Action: protocol.ActionGetStatus}); err != nil {
			return err
		}
		ev, err := c.await(ctx, isEvent(protocol.EventStatus))
		if err != nil {
			return err
		}
		fmt.Println(HeaderStyle.Render("POS Bridge " + ev.Version))
		scanner := StatusOffline.String() + " no scanner"
		if ev.Scanner {
			scanner = StatusOnline.String() + " scanner listening"
		}
		fmt.Println(scanner)
		printPrinters(ev.Printers)
		return nil

	case "printers", "discover":
		if err := c.send(protocol.Command{Action: protocol.ActionDiscoverPrinters}); err != nil {
			return err
		}
		ev, err := c.await(ctx, isEvent(protocol.EventPrinters))
		if err != nil {
			return err
		}
		printPrinters(ev.Printers)
		return nil

	case "print":
		if len(rest) < 2 {
			return errors.New("usage: print <printer-id> <document.json> [--type <type>] | --lines <line>... | --compose <commands>...")
		}
		cmd, err := printCommand(rest[0], rest[1:])
		if err != nil {
			return err
		}
		return submit(ctx, c, cmd)

	case "test":
		if len(rest) < 1 {
			return errors.New("usage: test <printer-id>")
		}
		return submit(ctx, c, protocol.Command{Action: protocol.ActionTestPrint, PrinterID: rest[0]})

	case "drawer":
		if len(rest) < 1 {
			return errors.New("usage: drawer <printer-id> [2|5]")
		}
		cmd := protocol.Command{Action: protocol.ActionOpenDrawer, PrinterID: rest[0]}
		if len(rest) >= 2 {
			pin, err := strconv.Atoi(rest[1])
			if err != nil {
				return fmt.Errorf("invalid pin: %s", rest[1])
			}
			cmd.Pin = pin
		}
		return submit(ctx, c, cmd)

	case "rename":
		if len(rest) < 2 {
			return errors.New("usage: rename <printer-id> <name>")
		}
		return edit(ctx, c, protocol.Command{Action: protocol.ActionRenamePrinter, PrinterID: rest[0], Name: strings.Join(rest[1:], " ")})

	case "add":
		if len(rest) < 1 {
			return errors.New("usage: add <host> [port]")
		}
		cmd := protocol.Command{Action: protocol.ActionAddPrinter, Host: rest[0]}
		if len(rest) >= 2 {
			port, err := strconv.Atoi(rest[1])
			if err != nil {
				return fmt.Errorf("invalid port: %s", rest[1])
			}
			cmd.Port = port
		}
		return edit(ctx, c, cmd)

	case "forget":
		if len(rest) < 1 {
			return errors.New("usage: forget <printer-id>")
		}
		return edit(ctx, c, protocol.Command{Action: protocol.ActionForgetPrinter, PrinterID: rest[0]})

	case "notify":
		fs := flag.NewFlagSet("notify", flag.ContinueOnError)
		title := fs.String("title", "", "Notification title")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		body := strings.Join(fs.Args(), " ")
		if err := c.send(protocol.Command{Action: protocol.ActionSendNotification, Title: *title, Body: body}); err != nil {
			return err
		}
		wctx, cancel := context.WithTimeout(ctx, notifyWindow)
		defer cancel()
		if _, err := c.await(wctx, func(envelope) bool { return false }); !errors.Is(err, errQuiet) {
			return err
		}
		fmt.Println(SuccessStyle.Render("✓ Notification sent"))
		return nil

	case "keyboard":
		visible := true
		if len(rest) >= 1 {
			switch rest[0] {
			case "show":
			case "hide":
				visible = false
			default:
				return errors.New("usage: keyboard [show|hide]")
			}
		}
		if err := c.send(protocol.Command{Action: protocol.ActionToggleKeyboard, Visible: &visible}); err != nil {
			return err
		}
		ev, err := c.await(ctx, isEvent(protocol.EventKeyboardToggled))
		if err != nil {
			return err
		}
		fmt.Println(SuccessStyle.Render(fmt.Sprintf("✓ Keyboard visible: %t", ev.Visible)))
		return nil

	default:
		return fmt.Errorf("unknown command: %s. Run 'bridgectl help' for available commands", command)
	}
}

// printCommand builds a print command from a file, --lines or --compose.
func printCommand(printerID string, args []string) (protocol.Command, error) {
	cmd := protocol.Command{Action: protocol.ActionPrint, PrinterID: printerID}

	switch args[0] {
	case "--lines":
		data, err := json.Marshal(map[string][]string{"lines": args[1:]})
		if err != nil {
			return cmd, err
		}
		cmd.Data = data

	case "--compose":
		data, err := composeDocument(args[1:])
		if err != nil {
			return cmd, fmt.Errorf("error creating composed document: %w", err)
		}
		cmd.Data = data

	default:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return cmd, fmt.Errorf("failed to read document file: %w", err)
		}
		if _, err := document.Parse(data); err != nil {
			return cmd, fmt.Errorf("invalid document: %w", err)
		}
		cmd.Data = data

		rest := args[1:]
		for i := 0; i < len(rest); i++ {
			if rest[i] == "--type" && i+1 < len(rest) {
				cmd.DocumentType = rest[i+1]
				i++
			}
		}
	}
	return cmd, nil
}

// submit sends a print-like command and waits for the job outcome.
func submit(ctx context.Context, c *client, cmd protocol.Command) error {
	cmd.JobID = "cli-" + uuid.NewString()[:8]
	if err := c.send(cmd); err != nil {
		return err
	}

	ev, err := c.await(ctx, jobOutcome(cmd.JobID))
	if err != nil {
		return err
	}
	if ev.Event == protocol.EventPrintError {
		return fmt.Errorf("job %s failed: %s", ev.JobID, ev.Error)
	}
	fmt.Println(SuccessStyle.Render("✓ Printed") + TextMuted.Render(" job "+ev.JobID))
	return nil
}

// edit sends a registry edit and prints the resulting printer list.
func edit(ctx context.Context, c *client, cmd protocol.Command) error {
	if err := c.send(cmd); err != nil {
		return err
	}
	ev, err := c.await(ctx, isEvent(protocol.EventPrinters))
	if err != nil {
		return err
	}
	fmt.Println(SuccessStyle.Render("✓ Registry updated"))
	printPrinters(ev.Printers)
	return nil
}

func printPrinters(printers []device.LogicalDevice) {
	if len(printers) == 0 {
		fmt.Println(WarningStyle.Render("No printers found"))
		return
	}

	fmt.Println()
	fmt.Println(TableHeaderStyle.Render(fmt.Sprintf("  %-28s %-24s %-10s %s", "ID", "NAME", "TRANSPORT", "PAPER")))
	for _, p := range printers {
		caps := p.Capabilities.Normalized()
		fmt.Printf("%s %-28s %-24s %-10s %dmm\n",
			StatusIcon(p.Reachable), Truncate(p.ID, 28), Truncate(p.Name(), 24), p.Transport, caps.PaperWidth)
	}
}

func printError(err error) {
	fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: "+err.Error()))
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `POS Bridge CLI

Usage:
  bridgectl [flags] <command>

Flags:
  -s, -server <url>    Bridge WebSocket URL (default: %s)
  -timeout <duration>  How long to wait for a reply (default: 30s)

Commands:
  status
    Show bridge version, scanner state and known printers

  printers
    Run a discovery cycle and list printers

  print <printer-id> <document.json> [--type <type>]
    Print a JSON document (receipt, kitchen_order, invoice, ...)

  print <printer-id> --lines <line>...
    Print the given lines as a receipt

  print <printer-id> --compose <commands...>
    Compose and print a document from command-line arguments
    Compose commands:
      text:"Hello World"                - Text line
      text:"Title" size:2 align:center  - Text with properties
      feed:2                            - Feed lines
      divider                           - Divider line
      total:"Total" amount:12.50        - Label and amount
      barcode:4006381333931 format:ean13
      qr:"https://example.com"
      cut                               - Cut paper

  test <printer-id>
    Print a test page

  drawer <printer-id> [2|5]
    Open the cash drawer

  rename <printer-id> <name>
  add <host> [port]
  forget <printer-id>
    Edit the printer registry

  notify [-title <title>] <body>
    Show a desktop notification on the bridge host

  keyboard [show|hide]
    Toggle the on-screen keyboard

  watch
    Follow live bridge events

Examples:
  bridgectl status
  bridgectl print usb:0x04b8:0x0202 --lines "Hello" "World"
  bridgectl print net:192.168.1.100:9100 ./order.json --type kitchen_order
  bridgectl print usb:0x04b8:0x0202 --compose text:"Title" size:2 align:center feed:1 cut
  bridgectl rename usb:0x04b8:0x0202 "Front Counter"
  bridgectl -s ws://192.168.1.20:12321/ws watch

`, defaultServerURL)
}
