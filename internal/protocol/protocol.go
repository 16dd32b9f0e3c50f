// Package protocol defines the JSON messages exchanged with the browser over
// the /ws endpoint. Commands are tagged by "action", events by "event".
package protocol

import (
	"encoding/json"

	"github.com/thereceipt/posbridge/internal/device"
)

// Actions accepted from the client.
const (
	ActionGetStatus        = "get_status"
	ActionDiscoverPrinters = "discover_printers"
	ActionPrint            = "print"
	ActionOpenDrawer       = "open_drawer"
	ActionTestPrint        = "test_print"
	ActionSendNotification = "send_notification"
	ActionToggleKeyboard   = "toggle_keyboard"
	ActionRenamePrinter    = "rename_printer"
	ActionAddPrinter       = "add_printer"
	ActionForgetPrinter    = "forget_printer"
)

// Event names sent to the client.
const (
	EventStatus          = "status"
	EventPrinters        = "printers"
	EventPrintComplete   = "print_complete"
	EventPrintError      = "print_error"
	EventBarcode         = "barcode"
	EventKeyboardToggled = "keyboard_toggled"
	EventError           = "error"
)

// Error codes carried by the error event.
const (
	CodeParseError        = "parse_error"
	CodeUnknownAction     = "unknown_action"
	CodeMissingParam      = "missing_param"
	CodeNotificationError = "notification_error"
	CodeKeyboardError     = "keyboard_error"
	CodeNotFound          = "not_found"
	CodeInvalidParam      = "invalid_param"
	CodeDuplicateJob      = "duplicate_job"
)

// Command is an inbound message. Only the fields relevant to Action are set.
type Command struct {
	Action       string          `json:"action"`
	PrinterID    string          `json:"printer_id,omitempty"`
	DocumentType string          `json:"document_type,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	JobID        string          `json:"job_id,omitempty"`
	Title        string          `json:"title,omitempty"`
	Body         string          `json:"body,omitempty"`
	Visible      *bool           `json:"visible,omitempty"`
	Name         string          `json:"name,omitempty"`
	Host         string          `json:"host,omitempty"`
	Port         int             `json:"port,omitempty"`
	Pin          int             `json:"pin,omitempty"`
}

// Event is anything the bridge sends to the client.
type Event interface {
	EventName() string
}

// Status answers get_status and GET /status.
type Status struct {
	Event    string                 `json:"event"`
	Version  string                 `json:"version"`
	Printers []device.LogicalDevice `json:"printers"`
	Scanner  bool                   `json:"scanner"`
}

func (Status) EventName() string { return EventStatus }

// NewStatus builds a status event. printers is never encoded as null.
func NewStatus(version string, printers []device.LogicalDevice, scanner bool) Status {
	if printers == nil {
		printers = []device.LogicalDevice{}
	}
	return Status{Event: EventStatus, Version: version, Printers: printers, Scanner: scanner}
}

// Printers carries the current printer list.
type Printers struct {
	Event    string                 `json:"event"`
	Printers []device.LogicalDevice `json:"printers"`
}

func (Printers) EventName() string { return EventPrinters }

func NewPrinters(printers []device.LogicalDevice) Printers {
	if printers == nil {
		printers = []device.LogicalDevice{}
	}
	return Printers{Event: EventPrinters, Printers: printers}
}

// PrintComplete is the success terminal event of a job.
type PrintComplete struct {
	Event string `json:"event"`
	JobID string `json:"job_id"`
}

func (PrintComplete) EventName() string { return EventPrintComplete }

func NewPrintComplete(jobID string) PrintComplete {
	return PrintComplete{Event: EventPrintComplete, JobID: jobID}
}

// PrintError is the failure terminal event of a job.
type PrintError struct {
	Event string `json:"event"`
	JobID string `json:"job_id"`
	Error string `json:"error"`
}

func (PrintError) EventName() string { return EventPrintError }

func NewPrintError(jobID, msg string) PrintError {
	if msg == "" {
		msg = "print failed"
	}
	return PrintError{Event: EventPrintError, JobID: jobID, Error: msg}
}

// Barcode is a decoded scan.
type Barcode struct {
	Event string `json:"event"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

func (Barcode) EventName() string { return EventBarcode }

func NewBarcode(value, symbology string) Barcode {
	return Barcode{Event: EventBarcode, Value: value, Type: symbology}
}

// KeyboardToggled acknowledges toggle_keyboard.
type KeyboardToggled struct {
	Event   string `json:"event"`
	Visible bool   `json:"visible"`
}

func (KeyboardToggled) EventName() string { return EventKeyboardToggled }

func NewKeyboardToggled(visible bool) KeyboardToggled {
	return KeyboardToggled{Event: EventKeyboardToggled, Visible: visible}
}

// Error reports a protocol or capability failure not tied to a job.
type Error struct {
	Event   string `json:"event"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (Error) EventName() string { return EventError }

func NewError(code, msg string) Error {
	return Error{Event: EventError, Message: msg, Code: code}
}
