// Package job runs print jobs: render the document for the target printer,
// send the bytes over its transport, and report exactly one outcome.
package job

import (
	"context"
	"errors"
	"time"

	"github.com/thereceipt/posbridge/internal/device"
)

// State is the position of a job in its lifecycle. States only move forward.
type State string

const (
	StateQueued       State = "queued"
	StateRendering    State = "rendering"
	StateTransmitting State = "transmitting"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// Done reports whether s is terminal.
func (s State) Done() bool {
	return s == StateCompleted || s == StateFailed
}

var (
	// ErrBusy is returned when the device queue is full.
	ErrBusy = errors.New("printer busy")

	// ErrStopped is returned for submissions after Stop.
	ErrStopped = errors.New("bridge shutting down")

	// ErrDuplicate is returned when a job id is already outstanding.
	ErrDuplicate = errors.New("duplicate job id")

	// ErrNoDevice is returned when a request names no printer.
	ErrNoDevice = errors.New("printer_id is required")

	// ErrNotPrinter is returned when the target device is not a printer.
	ErrNotPrinter = errors.New("device is not a printer")
)

// Request is one print submission.
type Request struct {
	JobID        string
	DeviceID     string
	DocumentType string
	Payload      []byte
}

// Job is the record of a submission. Jobs are kept in memory only.
type Job struct {
	ID           string    `json:"jobId"`
	DeviceID     string    `json:"deviceId"`
	DocumentType string    `json:"documentType"`
	State        State     `json:"state"`
	Err          string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	FinishedAt   time.Time `json:"finishedAt,omitzero"`

	payload []byte
}

// Devices resolves printer ids.
type Devices interface {
	Get(id string) (device.LogicalDevice, error)
}

// Renderer produces the bytes of a document for one device.
type Renderer interface {
	Render(docType string, payload []byte, dev device.LogicalDevice) ([]byte, error)
}

// Sender owns the device connections.
type Sender interface {
	Send(ctx context.Context, dev device.LogicalDevice, data []byte) error
	Discard(id string)
	CloseAll()
}
