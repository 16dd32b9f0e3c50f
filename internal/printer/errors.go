// Package printer opens byte transports to receipt printers over USB,
// serial, Bluetooth and TCP, and pools them per device.
package printer

import (
	"errors"
	"fmt"
)

var (
	// ErrPaperOut is reported when the printer's paper sensor reads empty.
	ErrPaperOut = errors.New("printer is out of paper")
	// ErrTimeout is reported when a write does not finish in time.
	ErrTimeout = errors.New("printer write timed out")
	// ErrUnsupportedTransport is reported for devices with no known transport.
	ErrUnsupportedTransport = errors.New("unsupported transport")
)

// TransportError carries the failing step and device of a transport error.
type TransportError struct {
	DeviceID string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.DeviceID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func transportError(id, op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{DeviceID: id, Op: op, Err: err}
}
