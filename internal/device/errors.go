package device

import "errors"

var (
	// ErrNotFound is returned when an id is not in the registry.
	ErrNotFound = errors.New("device not found")

	// ErrInvalidID is returned for ids outside the usb:/net:/bt: namespaces.
	ErrInvalidID = errors.New("invalid device id")
)
