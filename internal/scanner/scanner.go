// Package scanner turns HID-mode barcode scanners into barcode events. Each
// platform contributes a Backend; decoding and session handling are shared.
package scanner

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnsupported is returned by a backend that cannot run on this
	// platform or build.
	ErrUnsupported = errors.New("scanner backend not supported")
	// ErrSourceClosed is returned by ReadReport after Close.
	ErrSourceClosed = errors.New("scanner source closed")

	// errCloseDeferred is returned by Close when the goroutine blocked in
	// ReadReport will release the handle once its read returns.
	errCloseDeferred = errors.New("scanner close deferred to reader")
)

// Report is one decoded keystroke from a scanner. A zero Rune that is not a
// terminator carries nothing and is skipped.
type Report struct {
	Rune       rune
	Terminator bool
}

// Candidate is a scanner a backend can open.
type Candidate struct {
	ID        string
	Name      string
	Path      string
	VendorID  uint16
	ProductID uint16
}

// Source is an open scanner handle. ReadReport blocks until the next
// keystroke. Close may be called more than once; it either unblocks a
// pending ReadReport or leaves that read to release the handle itself.
type Source interface {
	ReadReport() (Report, error)
	Close() error
}

// Backend is one platform mechanism for finding and opening scanners.
type Backend interface {
	Name() string
	Enumerate(ctx context.Context) ([]Candidate, error)
	Open(c Candidate) (Source, error)
}

var scannerKeywords = []string{"scanner", "barcode", "bar code", "reader", "scan"}

// scannerVendors are USB vendor ids of makers that only ship scanners in
// keyboard mode.
var scannerVendors = map[uint16]string{
	0x0536: "Hand Held Products",
	0x05e0: "Zebra",
	0x05f9: "Datalogic",
	0x1eab: "Newland",
}

// IsScannerName reports whether a product name suggests a barcode scanner.
func IsScannerName(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range scannerKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// IsScannerVendor reports whether vid belongs to a scanner-only maker.
func IsScannerVendor(vid uint16) bool {
	_, ok := scannerVendors[vid]
	return ok
}

func looksLikeScanner(name string, vid uint16) bool {
	return IsScannerName(name) || IsScannerVendor(vid)
}
