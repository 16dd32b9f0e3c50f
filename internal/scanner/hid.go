package scanner

import (
	"context"
	"fmt"
	"sync"

	"github.com/karalabe/hid"

	"github.com/thereceipt/posbridge/internal/device"
)

const (
	usagePageGenericDesktop = 0x01
	usageKeyboard           = 0x06
)

// HIDBackend opens keyboard-mode scanners through the platform HID framework
// (IOHIDManager, the Windows HID API, or hidraw via hidapi).
type HIDBackend struct{}

func NewHIDBackend() *HIDBackend { return &HIDBackend{} }

func (b *HIDBackend) Name() string { return "hid" }

func (b *HIDBackend) Enumerate(ctx context.Context) ([]Candidate, error) {
	if !hid.Supported() {
		return nil, ErrUnsupported
	}

	var found []Candidate
	seen := make(map[string]bool)
	for _, info := range hid.Enumerate(0, 0) {
		// hidraw builds report usage page 0; rely on the name then.
		if info.UsagePage != 0 && (info.UsagePage != usagePageGenericDesktop || info.Usage != usageKeyboard) {
			continue
		}
		if !looksLikeScanner(info.Product, info.VendorID) {
			continue
		}
		id := device.USBID(info.VendorID, info.ProductID)
		if seen[id] {
			continue
		}
		seen[id] = true

		name := info.Product
		if name == "" {
			name = scannerVendors[info.VendorID] + " scanner"
		}
		found = append(found, Candidate{
			ID:        id,
			Name:      name,
			Path:      info.Path,
			VendorID:  info.VendorID,
			ProductID: info.ProductID,
		})
	}
	return found, ctx.Err()
}

func (b *HIDBackend) Open(c Candidate) (Source, error) {
	if !hid.Supported() {
		return nil, ErrUnsupported
	}
	for _, info := range hid.Enumerate(c.VendorID, c.ProductID) {
		if c.Path != "" && info.Path != c.Path {
			continue
		}
		dev, err := info.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open HID device %s: %w", c.ID, err)
		}
		return newHIDSource(dev), nil
	}
	return nil, fmt.Errorf("HID device %s not present", c.ID)
}

// reportSource adapts any reader of boot keyboard reports (a HID handle or a
// raw device file) to Source.
//
// A hidapi handle must not be closed while hid_read is using it, so with
// readerCloses set a Close during a read only marks the source closed and the
// reading goroutine releases the handle when Read returns.
type reportSource struct {
	r            readCloser
	readerCloses bool
	buf          []byte
	dec          bootReportDecoder
	pending      []Report

	mu       sync.Mutex
	reading  bool
	closed   bool
	released bool
}

type readCloser interface {
	Read(p []byte) (int, error)
	Close() error
}

func newReportSource(r readCloser) *reportSource {
	return &reportSource{r: r, buf: make([]byte, 64)}
}

func newHIDSource(r readCloser) *reportSource {
	s := newReportSource(r)
	s.readerCloses = true
	return s
}

func (s *reportSource) ReadReport() (Report, error) {
	for len(s.pending) == 0 {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Report{}, ErrSourceClosed
		}
		s.reading = true
		s.mu.Unlock()

		n, err := s.r.Read(s.buf)

		s.mu.Lock()
		s.reading = false
		closed := s.closed
		s.mu.Unlock()
		if closed {
			s.release()
			return Report{}, ErrSourceClosed
		}
		if err != nil {
			return Report{}, err
		}
		rep := s.buf[:n]
		// Some stacks prefix a report id.
		if n == 9 {
			rep = rep[1:]
		}
		s.pending = append(s.pending, s.dec.decode(rep)...)
	}

	r := s.pending[0]
	s.pending = s.pending[1:]
	return r, nil
}

// Close releases the handle, or returns errCloseDeferred when a read in
// progress will release it.
func (s *reportSource) Close() error {
	s.mu.Lock()
	s.closed = true
	deferred := s.readerCloses && s.reading
	s.mu.Unlock()

	if deferred {
		return errCloseDeferred
	}
	return s.release()
}

func (s *reportSource) release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	s.mu.Unlock()
	return s.r.Close()
}
