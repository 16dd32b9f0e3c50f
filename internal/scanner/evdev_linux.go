//go:build linux

package scanner

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/thereceipt/posbridge/internal/device"
)

const (
	evKey = 0x01

	// _IOW('E', 0x90, int)
	evIOCGRAB = 0x40044590
)

// inputEventSize is sizeof(struct input_event): a timeval then u16 type,
// u16 code and s32 value.
var inputEventSize = int(unsafe.Sizeof(unix.Timeval{})) + 8

// EvdevBackend reads the kernel input-event stream of /dev/input/event*.
// Scanners are grabbed so their keystrokes do not reach the focused window.
type EvdevBackend struct {
	DevDir   string
	SysfsDir string
}

// NewEvdevBackend returns a backend on the standard device and sysfs paths.
func NewEvdevBackend() *EvdevBackend {
	return &EvdevBackend{DevDir: "/dev/input", SysfsDir: "/sys/class/input"}
}

func (b *EvdevBackend) Name() string { return "evdev" }

func (b *EvdevBackend) Enumerate(ctx context.Context) ([]Candidate, error) {
	paths, err := filepath.Glob(filepath.Join(b.DevDir, "event*"))
	if err != nil {
		return nil, err
	}

	var found []Candidate
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		node := filepath.Base(path)
		sys := filepath.Join(b.SysfsDir, node, "device")

		name := readSysfs(filepath.Join(sys, "name"))
		vid := readSysfsHex(filepath.Join(sys, "id", "vendor"))
		pid := readSysfsHex(filepath.Join(sys, "id", "product"))
		if !looksLikeScanner(name, vid) {
			continue
		}

		id := "usb:input:" + node
		if vid != 0 {
			id = device.USBID(vid, pid)
		}
		found = append(found, Candidate{ID: id, Name: name, Path: path, VendorID: vid, ProductID: pid})
	}
	return found, nil
}

func readSysfs(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func readSysfsHex(path string) uint16 {
	v, err := strconv.ParseUint(readSysfs(path), 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}

func (b *EvdevBackend) Open(c Candidate) (Source, error) {
	f, err := os.OpenFile(c.Path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", c.Path, err)
	}

	// Control keeps the fd in non-blocking mode so Close interrupts Read.
	raw, err := f.SyscallConn()
	if err != nil {
		f.Close()
		return nil, err
	}
	var grabErr error
	if err := raw.Control(func(fd uintptr) {
		grabErr = unix.IoctlSetInt(int(fd), evIOCGRAB, 1)
	}); err != nil {
		f.Close()
		return nil, err
	}
	if grabErr != nil {
		f.Close()
		return nil, fmt.Errorf("failed to grab %s: %w", c.Path, grabErr)
	}

	return &evdevSource{f: f, buf: make([]byte, inputEventSize*64)}, nil
}

type evdevSource struct {
	f       *os.File
	buf     []byte
	pending []Report
	keys    evdevKeyState
	once    sync.Once
}

func (s *evdevSource) ReadReport() (Report, error) {
	for len(s.pending) == 0 {
		n, err := s.f.Read(s.buf)
		if err != nil {
			return Report{}, err
		}
		tv := inputEventSize - 8
		for off := 0; off+inputEventSize <= n; off += inputEventSize {
			ev := s.buf[off : off+inputEventSize]
			typ := binary.NativeEndian.Uint16(ev[tv:])
			if typ != evKey {
				continue
			}
			code := binary.NativeEndian.Uint16(ev[tv+2:])
			value := int32(binary.NativeEndian.Uint32(ev[tv+4:]))
			if r, ok := s.keys.handle(code, value); ok {
				s.pending = append(s.pending, r)
			}
		}
	}

	r := s.pending[0]
	s.pending = s.pending[1:]
	return r, nil
}

func (s *evdevSource) Close() error {
	var err error
	s.once.Do(func() {
		err = s.f.Close()
	})
	return err
}
