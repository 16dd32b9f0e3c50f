package device

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	prefixUSB       = "usb:"
	prefixNetwork   = "net:"
	prefixBluetooth = "bt:"
)

// DefaultRawPort is the raw-socket printing port (JetDirect).
const DefaultRawPort = 9100

// USBID returns the id of a USB device, e.g. usb:0x04b8:0x0202.
func USBID(vid, pid uint16) string {
	return fmt.Sprintf("usb:0x%04x:0x%04x", vid, pid)
}

// NetworkID returns the id of a network printer.
func NetworkID(host string, port int) string {
	if port == 0 {
		port = DefaultRawPort
	}
	return prefixNetwork + net.JoinHostPort(host, strconv.Itoa(port))
}

// BluetoothID returns the id of a Bluetooth device. The address is a MAC on
// Linux and a serial port name elsewhere.
func BluetoothID(address string) string {
	return prefixBluetooth + address
}

// Address is a parsed device id.
type Address struct {
	Transport Transport
	VendorID  uint16
	ProductID uint16
	Host      string
	Port      int
	Address   string
}

// NormalizeID rewrites legacy prefixes (network:, bluetooth:) to their short
// forms and canonicalizes the hex case and padding of numeric USB ids.
// Unknown ids are returned unchanged.
func NormalizeID(id string) string {
	switch {
	case strings.HasPrefix(id, "network:"):
		return prefixNetwork + strings.TrimPrefix(id, "network:")
	case strings.HasPrefix(id, "bluetooth:"):
		return prefixBluetooth + strings.TrimPrefix(id, "bluetooth:")
	case strings.HasPrefix(id, prefixUSB):
		if vid, pid, ok := parseUSBPair(strings.TrimPrefix(id, prefixUSB)); ok {
			return USBID(vid, pid)
		}
	}
	return id
}

// parseUSBPair reads a "0xVVVV:0xPPPP" pair in any hex case or padding.
func parseUSBPair(rest string) (vid, pid uint16, ok bool) {
	parts := strings.Split(rest, ":")
	if len(parts) != 2 || !hasHexPrefix(parts[0]) || !hasHexPrefix(parts[1]) {
		return 0, 0, false
	}
	v, err := strconv.ParseUint(parts[0][2:], 16, 16)
	if err != nil {
		return 0, 0, false
	}
	p, err := strconv.ParseUint(parts[1][2:], 16, 16)
	if err != nil {
		return 0, 0, false
	}
	return uint16(v), uint16(p), true
}

func hasHexPrefix(s string) bool {
	return len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X")
}

// ParseID splits a device id into its transport address.
func ParseID(id string) (Address, error) {
	id = NormalizeID(id)
	switch {
	case strings.HasPrefix(id, prefixUSB):
		rest := strings.TrimPrefix(id, prefixUSB)
		parts := strings.Split(rest, ":")
		if len(parts) != 2 || !hasHexPrefix(parts[0]) {
			// Input-node scanners carry a non-numeric usb: id.
			return Address{Transport: TransportUSB, Address: rest}, nil
		}
		vid, err := strconv.ParseUint(parts[0], 0, 16)
		if err != nil {
			return Address{}, fmt.Errorf("%w: bad vendor id in %q", ErrInvalidID, id)
		}
		pid, err := strconv.ParseUint(parts[1], 0, 16)
		if err != nil {
			return Address{}, fmt.Errorf("%w: bad product id in %q", ErrInvalidID, id)
		}
		return Address{Transport: TransportUSB, VendorID: uint16(vid), ProductID: uint16(pid)}, nil

	case strings.HasPrefix(id, prefixNetwork):
		host, portStr, err := net.SplitHostPort(strings.TrimPrefix(id, prefixNetwork))
		if err != nil {
			return Address{}, fmt.Errorf("%w: %v", ErrInvalidID, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return Address{}, fmt.Errorf("%w: bad port in %q", ErrInvalidID, id)
		}
		return Address{Transport: TransportNetwork, Host: host, Port: port}, nil

	case strings.HasPrefix(id, prefixBluetooth):
		addr := strings.TrimPrefix(id, prefixBluetooth)
		if addr == "" {
			return Address{}, fmt.Errorf("%w: empty bluetooth address", ErrInvalidID)
		}
		return Address{Transport: TransportBluetooth, Address: addr}, nil
	}
	return Address{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
}
