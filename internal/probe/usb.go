package probe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gousb"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"github.com/thereceipt/posbridge/internal/device"
)

// USBProber finds receipt printers attached over USB, both raw printer-class
// devices reached through libusb and USB-serial bridges exposed by the OS as
// serial ports.
type USBProber struct {
	log *zap.Logger

	listUSB    func() ([]device.LogicalDevice, error)
	listSerial func() ([]device.LogicalDevice, error)
}

// NewUSBProber returns a prober backed by libusb and the OS serial port list.
func NewUSBProber(log *zap.Logger) *USBProber {
	if log == nil {
		log = zap.NewNop()
	}
	return &USBProber{log: log, listUSB: listLibUSB, listSerial: listUSBSerial}
}

func (p *USBProber) Name() string { return "usb" }

// Probe merges both sources. A serial bridge with the same vid/pid as a
// libusb device only contributes its port path as a fallback transport.
func (p *USBProber) Probe(ctx context.Context) ([]device.LogicalDevice, error) {
	usbDevs, usbErr := p.listUSB()
	if usbErr != nil {
		p.log.Debug("libusb enumeration failed", zap.Error(usbErr))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	serialDevs, serialErr := p.listSerial()
	if serialErr != nil {
		p.log.Debug("serial enumeration failed", zap.Error(serialErr))
	}
	if usbErr != nil && serialErr != nil {
		return nil, errors.Join(usbErr, serialErr)
	}

	byID := make(map[string]int, len(usbDevs))
	for i, d := range usbDevs {
		byID[d.ID] = i
	}
	for _, d := range serialDevs {
		if i, ok := byID[d.ID]; ok {
			usbDevs[i].Path = d.Path
			continue
		}
		byID[d.ID] = len(usbDevs)
		usbDevs = append(usbDevs, d)
	}
	return usbDevs, nil
}

// isPrinterDesc matches printer-class devices, and devices of known printer
// vendors unless every interface is HID (scanners share some vendor ids).
func isPrinterDesc(desc *gousb.DeviceDesc) bool {
	if desc.Class == gousb.ClassPrinter {
		return true
	}

	ifaces, hid := 0, 0
	for _, cfg := range desc.Configs {
		for _, iface := range cfg.Interfaces {
			for _, alt := range iface.AltSettings {
				if alt.Class == gousb.ClassPrinter {
					return true
				}
				ifaces++
				if alt.Class == gousb.ClassHID {
					hid++
				}
			}
		}
	}
	return IsPrinterVendor(uint16(desc.Vendor)) && (ifaces == 0 || hid < ifaces)
}

// listLibUSB opens every printer-like device to read its product string.
// gousb panics when libusb cannot be initialised; the Discoverer recovers.
func listLibUSB() ([]device.LogicalDevice, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(isPrinterDesc)
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("failed to open USB devices: %w", err)
	}

	var found []device.LogicalDevice
	for _, d := range devs {
		vid, pid := uint16(d.Desc.Vendor), uint16(d.Desc.Product)

		name, _ := d.Product()
		if name == "" {
			name = usbFallbackName(vid)
		}

		found = append(found, device.LogicalDevice{
			ID:          device.USBID(vid, pid),
			Kind:        device.KindPrinter,
			Transport:   device.TransportUSB,
			DisplayName: strings.TrimSpace(name),
			VendorID:    vid,
			ProductID:   pid,
		})
	}
	return found, nil
}

// listUSBSerial returns USB-serial ports whose vendor is a known printer
// maker, as found on macOS and Windows where the OS driver claims the
// device before libusb can.
func listUSBSerial() ([]device.LogicalDevice, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	var found []device.LogicalDevice
	for _, port := range ports {
		if !port.IsUSB {
			continue
		}
		vid, err := strconv.ParseUint(port.VID, 16, 16)
		if err != nil || !IsPrinterVendor(uint16(vid)) {
			continue
		}
		pid, err := strconv.ParseUint(port.PID, 16, 16)
		if err != nil {
			continue
		}

		name := strings.TrimSpace(port.Product)
		if name == "" {
			name = usbFallbackName(uint16(vid))
		}

		found = append(found, device.LogicalDevice{
			ID:          device.USBID(uint16(vid), uint16(pid)),
			Kind:        device.KindPrinter,
			Transport:   device.TransportUSB,
			DisplayName: name,
			VendorID:    uint16(vid),
			ProductID:   uint16(pid),
			Path:        port.Name,
		})
	}
	return found, nil
}

func usbFallbackName(vid uint16) string {
	if v := VendorName(vid); v != "" {
		return v + " printer"
	}
	return "USB printer"
}
