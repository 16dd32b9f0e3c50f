package probe

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/thereceipt/posbridge/internal/device"
)

// ErrBluetoothUnavailable is returned when the platform Bluetooth stack
// cannot be queried.
var ErrBluetoothUnavailable = errors.New("bluetooth unavailable")

// BluetoothProber lists paired devices that look like printers.
type BluetoothProber struct {
	log *zap.Logger
}

func NewBluetoothProber(log *zap.Logger) *BluetoothProber {
	if log == nil {
		log = zap.NewNop()
	}
	return &BluetoothProber{log: log}
}

func (p *BluetoothProber) Name() string { return "bluetooth" }

func (p *BluetoothProber) Probe(ctx context.Context) ([]device.LogicalDevice, error) {
	return p.probe(ctx)
}

type pairedDevice struct {
	Address string
	Name    string
}

// parsePairedDevices reads `bluetoothctl devices` output:
// "Device XX:XX:XX:XX:XX:XX Name".
func parsePairedDevices(out string) []pairedDevice {
	var devices []pairedDevice
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Device ") {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(line, "Device "), " ", 2)
		if len(parts) != 2 {
			continue
		}
		devices = append(devices, pairedDevice{Address: parts[0], Name: strings.TrimSpace(parts[1])})
	}
	return devices
}

// isPrinterInfo decides from `bluetoothctl info` output whether a paired
// device is a printer: printer icon, a Serial Port profile, or a printer-like
// name.
func isPrinterInfo(name, info string) bool {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Icon:") && strings.Contains(line, "printer"):
			return true
		case strings.HasPrefix(line, "UUID:") && strings.Contains(line, "Serial Port"):
			return true
		}
	}
	return looksLikePrinter(name)
}

func bluetoothDevice(address, name string) device.LogicalDevice {
	if name == "" {
		name = address
	}
	return device.LogicalDevice{
		ID:          device.BluetoothID(address),
		Kind:        device.KindPrinter,
		Transport:   device.TransportBluetooth,
		DisplayName: name,
		Address:     address,
		Capabilities: device.Capabilities{
			PaperWidth: 58,
		},
	}
}
