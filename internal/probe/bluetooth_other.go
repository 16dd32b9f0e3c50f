//go:build !linux

package probe

import (
	"context"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"

	"github.com/thereceipt/posbridge/internal/device"
)

// On macOS and Windows paired SPP printers surface as serial ports
// (/dev/cu.<name> or COMn), so the port name is the address.
func (p *BluetoothProber) probe(ctx context.Context) ([]device.LogicalDevice, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBluetoothUnavailable, err)
	}

	var found []device.LogicalDevice
	for _, port := range ports {
		if port.IsUSB {
			continue
		}
		name := strings.ToLower(port.Name)
		product := strings.ToLower(port.Product)
		if strings.Contains(name, "incoming") {
			continue
		}
		if !strings.Contains(product, "bluetooth") && !looksLikePrinter(port.Name) {
			continue
		}

		d := bluetoothDevice(port.Name, displayNameForPort(port))
		d.Path = port.Name
		found = append(found, d)
	}
	return found, nil
}

func displayNameForPort(port *enumerator.PortDetails) string {
	name := strings.TrimPrefix(port.Name, "/dev/cu.")
	name = strings.TrimPrefix(name, "/dev/tty.")
	if port.Product != "" && !strings.Contains(strings.ToLower(port.Product), "standard serial") {
		return port.Product
	}
	return name
}
