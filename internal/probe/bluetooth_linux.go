//go:build linux

package probe

import (
	"context"
	"fmt"
	"os/exec"

	"go.uber.org/zap"

	"github.com/thereceipt/posbridge/internal/device"
)

func (p *BluetoothProber) probe(ctx context.Context) ([]device.LogicalDevice, error) {
	out, err := exec.CommandContext(ctx, "bluetoothctl", "devices", "Paired").Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBluetoothUnavailable, err)
	}

	var found []device.LogicalDevice
	for _, d := range parsePairedDevices(string(out)) {
		if err := ctx.Err(); err != nil {
			return found, nil
		}
		info, err := exec.CommandContext(ctx, "bluetoothctl", "info", d.Address).Output()
		if err != nil {
			p.log.Debug("bluetoothctl info failed", zap.String("address", d.Address), zap.Error(err))
		}
		if isPrinterInfo(d.Name, string(info)) {
			found = append(found, bluetoothDevice(d.Address, d.Name))
		}
	}
	return found, nil
}
