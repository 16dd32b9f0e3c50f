package probe

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/thereceipt/posbridge/internal/device"
	"github.com/thereceipt/posbridge/internal/scanner"
)

// ScannerProber reports HID-mode barcode scanners found by the scanner
// backends. The backend name is kept in Driver so the listener can reopen
// the device through the same mechanism.
type ScannerProber struct {
	Backends []scanner.Backend
	log      *zap.Logger
}

func NewScannerProber(log *zap.Logger, backends ...scanner.Backend) *ScannerProber {
	if log == nil {
		log = zap.NewNop()
	}
	return &ScannerProber{Backends: backends, log: log}
}

func (p *ScannerProber) Name() string { return "scanner" }

func (p *ScannerProber) Probe(ctx context.Context) ([]device.LogicalDevice, error) {
	var (
		devices []device.LogicalDevice
		errs    []error
	)
	for _, b := range p.Backends {
		cands, err := b.Enumerate(ctx)
		if errors.Is(err, scanner.ErrUnsupported) {
			continue
		}
		if err != nil {
			p.log.Debug("scanner backend failed", zap.String("backend", b.Name()), zap.Error(err))
			errs = append(errs, err)
		}
		for _, c := range cands {
			devices = append(devices, device.LogicalDevice{
				ID:          c.ID,
				Kind:        device.KindScanner,
				Transport:   device.TransportUSB,
				DisplayName: c.Name,
				VendorID:    c.VendorID,
				ProductID:   c.ProductID,
				Path:        c.Path,
				Driver:      b.Name(),
			})
		}
	}
	if len(devices) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return devices, nil
}
