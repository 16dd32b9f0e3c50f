// Package probe enumerates candidate peripherals over USB, the local network
// and Bluetooth. Each transport is probed in isolation: a failing or hung
// transport contributes zero devices and never aborts the others.
package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thereceipt/posbridge/internal/device"
)

// DefaultTimeout bounds a single transport probe.
const DefaultTimeout = 3 * time.Second

// Prober enumerates the devices reachable over one transport.
type Prober interface {
	Name() string
	Probe(ctx context.Context) ([]device.LogicalDevice, error)
}

// DiscoveryError records that a transport could not be probed.
type DiscoveryError struct {
	Transport string
	Err       error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery over %s failed: %v", e.Transport, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// Discoverer runs a set of probers concurrently.
type Discoverer struct {
	probers []Prober
	timeout time.Duration
	log     *zap.Logger
}

// NewDiscoverer returns a Discoverer over probers. A zero timeout means
// DefaultTimeout.
func NewDiscoverer(log *zap.Logger, timeout time.Duration, probers ...Prober) *Discoverer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Discoverer{probers: probers, timeout: timeout, log: log}
}

// Discover returns the union of every prober's devices, de-duplicated by id
// with earlier probers winning.
func (d *Discoverer) Discover(ctx context.Context) []device.LogicalDevice {
	results := make([][]device.LogicalDevice, len(d.probers))

	var wg sync.WaitGroup
	for i, p := range d.probers {
		wg.Add(1)
		go func(i int, p Prober) {
			defer wg.Done()
			results[i] = d.run(ctx, p)
		}(i, p)
	}
	wg.Wait()

	seen := make(map[string]bool)
	devices := make([]device.LogicalDevice, 0)
	for _, devs := range results {
		for _, dev := range devs {
			dev.ID = device.NormalizeID(dev.ID)
			if dev.ID == "" || seen[dev.ID] {
				continue
			}
			seen[dev.ID] = true
			devices = append(devices, dev)
		}
	}
	return devices
}

type probeResult struct {
	devices []device.LogicalDevice
	err     error
}

// run probes p under the per-transport deadline. Enumeration calls that
// ignore ctx are abandoned when the deadline passes; their late result is
// discarded.
func (d *Discoverer) run(ctx context.Context, p Prober) []device.LogicalDevice {
	pctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ch := make(chan probeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- probeResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		devs, err := p.Probe(pctx)
		ch <- probeResult{devices: devs, err: err}
	}()

	start := time.Now()
	select {
	case res := <-ch:
		if res.err != nil {
			d.log.Warn("probe failed", zap.Error(&DiscoveryError{Transport: p.Name(), Err: res.err}))
			return nil
		}
		d.log.Debug("probe finished",
			zap.String("transport", p.Name()),
			zap.Int("devices", len(res.devices)),
			zap.Duration("took", time.Since(start)))
		return res.devices
	case <-pctx.Done():
		d.log.Warn("probe abandoned", zap.Error(&DiscoveryError{Transport: p.Name(), Err: pctx.Err()}))
		return nil
	}
}
