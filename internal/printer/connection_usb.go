package printer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
)

// USBConnection is a raw bulk-endpoint connection to a USB printer.
type USBConnection struct {
	ctx      *gousb.Context
	device   *gousb.Device
	config   *gousb.Config
	iface    *gousb.Interface
	done     func()
	endpoint *gousb.OutEndpoint

	writeTimeout time.Duration
	mu           sync.Mutex
}

// ConnectUSB claims the first interface of vid:pid with a bulk OUT endpoint.
// It fails instead of panicking when libusb is not installed.
func ConnectUSB(vid, pid uint16, writeTimeout time.Duration) (conn *USBConnection, err error) {
	defer func() {
		if r := recover(); r != nil {
			conn, err = nil, fmt.Errorf("USB support unavailable: %v", r)
		}
	}()

	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("failed to open USB device: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("device not found: %04X:%04X", vid, pid)
	}
	dev.SetAutoDetach(true)

	c := &USBConnection{ctx: ctx, device: dev, writeTimeout: writeTimeout}

	// Interface 0 works for most printers.
	if iface, done, err := dev.DefaultInterface(); err == nil {
		if ep := outEndpoint(iface); ep != nil {
			c.iface, c.done, c.endpoint = iface, done, ep
			return c, nil
		}
		done()
	}

	var lastErr error
	for _, cfgDesc := range dev.Desc.Configs {
		cfg, err := dev.Config(cfgDesc.Number)
		if err != nil {
			lastErr = fmt.Errorf("failed to set config %d: %w", cfgDesc.Number, err)
			continue
		}
		for _, ifaceDesc := range cfgDesc.Interfaces {
			iface, err := cfg.Interface(ifaceDesc.Number, 0)
			if err != nil {
				lastErr = fmt.Errorf("failed to claim interface %d: %w", ifaceDesc.Number, err)
				continue
			}
			if ep := outEndpoint(iface); ep != nil {
				c.config, c.iface, c.endpoint = cfg, iface, ep
				return c, nil
			}
			iface.Close()
		}
		cfg.Close()
	}

	dev.Close()
	ctx.Close()
	if lastErr != nil {
		return nil, fmt.Errorf("failed to connect to USB printer: %w", lastErr)
	}
	return nil, fmt.Errorf("no bulk OUT endpoint on USB printer %04X:%04X", vid, pid)
}

func outEndpoint(iface *gousb.Interface) *gousb.OutEndpoint {
	for _, epDesc := range iface.Setting.Endpoints {
		if epDesc.Direction != gousb.EndpointDirectionOut {
			continue
		}
		if ep, err := iface.OutEndpoint(epDesc.Number); err == nil {
			return ep
		}
	}
	return nil
}

// Write sends data to the bulk endpoint under the write timeout.
func (c *USBConnection) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx := context.Background()
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	n, err := c.endpoint.WriteContext(ctx, data)
	if err != nil && ctx.Err() != nil {
		return n, ErrTimeout
	}
	return n, err
}

// Close releases the interface, device and libusb context.
func (c *USBConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		c.done()
		c.done = nil
	} else if c.iface != nil {
		c.iface.Close()
		if c.config != nil {
			c.config.Close()
		}
	}
	c.iface, c.config = nil, nil

	var err error
	if c.device != nil {
		err = c.device.Close()
		c.device = nil
	}
	if c.ctx != nil {
		c.ctx.Close()
		c.ctx = nil
	}
	return err
}
