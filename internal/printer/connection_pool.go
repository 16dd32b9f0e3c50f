package printer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thereceipt/posbridge/internal/device"
)

// Default transport timeouts.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// Conn is an open byte transport to one printer.
type Conn interface {
	Write(data []byte) (int, error)
	Close() error
}

// PaperStatuser is implemented by connections that can read the printer's
// real-time status back.
type PaperStatuser interface {
	PaperStatus() error
}

// Dialer opens a transport to a device.
type Dialer interface {
	Dial(ctx context.Context, dev device.LogicalDevice) (Conn, error)
}

// TransportDialer picks USB, serial, Bluetooth or TCP from the device's
// transport and addressing.
type TransportDialer struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Baud         int
}

// NewDialer returns a dialer with the given timeouts; zero means default.
func NewDialer(dialTimeout, writeTimeout time.Duration) *TransportDialer {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &TransportDialer{DialTimeout: dialTimeout, WriteTimeout: writeTimeout, Baud: DefaultBaud}
}

func (d *TransportDialer) Dial(ctx context.Context, dev device.LogicalDevice) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.DialTimeout)
	defer cancel()

	dev, err := withAddress(dev)
	if err != nil {
		return nil, transportError(dev.ID, "dial", err)
	}

	var conn Conn
	switch dev.Transport {
	case device.TransportNetwork:
		conn, err = ConnectNetwork(ctx, dev.Host, dev.Port, d.WriteTimeout)

	case device.TransportUSB:
		conn, err = d.dialUSB(dev)

	case device.TransportBluetooth:
		var port string
		port, err = bluetoothPort(ctx, dev.Address)
		if err == nil {
			conn, err = ConnectSerial(port, d.Baud, d.WriteTimeout)
		}

	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedTransport, dev.Transport)
	}
	if err != nil {
		return nil, transportError(dev.ID, "dial", err)
	}
	return conn, nil
}

// dialUSB prefers libusb and falls back to the OS serial port of a
// USB-serial bridge, which is the only route on macOS and Windows when a
// vendor driver owns the device.
func (d *TransportDialer) dialUSB(dev device.LogicalDevice) (Conn, error) {
	if dev.VendorID == 0 {
		if dev.Path == "" {
			return nil, errors.New("no USB address")
		}
		return ConnectSerial(dev.Path, d.Baud, d.WriteTimeout)
	}

	conn, err := ConnectUSB(dev.VendorID, dev.ProductID, d.WriteTimeout)
	if err == nil {
		return conn, nil
	}
	if dev.Path == "" {
		return nil, err
	}
	sconn, serr := ConnectSerial(dev.Path, d.Baud, d.WriteTimeout)
	if serr != nil {
		return nil, errors.Join(err, serr)
	}
	return sconn, nil
}

// withAddress fills missing addressing from the device id.
func withAddress(dev device.LogicalDevice) (device.LogicalDevice, error) {
	addr, err := device.ParseID(dev.ID)
	if err != nil {
		return dev, err
	}
	if dev.Transport == "" {
		dev.Transport = addr.Transport
	}
	if dev.VendorID == 0 && dev.ProductID == 0 {
		dev.VendorID, dev.ProductID = addr.VendorID, addr.ProductID
	}
	if dev.Host == "" {
		dev.Host, dev.Port = addr.Host, addr.Port
	}
	if dev.Port == 0 {
		dev.Port = addr.Port
	}
	if dev.Address == "" {
		dev.Address = addr.Address
	}
	return dev, nil
}

// Pool caches one connection per device id. A device is only ever used by
// one job worker, so a cached connection is never shared concurrently.
type Pool struct {
	dialer Dialer
	log    *zap.Logger

	mu    sync.Mutex
	conns map[string]Conn
}

// NewPool returns an empty pool over dialer.
func NewPool(dialer Dialer, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{dialer: dialer, log: log, conns: make(map[string]Conn)}
}

// Acquire returns the cached connection for dev or dials a new one.
func (p *Pool) Acquire(ctx context.Context, dev device.LogicalDevice) (Conn, error) {
	p.mu.Lock()
	conn, ok := p.conns[dev.ID]
	p.mu.Unlock()
	if ok {
		return conn, nil
	}

	conn, err := p.dialer.Dial(ctx, dev)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[dev.ID]; ok {
		conn.Close()
		return existing, nil
	}
	p.conns[dev.ID] = conn
	p.log.Debug("connected", zap.String("id", dev.ID))
	return conn, nil
}

// Send writes data to dev over its pooled connection, checking the paper
// sensor first when the transport can. Any failure discards the connection.
func (p *Pool) Send(ctx context.Context, dev device.LogicalDevice, data []byte) error {
	conn, err := p.Acquire(ctx, dev)
	if err != nil {
		return err
	}

	if ps, ok := conn.(PaperStatuser); ok {
		if err := ps.PaperStatus(); err != nil {
			p.Discard(dev.ID)
			return transportError(dev.ID, "status", err)
		}
	}

	for len(data) > 0 {
		n, err := conn.Write(data)
		if err != nil {
			p.Discard(dev.ID)
			return transportError(dev.ID, "write", err)
		}
		if n == 0 {
			p.Discard(dev.ID)
			return transportError(dev.ID, "write", errors.New("short write"))
		}
		data = data[n:]
	}
	return nil
}

// Discard closes and forgets the connection of id.
func (p *Pool) Discard(id string) {
	p.mu.Lock()
	conn, ok := p.conns[id]
	delete(p.conns, id)
	p.mu.Unlock()

	if ok {
		if err := conn.Close(); err != nil {
			p.log.Debug("close failed", zap.String("id", id), zap.Error(err))
		}
	}
}

// isConnected reports whether a connection to id is cached.
func (p *Pool) isConnected(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.conns[id]
	return ok
}

// CloseAll closes every cached connection.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]Conn)
	p.mu.Unlock()

	for id, conn := range conns {
		if err := conn.Close(); err != nil {
			p.log.Debug("close failed", zap.String("id", id), zap.Error(err))
		}
	}
}
