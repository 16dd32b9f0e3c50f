package printer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// DefaultBaud suits most thermal printers and Bluetooth SPP bridges.
const DefaultBaud = 9600

// SerialConnection is a serial-port printer connection: USB-serial bridges,
// rfcomm devices and Bluetooth COM ports.
type SerialConnection struct {
	port         *serial.Port
	writeTimeout time.Duration
	mu           sync.Mutex
}

// ConnectSerial opens device at baud (DefaultBaud when 0).
func ConnectSerial(device string, baud int, writeTimeout time.Duration) (*SerialConnection, error) {
	if baud == 0 {
		baud = DefaultBaud
	}

	config := &serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: statusReadTimeout,
	}

	port, err := serial.OpenPort(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}

	return &SerialConnection{port: port, writeTimeout: writeTimeout}, nil
}

// Write sends data. Serial ports have no write deadline, so a write that
// outlives the timeout is reported as ErrTimeout and the caller closes the
// port, which unblocks it.
func (c *SerialConnection) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return writeWithTimeout(c.port, data, c.writeTimeout)
}

// PaperStatus asks the printer for its paper sensor state.
func (c *SerialConnection) PaperStatus() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.port.Write(paperStatusQuery); err != nil {
		return err
	}
	var reply [1]byte
	if n, err := c.port.Read(reply[:]); err != nil || n == 0 {
		return nil
	}
	return parsePaperStatus(reply[0])
}

// Close closes the port.
func (c *SerialConnection) Close() error {
	if c.port != nil {
		return c.port.Close()
	}
	return nil
}

type writeResult struct {
	n   int
	err error
}

func writeWithTimeout(w interface{ Write([]byte) (int, error) }, data []byte, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		return w.Write(data)
	}

	ch := make(chan writeResult, 1)
	go func() {
		n, err := w.Write(data)
		ch <- writeResult{n, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.n, res.err
	case <-timer.C:
		return 0, ErrTimeout
	}
}

// bluetoothPort returns the serial device for a Bluetooth address. On Linux
// the address is a MAC that must be bound to an rfcomm device; elsewhere the
// probe already recorded the OS serial port name.
func bluetoothPort(ctx context.Context, address string) (string, error) {
	if runtime.GOOS != "linux" {
		return address, nil
	}
	if strings.HasPrefix(address, "/dev/") {
		return address, nil
	}

	out, err := exec.CommandContext(ctx, "rfcomm", "-a").Output()
	if err != nil {
		return "", fmt.Errorf("failed to list rfcomm bindings: %w", err)
	}
	if dev, ok := parseRfcommBinding(out, address); ok {
		return dev, nil
	}
	return "", fmt.Errorf("no rfcomm device bound to %s (run: rfcomm bind 0 %s)", address, address)
}

// parseRfcommBinding reads `rfcomm -a` lines such as
// "rfcomm0: 00:11:22:33:44:55 channel 1 clean".
func parseRfcommBinding(out []byte, address string) (string, bool) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		if strings.EqualFold(fields[1], address) {
			return "/dev/" + strings.TrimSuffix(fields[0], ":"), true
		}
	}
	return "", false
}
