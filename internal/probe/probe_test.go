package probe

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/posbridge/internal/device"
	"github.com/thereceipt/posbridge/internal/scanner"
)

type stubProber struct {
	name  string
	devs  []device.LogicalDevice
	err   error
	hang  bool
	panic bool
}

func (p *stubProber) Name() string { return p.name }

func (p *stubProber) Probe(ctx context.Context) ([]device.LogicalDevice, error) {
	if p.panic {
		panic("libusb not found")
	}
	if p.hang {
		// Ignores ctx, like a blocking OS enumeration call.
		time.Sleep(time.Hour)
	}
	return p.devs, p.err
}

func printer(id string) device.LogicalDevice {
	return device.LogicalDevice{ID: id, Kind: device.KindPrinter, Transport: device.TransportUSB}
}

func TestDiscoverNothingIsEmptyNotNil(t *testing.T) {
	d := NewDiscoverer(nil, time.Second)
	devs := d.Discover(context.Background())
	require.NotNil(t, devs)
	assert.Empty(t, devs)
}

func TestDiscoverIsolatesFailures(t *testing.T) {
	d := NewDiscoverer(nil, 200*time.Millisecond,
		&stubProber{name: "usb", devs: []device.LogicalDevice{printer("usb:0x04b8:0x0202")}},
		&stubProber{name: "network", err: errors.New("boom")},
		&stubProber{name: "bluetooth", panic: true},
		&stubProber{name: "mdns", hang: true},
	)

	start := time.Now()
	devs := d.Discover(context.Background())
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, devs, 1)
	assert.Equal(t, "usb:0x04b8:0x0202", devs[0].ID)
}

func TestDiscoverDedupesByNormalizedID(t *testing.T) {
	first := device.LogicalDevice{ID: "network:10.0.0.5:9100", DisplayName: "first"}
	second := device.LogicalDevice{ID: "net:10.0.0.5:9100", DisplayName: "second"}
	d := NewDiscoverer(nil, time.Second,
		&stubProber{name: "a", devs: []device.LogicalDevice{first}},
		&stubProber{name: "b", devs: []device.LogicalDevice{second}},
	)

	devs := d.Discover(context.Background())
	require.Len(t, devs, 1)
	assert.Equal(t, "net:10.0.0.5:9100", devs[0].ID)
	assert.Equal(t, "first", devs[0].DisplayName)
}

func TestUSBProberMergesSerialPath(t *testing.T) {
	p := NewUSBProber(nil)
	p.listUSB = func() ([]device.LogicalDevice, error) {
		return []device.LogicalDevice{printer("usb:0x04b8:0x0202")}, nil
	}
	p.listSerial = func() ([]device.LogicalDevice, error) {
		a := printer("usb:0x04b8:0x0202")
		a.Path = "/dev/cu.usbserial-1"
		b := printer("usb:0x0519:0x0003")
		b.Path = "COM4"
		return []device.LogicalDevice{a, b}, nil
	}

	devs, err := p.Probe(context.Background())
	require.NoError(t, err)
	require.Len(t, devs, 2)
	assert.Equal(t, "/dev/cu.usbserial-1", devs[0].Path)
	assert.Equal(t, "COM4", devs[1].Path)
}

func TestUSBProberFailsOnlyWhenBothSourcesFail(t *testing.T) {
	fail := func() ([]device.LogicalDevice, error) { return nil, errors.New("nope") }
	ok := func() ([]device.LogicalDevice, error) { return nil, nil }

	p := NewUSBProber(nil)
	p.listUSB, p.listSerial = fail, ok
	_, err := p.Probe(context.Background())
	assert.NoError(t, err)

	p.listSerial = fail
	_, err = p.Probe(context.Background())
	assert.Error(t, err)
}

func TestNetworkProberReachability(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadPort := closed.Addr().(*net.TCPAddr).Port
	closed.Close()

	live := "127.0.0.1:" + strconv.Itoa(port)
	p := &NetworkProber{
		Targets: func() []string {
			return []string{live, live, "127.0.0.1:" + strconv.Itoa(deadPort), "bad:port:x"}
		},
		DialTimeout: 500 * time.Millisecond,
	}

	devs, err := p.Probe(context.Background())
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, device.NetworkID("127.0.0.1", port), devs[0].ID)
	assert.Equal(t, device.TransportNetwork, devs[0].Transport)
}

func TestSplitTarget(t *testing.T) {
	host, port, ok := splitTarget("192.168.1.50")
	require.True(t, ok)
	assert.Equal(t, "192.168.1.50", host)
	assert.Equal(t, device.DefaultRawPort, port)

	host, port, ok = splitTarget("printer.local:9101")
	require.True(t, ok)
	assert.Equal(t, "printer.local", host)
	assert.Equal(t, 9101, port)

	_, _, ok = splitTarget("host:0")
	assert.False(t, ok)
	_, _, ok = splitTarget("")
	assert.False(t, ok)
}

func TestParsePairedDevices(t *testing.T) {
	out := "Device 00:11:22:33:44:55 PT-210 Printer\n" +
		"Device AA:BB:CC:DD:EE:FF Headphones\n" +
		"garbage line\n"

	devs := parsePairedDevices(out)
	require.Len(t, devs, 2)
	assert.Equal(t, "00:11:22:33:44:55", devs[0].Address)
	assert.Equal(t, "PT-210 Printer", devs[0].Name)
}

func TestIsPrinterInfo(t *testing.T) {
	assert.True(t, isPrinterInfo("MTP-II", "\tIcon: printer\n"))
	assert.True(t, isPrinterInfo("MTP-II", "\tUUID: Serial Port               (00001101-0000-1000-8000-00805f9b34fb)\n"))
	assert.True(t, isPrinterInfo("Thermal 58", ""))
	assert.False(t, isPrinterInfo("Headphones", "\tIcon: audio-headset\n"))
}

func TestBluetoothDeviceDefaults(t *testing.T) {
	d := bluetoothDevice("00:11:22:33:44:55", "")
	assert.Equal(t, "bt:00:11:22:33:44:55", d.ID)
	assert.Equal(t, "00:11:22:33:44:55", d.DisplayName)
	assert.Equal(t, 58, d.Capabilities.PaperWidth)
}

func TestDeviceFromEntry(t *testing.T) {
	e := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "TM-m30"},
		HostName:      "tm-m30.local.",
		Port:          631,
		AddrIPv4:      []net.IP{net.ParseIP("192.168.1.40")},
	}

	d, ok := deviceFromEntry(ServiceIPP, e)
	require.True(t, ok)
	assert.Equal(t, "net:192.168.1.40:9100", d.ID)
	assert.Equal(t, "TM-m30", d.DisplayName)

	e.AddrIPv4 = nil
	e.Port = 9100
	d, ok = deviceFromEntry(ServiceRaw, e)
	require.True(t, ok)
	assert.Equal(t, "tm-m30.local", d.Host)

	_, ok = deviceFromEntry(ServiceRaw, &zeroconf.ServiceEntry{})
	assert.False(t, ok)
}

type stubBackend struct {
	name  string
	cands []scanner.Candidate
	err   error
}

func (b *stubBackend) Name() string { return b.name }

func (b *stubBackend) Enumerate(context.Context) ([]scanner.Candidate, error) {
	return b.cands, b.err
}

func (b *stubBackend) Open(scanner.Candidate) (scanner.Source, error) {
	return nil, scanner.ErrUnsupported
}

func TestScannerProber(t *testing.T) {
	p := NewScannerProber(nil,
		&stubBackend{name: "evdev", err: scanner.ErrUnsupported},
		&stubBackend{name: "hid", cands: []scanner.Candidate{{
			ID: "usb:0x05e0:0x1200", Name: "Symbol Bar Code Scanner", Path: "hid-1", VendorID: 0x05e0, ProductID: 0x1200,
		}}},
	)

	devs, err := p.Probe(context.Background())
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, device.KindScanner, devs[0].Kind)
	assert.Equal(t, "hid", devs[0].Driver)
	assert.Equal(t, "hid-1", devs[0].Path)
}

func TestScannerProberAllUnsupported(t *testing.T) {
	p := NewScannerProber(nil, &stubBackend{name: "evdev", err: scanner.ErrUnsupported})
	devs, err := p.Probe(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, devs)
}
