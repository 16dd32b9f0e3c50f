package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUSBID(t *testing.T) {
	assert.Equal(t, "usb:0x04b8:0x0202", USBID(0x04b8, 0x0202))
	assert.Equal(t, "usb:0x0519:0x0001", USBID(0x0519, 0x0001))
	assert.Equal(t, "usb:0xffff:0x0000", USBID(0xffff, 0))
}

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"usb:0x4B8:0x202", "usb:0x04b8:0x0202"},
		{"usb:0X04B8:0X0202", "usb:0x04b8:0x0202"},
		{"usb:0x04b8:0x0202", "usb:0x04b8:0x0202"},
		{"usb:input:event3", "usb:input:event3"},
		{"usb:0xzz:0x0202", "usb:0xzz:0x0202"},
		{"network:10.0.0.5:9100", "net:10.0.0.5:9100"},
		{"bluetooth:AA:BB:CC:DD:EE:FF", "bt:AA:BB:CC:DD:EE:FF"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeID(tt.in))
		})
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    Address
		wantErr bool
	}{
		{
			name: "usb",
			id:   "usb:0x04b8:0x0202",
			want: Address{Transport: TransportUSB, VendorID: 0x04b8, ProductID: 0x0202},
		},
		{
			name: "network",
			id:   "net:192.168.1.50:9100",
			want: Address{Transport: TransportNetwork, Host: "192.168.1.50", Port: 9100},
		},
		{
			name: "legacy network prefix",
			id:   "network:10.0.0.7:9100",
			want: Address{Transport: TransportNetwork, Host: "10.0.0.7", Port: 9100},
		},
		{
			name: "bluetooth",
			id:   "bt:00:11:22:33:44:55",
			want: Address{Transport: TransportBluetooth, Address: "00:11:22:33:44:55"},
		},
		{
			name: "legacy bluetooth prefix",
			id:   "bluetooth:COM5",
			want: Address{Transport: TransportBluetooth, Address: "COM5"},
		},
		{
			name: "usb input node",
			id:   "usb:input:event3",
			want: Address{Transport: TransportUSB, Address: "input:event3"},
		},
		{name: "bad vendor", id: "usb:0xzz:0x0202", wantErr: true},
		{name: "bad port", id: "net:host:abc", wantErr: true},
		{name: "unknown prefix", id: "serial:/dev/ttyS0", wantErr: true},
		{name: "empty bt", id: "bt:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseID(tt.id)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidID))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNetworkIDRoundTrip(t *testing.T) {
	id := NetworkID("printer.local", 0)
	assert.Equal(t, "net:printer.local:9100", id)

	addr, err := ParseID(id)
	require.NoError(t, err)
	assert.Equal(t, "printer.local", addr.Host)
	assert.Equal(t, 9100, addr.Port)
}

func TestCapabilities(t *testing.T) {
	c := Capabilities{}.Normalized()
	assert.Equal(t, 80, c.PaperWidth)
	assert.Equal(t, 48, c.Columns)
	assert.True(t, c.CanCut(), "unknown cutter counts as present")

	c.Cutter = Bool(false)
	assert.False(t, c.CanCut())

	narrow := Capabilities{PaperWidth: 58}.Normalized()
	assert.Equal(t, 32, narrow.Columns)

	merged := c.Merge(Capabilities{DrawerKick: Bool(true), PaperWidth: 58})
	assert.Equal(t, 58, merged.PaperWidth)
	assert.False(t, merged.CanCut())
	assert.True(t, merged.CanKick())
}
