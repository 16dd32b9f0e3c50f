// Package device defines the logical peripheral identity shared by discovery,
// the registry, the job engine and the scanner listener.
package device

import (
	"time"
)

// Kind is the role a peripheral plays at the point of sale.
type Kind string

const (
	KindPrinter Kind = "printer"
	KindScanner Kind = "scanner"
)

// Transport is the bus a peripheral is reached over.
type Transport string

const (
	TransportUSB       Transport = "usb"
	TransportNetwork   Transport = "network"
	TransportBluetooth Transport = "bluetooth"
)

// DefaultPaperWidth is assumed when a printer does not report its paper size.
const DefaultPaperWidth = 80

// Capabilities is best-effort static metadata. Nil flags mean unknown.
type Capabilities struct {
	PaperWidth int   `json:"paperWidth,omitempty"`
	Columns    int   `json:"columns,omitempty"`
	Cutter     *bool `json:"cutter,omitempty"`
	DrawerKick *bool `json:"drawerKick,omitempty"`
}

// Bool returns a pointer to b, for filling tri-state capability flags.
func Bool(b bool) *bool {
	return &b
}

// ColumnsFor returns the character columns of font A for a paper width in mm.
func ColumnsFor(paperWidth int) int {
	switch {
	case paperWidth <= 0:
		return ColumnsFor(DefaultPaperWidth)
	case paperWidth <= 58:
		return 32
	case paperWidth <= 80:
		return 48
	default:
		return 64
	}
}

// Normalized fills unknown paper geometry with defaults.
func (c Capabilities) Normalized() Capabilities {
	if c.PaperWidth == 0 {
		c.PaperWidth = DefaultPaperWidth
	}
	if c.Columns == 0 {
		c.Columns = ColumnsFor(c.PaperWidth)
	}
	return c
}

// CanCut reports whether a cut may be attempted. Unknown counts as yes.
func (c Capabilities) CanCut() bool {
	return c.Cutter == nil || *c.Cutter
}

// CanKick reports whether a drawer kick may be attempted. Unknown counts as yes.
func (c Capabilities) CanKick() bool {
	return c.DrawerKick == nil || *c.DrawerKick
}

// Merge overlays the known fields of o on c.
func (c Capabilities) Merge(o Capabilities) Capabilities {
	if o.PaperWidth != 0 {
		c.PaperWidth = o.PaperWidth
	}
	if o.Columns != 0 {
		c.Columns = o.Columns
	}
	if o.Cutter != nil {
		c.Cutter = o.Cutter
	}
	if o.DrawerKick != nil {
		c.DrawerKick = o.DrawerKick
	}
	return c
}

// LogicalDevice is the registry's stable identity for a peripheral,
// independent of whether it is currently attached.
type LogicalDevice struct {
	ID           string       `json:"id"`
	Kind         Kind         `json:"kind"`
	Transport    Transport    `json:"transport"`
	DisplayName  string       `json:"displayName"`
	Capabilities Capabilities `json:"capabilities"`
	Reachable    bool         `json:"reachable"`

	LastSeen   time.Time `json:"-"`
	Configured bool      `json:"-"`

	// Addressing, filled by whichever probe observed the device.
	VendorID  uint16 `json:"-"`
	ProductID uint16 `json:"-"`
	Host      string `json:"-"`
	Port      int    `json:"-"`
	Address   string `json:"-"`
	Path      string `json:"-"`
	Driver    string `json:"-"`
}

// IsPrinter reports whether d is a printer.
func (d LogicalDevice) IsPrinter() bool {
	return d.Kind == KindPrinter
}

// IsScanner reports whether d is a scanner.
func (d LogicalDevice) IsScanner() bool {
	return d.Kind == KindScanner
}

// Name returns the display name, falling back to the id.
func (d LogicalDevice) Name() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.ID
}
