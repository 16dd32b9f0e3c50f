package probe

import "strings"

// printerVendors maps USB vendor ids of receipt printer makers (and the
// USB-serial bridges they ship with) to a readable name.
var printerVendors = map[uint16]string{
	0x04b8: "Epson",
	0x0519: "Star Micronics",
	0x0dd4: "Custom",
	0x0fe6: "Bixolon",
	0x0493: "Citizen",
	0x20d1: "Sewoo",
	0x0416: "Winbond",
	0x0483: "STMicroelectronics",
	0x1fc9: "NXP",
	0x28e9: "Rongta",
	0x0c2e: "Munbyn",
	0x1a86: "QinHeng",
}

// VendorName returns the known maker for vid, or "".
func VendorName(vid uint16) string {
	return printerVendors[vid]
}

// IsPrinterVendor reports whether vid is a known printer maker.
func IsPrinterVendor(vid uint16) bool {
	_, ok := printerVendors[vid]
	return ok
}

var bluetoothPrinterKeywords = []string{"print", "pos", "thermal", "escpos", "star", "epson", "bixolon"}

// looksLikePrinter reports whether a Bluetooth device name suggests a
// receipt printer.
func looksLikePrinter(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range bluetoothPrinterKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
