package document

import "fmt"

// Upper bounds on payload-controlled sizes.
const (
	MaxBarcodeHeight = 1024
	MaxFeedLines     = 255
)

var lineKinds = map[string]bool{
	LineText:    true,
	LineTotal:   true,
	LineDivider: true,
	LineFeed:    true,
	LineBarcode: true,
	LineQR:      true,
	LineImage:   true,
	LineLogo:    true,
	LineCut:     true,
}

// Validate checks d for the given document type.
func Validate(docType string, d *Document) error {
	if d == nil {
		return fmt.Errorf("%w: missing document", ErrInvalid)
	}

	switch d.Pin {
	case 0, 2, 5:
	default:
		return fmt.Errorf("%w: drawer pin must be 2 or 5, got %d", ErrInvalid, d.Pin)
	}

	for i, item := range d.Items {
		if item.Name == "" {
			return fmt.Errorf("%w: items[%d]: name is required", ErrInvalid, i)
		}
	}

	if docType == TypeBarcodeLabel && d.Barcode == "" && d.ProductName == "" && len(d.Lines) == 0 {
		return fmt.Errorf("%w: barcode label needs a barcode or product_name", ErrInvalid)
	}

	for i, l := range d.Lines {
		if err := validateLine(l); err != nil {
			return fmt.Errorf("%w: lines[%d]: %v", ErrInvalid, i, err)
		}
	}
	return nil
}

func validateLine(l Line) error {
	kind := l.Kind()
	if !lineKinds[kind] {
		return fmt.Errorf("unknown line type %q", kind)
	}

	switch l.Align {
	case "", "left", "center", "right":
	default:
		return fmt.Errorf("invalid align %q (must be left, center, or right)", l.Align)
	}

	if l.Size < 0 || l.Size > 8 {
		return fmt.Errorf("size %d out of range 1-8", l.Size)
	}

	switch kind {
	case LineBarcode, LineQR:
		if l.Value == "" {
			return fmt.Errorf("%s line needs a value", kind)
		}
		if l.Height < 0 || l.Height > MaxBarcodeHeight {
			return fmt.Errorf("height %d out of range 0-%d", l.Height, MaxBarcodeHeight)
		}
	case LineImage, LineLogo:
		if l.Base64 == "" {
			return fmt.Errorf("%s line needs base64 data", kind)
		}
	case LineTotal:
		if l.Amount == nil {
			return fmt.Errorf("total line needs an amount")
		}
	case LineFeed:
		if l.Count < 0 || l.Count > MaxFeedLines {
			return fmt.Errorf("feed lines %d out of range 0-%d", l.Count, MaxFeedLines)
		}
	}
	return nil
}
