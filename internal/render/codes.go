package render

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/boombuler/barcode/code39"
	"github.com/boombuler/barcode/ean"
	"github.com/fogleman/gg"
	"github.com/skip2/go-qrcode"
	"golang.org/x/image/font/basicfont"

	"github.com/thereceipt/posbridge/internal/document"
)

const (
	defaultBarcodeHeight = 80
	captionHeight        = 18
)

// encodeBarcode builds a barcode of the named symbology. EAN values may omit
// the check digit.
func encodeBarcode(value, format string) (barcode.Barcode, error) {
	switch strings.ToUpper(format) {
	case "EAN13", "EAN8", "EAN":
		return ean.Encode(value)
	case "UPC-A", "UPCA":
		// UPC-A is EAN-13 with a leading zero.
		return ean.Encode("0" + value)
	case "CODE39":
		return code39.Encode(value, false, true)
	case "", "CODE128":
		return code128.Encode(value)
	default:
		return nil, fmt.Errorf("unsupported barcode format %q", format)
	}
}

// barcodeImage renders value as bars with its human-readable caption below,
// at most maxWidth dots wide.
func barcodeImage(value, format string, height, maxWidth int) (image.Image, error) {
	if height <= 0 {
		height = defaultBarcodeHeight
	}
	if height > document.MaxBarcodeHeight {
		height = document.MaxBarcodeHeight
	}

	code, err := encodeBarcode(value, format)
	if err != nil {
		return nil, err
	}

	// Integer module widths keep the bars scannable.
	modules := code.Bounds().Dx()
	if modules == 0 {
		return nil, fmt.Errorf("empty barcode")
	}
	scale := maxWidth / modules
	if scale > 3 {
		scale = 3
	}
	if scale < 1 {
		return nil, fmt.Errorf("barcode %q too wide for paper", value)
	}
	scaled, err := barcode.Scale(code, modules*scale, height)
	if err != nil {
		return nil, err
	}

	w := scaled.Bounds().Dx()
	dc := gg.NewContext(w, height+captionHeight)
	dc.SetColor(color.White)
	dc.Clear()
	dc.DrawImage(scaled, 0, 0)
	dc.SetColor(color.Black)
	dc.SetFontFace(basicfont.Face7x13)
	dc.DrawStringAnchored(code.Content(), float64(w)/2, float64(height)+captionHeight/2, 0.5, 0.5)
	return dc.Image(), nil
}

// qrImage renders value as a QR code no wider than maxWidth.
func qrImage(value string, maxWidth int) (image.Image, error) {
	qr, err := qrcode.New(value, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	size := maxWidth / 2
	if size > 400 {
		size = 400
	}
	return qr.Image(size), nil
}

// barcode prints a barcode line, falling back to the bracketed value when
// the symbology rejects it.
func (t *ticket) barcode(value, format string, height int) {
	img, err := barcodeImage(value, format, height, t.dots)
	if err != nil {
		t.text("["+value+"]", centered)
		return
	}
	t.image(img, 0)
}

func (t *ticket) qr(value string) error {
	img, err := qrImage(value, t.dots)
	if err != nil {
		return fmt.Errorf("cannot encode QR code: %w", err)
	}
	t.image(img, 0)
	return nil
}
