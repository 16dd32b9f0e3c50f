package render

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/posbridge/internal/device"
	"github.com/thereceipt/posbridge/internal/document"
)

var (
	cutCmd    = []byte{gs, 'V', 0}
	rasterCmd = []byte{gs, 'v', '0', 0}
	kickPin2  = []byte{esc, 'p', 0}
	kickPin5  = []byte{esc, 'p', 1}
)

func fixedRenderer() *Renderer {
	return WithClock(func() time.Time {
		return time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)
	})
}

func epson() device.LogicalDevice {
	return device.LogicalDevice{
		ID:          "usb:0x04b8:0x0202",
		Kind:        device.KindPrinter,
		Transport:   device.TransportUSB,
		DisplayName: "TM-T20",
	}
}

func noCutter() device.LogicalDevice {
	d := epson()
	d.Capabilities = device.Capabilities{PaperWidth: 58, Cutter: device.Bool(false), DrawerKick: device.Bool(false)}
	return d
}

func TestRenderLinesOnlyReceipt(t *testing.T) {
	out, err := fixedRenderer().Render("receipt", []byte(`{"lines":["Hello"]}`), epson())
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(out, []byte{esc, '@'}))
	assert.Contains(t, string(out), "Hello")
	assert.NotContains(t, string(out), "TOTAL")
	assert.True(t, bytes.Contains(out, cutCmd))
}

func TestRenderEmptyTypeIsReceipt(t *testing.T) {
	out, err := fixedRenderer().Render("", []byte(`{"business_name":"Cafe Sol","items":[{"name":"Espresso","quantity":2,"total":3}],"total":3}`), epson())
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, "Cafe Sol")
	assert.Contains(t, s, "2x Espresso")
	assert.Contains(t, s, "TOTAL")
	assert.Contains(t, s, "09/03/2024 14:05")
}

func TestRenderInvalidPayload(t *testing.T) {
	_, err := New().Render("receipt", []byte(`[1,2]`), epson())
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "receipt", rerr.DocumentType)
	assert.ErrorIs(t, err, document.ErrInvalid)
}

func TestRenderNoCutterFeedsInstead(t *testing.T) {
	out, err := New().Render("receipt", []byte(`{"lines":["x"]}`), noCutter())
	require.NoError(t, err)
	assert.False(t, bytes.Contains(out, cutCmd))
}

func TestRenderExplicitCutWithoutCutter(t *testing.T) {
	_, err := New().Render("receipt", []byte(`{"lines":["x"],"cut":true}`), noCutter())
	var rerr *Error
	assert.ErrorAs(t, err, &rerr)

	_, err = New().Render("receipt", []byte(`{"lines":["x",{"type":"cut"}]}`), noCutter())
	assert.ErrorAs(t, err, &rerr)
}

func TestRenderCutLineNotDoubled(t *testing.T) {
	out, err := New().Render("receipt", []byte(`{"lines":["x",{"type":"cut"}]}`), epson())
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(out, cutCmd))
}

func TestRenderDrawer(t *testing.T) {
	out, err := New().Render("drawer", nil, epson())
	require.NoError(t, err)
	assert.True(t, bytes.Contains(out, kickPin2))
	assert.False(t, bytes.Contains(out, cutCmd))

	out, err = New().Render("drawer", []byte(`{"pin":5}`), epson())
	require.NoError(t, err)
	assert.True(t, bytes.Contains(out, kickPin5))

	_, err = New().Render("drawer", nil, noCutter())
	var rerr *Error
	assert.ErrorAs(t, err, &rerr)
}

func TestRenderTestPage(t *testing.T) {
	out, err := fixedRenderer().Render("test", nil, epson())
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, "Test Print OK")
	assert.Contains(t, s, "usb:0x04b8:0x0202")
	assert.Contains(t, s, "80mm, 48 columns")
	// PC858 has the euro sign at 0xD5.
	assert.True(t, bytes.Contains(out, []byte{0xD5}))
}

func TestRenderGenericKeepsFieldOrder(t *testing.T) {
	out, err := New().Render("mystery", []byte(`{"title":"Note","zeta":"1","alpha":"2"}`), epson())
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, "Note")
	assert.Less(t, bytes.Index(out, []byte("zeta: 1")), bytes.Index(out, []byte("alpha: 2")))
}

func TestRenderBarcodeLabel(t *testing.T) {
	out, err := New().Render("barcode_label", []byte(`{"product_name":"Olive oil","barcode":"4006381333931","price":7.95}`), epson())
	require.NoError(t, err)

	assert.Contains(t, string(out), "Olive oil")
	assert.Contains(t, string(out), "7.95")
	assert.True(t, bytes.Contains(out, rasterCmd))
}

func TestRenderBadBarcodeFallsBackToText(t *testing.T) {
	out, err := New().Render("receipt", []byte(`{"lines":[{"type":"barcode","value":"12AB","format":"EAN13"}]}`), epson())
	require.NoError(t, err)
	assert.Contains(t, string(out), "[12AB]")
}

func TestRenderQRAndImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 16, 4))
	for x := 0; x < 8; x++ {
		img.SetGray(x, 0, color.Gray{Y: 0})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	b64 := base64.StdEncoding.EncodeToString(buf.Bytes())

	payload := `{"lines":[{"type":"qr","value":"https://example.com"},{"type":"logo","base64":"data:image/png;base64,` + b64 + `"}]}`
	out, err := New().Render("receipt", []byte(payload), epson())
	require.NoError(t, err)
	// The QR code is taller than one raster band.
	assert.GreaterOrEqual(t, bytes.Count(out, rasterCmd), 3)

	_, err = New().Render("receipt", []byte(`{"lines":[{"type":"image","base64":"!!!"}]}`), epson())
	var rerr *Error
	assert.ErrorAs(t, err, &rerr)
}

func TestRenderRejectsOversizedBarcodeAndFeed(t *testing.T) {
	for _, payload := range []string{
		`{"lines":[{"type":"barcode","value":"12345","height":4000000000}]}`,
		`{"lines":[{"type":"feed","lines":100000000}]}`,
	} {
		_, err := New().Render("receipt", []byte(payload), epson())
		var rerr *Error
		require.ErrorAs(t, err, &rerr, payload)
		assert.ErrorIs(t, err, document.ErrInvalid)
	}
}

func TestBarcodeImageHeightIsClamped(t *testing.T) {
	img, err := barcodeImage("12345", "CODE128", 1<<30, 576)
	require.NoError(t, err)
	assert.Equal(t, document.MaxBarcodeHeight+captionHeight, img.Bounds().Dy())
}

func TestRenderRejectsOversizedImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, maxImageSide+1, 1))))
	b64 := base64.StdEncoding.EncodeToString(buf.Bytes())

	_, err := New().Render("receipt", []byte(`{"lines":[{"type":"image","base64":"`+b64+`"}]}`), epson())
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestRenderOpenDrawerAfterReceipt(t *testing.T) {
	out, err := New().Render("receipt", []byte(`{"lines":["x"],"open_drawer":true}`), epson())
	require.NoError(t, err)
	assert.Greater(t, bytes.Index(out, kickPin2), bytes.Index(out, cutCmd))
}

func TestPadBetween(t *testing.T) {
	assert.Equal(t, "TOTAL     9.50", padBetween("TOTAL", "9.50", 14))
	assert.Equal(t, "a-very-long-label 1.00", padBetween("a-very-long-label", "1.00", 10))
	assert.Len(t, []rune(padBetween("Café", "1.00", 32)), 32)
}

func TestImageToBitmap(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 10, 1))
	for x := 0; x < 10; x++ {
		img.SetGray(x, 0, color.Gray{Y: 255})
	}
	img.SetGray(0, 0, color.Gray{Y: 0})
	img.SetGray(9, 0, color.Gray{Y: 0})

	bm := imageToBitmap(img, 0x8000)
	assert.Equal(t, []byte{0x80, 0x40}, bm)
}

func TestDotsFor(t *testing.T) {
	assert.Equal(t, 384, dotsFor(58))
	assert.Equal(t, 576, dotsFor(80))
	assert.Equal(t, 832, dotsFor(112))
}
