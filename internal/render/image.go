package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
)

// rasterBand is the row count of one GS v 0 command. Some firmwares reject
// taller blocks.
const rasterBand = 256

// Images are checked against these bounds before their pixels are decoded.
const (
	maxImageSide   = 8192
	maxImagePixels = 8 << 20
)

// decodeImage decodes base64 image data, accepting a data: URL prefix.
func decodeImage(b64 string) (image.Image, error) {
	if i := strings.Index(b64, ","); strings.HasPrefix(b64, "data:") && i >= 0 {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("bad base64 image: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("bad image data: %w", err)
	}
	if cfg.Width > maxImageSide || cfg.Height > maxImageSide || cfg.Width*cfg.Height > maxImagePixels {
		return nil, fmt.Errorf("image %dx%d exceeds %d pixels or %d per side", cfg.Width, cfg.Height, maxImagePixels, maxImageSide)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("bad image data: %w", err)
	}
	return img, nil
}

// fitWidth scales img down to at most maxDots wide and converts it to
// grayscale. Images are never scaled up.
func fitWidth(img image.Image, maxDots int) image.Image {
	if img.Bounds().Dx() > maxDots {
		img = imaging.Resize(img, maxDots, 0, imaging.Lanczos)
	}
	return imaging.Grayscale(img)
}

// image prints img centred, thresholded at threshold (0 means 128).
func (t *ticket) image(img image.Image, threshold int) {
	if threshold <= 0 || threshold > 255 {
		threshold = 128
	}
	img = fitWidth(img, t.dots)

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return
	}
	bitmap := imageToBitmap(img, uint32(threshold)<<8)
	bytesPerLine := (width + 7) / 8

	t.apply(centered)
	for y := 0; y < height; y += rasterBand {
		rows := height - y
		if rows > rasterBand {
			rows = rasterBand
		}
		// GS v 0 m xL xH yL yH d1...dk
		t.raw(gs, 'v', '0', 0,
			byte(bytesPerLine&0xFF), byte(bytesPerLine>>8),
			byte(rows&0xFF), byte(rows>>8))
		t.raw(bitmap[y*bytesPerLine : (y+rows)*bytesPerLine]...)
	}
	t.p.LineFeed()
	t.cutLast = false
}

// imageToBitmap converts img to a 1-bit row-major bitmap, MSB first. Pixels
// darker than threshold (0-65535) are black.
func imageToBitmap(img image.Image, threshold uint32) []byte {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	bytesPerLine := (width + 7) / 8
	bitmap := make([]byte, bytesPerLine*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, a := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			if a < 0x8000 {
				continue
			}
			if (r+g+b)/3 < threshold {
				bitmap[y*bytesPerLine+x/8] |= 1 << (7 - x%8)
			}
		}
	}
	return bitmap
}
