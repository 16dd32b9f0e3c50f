package scanner

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Barcode is a flushed scan with a best-effort symbology guess.
type Barcode struct {
	Value string
	Type  string
}

// Decoder accumulates keystrokes into a barcode value. A terminator flushes
// the buffer; the buffer never carries characters across a flush.
type Decoder struct {
	buf    []rune
	last   time.Time
	gap    time.Duration
	minLen int
	now    func() time.Time
}

// NewDecoder returns a decoder. A keystroke arriving more than gap after the
// previous one starts a new value (gap 0 disables this); flushed values
// shorter than minLen are dropped.
func NewDecoder(gap time.Duration, minLen int) *Decoder {
	if minLen < 1 {
		minLen = 1
	}
	return &Decoder{gap: gap, minLen: minLen, now: time.Now}
}

// Feed consumes one report and returns a barcode when it completes one.
func (d *Decoder) Feed(r Report) (Barcode, bool) {
	now := d.now()
	if d.gap > 0 && len(d.buf) > 0 && now.Sub(d.last) > d.gap {
		d.buf = d.buf[:0]
	}

	if r.Terminator {
		value := string(d.buf)
		d.Reset()
		if utf8.RuneCountInString(value) < d.minLen {
			return Barcode{}, false
		}
		return Barcode{Value: value, Type: GuessSymbology(value)}, true
	}

	if r.Rune == 0 {
		return Barcode{}, false
	}

	d.buf = append(d.buf, r.Rune)
	d.last = now
	return Barcode{}, false
}

// Reset empties the buffer.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.last = time.Time{}
}

func (d *Decoder) pending() int {
	return len(d.buf)
}

const code39Charset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ -.$/+%"

// GuessSymbology infers a symbology from the value's length and charset,
// ignoring letter case. It is a heuristic: a 13-digit CODE128 value is
// reported as EAN13.
func GuessSymbology(value string) string {
	if value != "" && isDigits(value) {
		switch len(value) {
		case 13:
			return "EAN13"
		case 8:
			return "EAN8"
		case 12:
			return "UPC-A"
		case 14:
			return "GTIN-14"
		}
	}
	if value != "" && len(value) <= 43 && inCharset(strings.ToUpper(value), code39Charset) {
		return "CODE39"
	}
	return "CODE128"
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func inCharset(s, charset string) bool {
	for _, r := range s {
		found := false
		for _, c := range charset {
			if r == c {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
