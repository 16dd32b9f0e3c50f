package render

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/hennedo/escpos"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/thereceipt/posbridge/internal/device"
)

const (
	esc byte = 0x1B
	gs  byte = 0x1D
)

// codePage858 is the ESC t value of PC858 (Latin-1 plus the euro sign).
const codePage858 = 19

// style is the text formatting of one printed line.
type style struct {
	align  string
	bold   bool
	width  uint8
	height uint8
}

var (
	plain    = style{}
	centered = style{align: "center"}
	heading  = style{align: "center", bold: true}
	emphasis = style{bold: true, height: 2}
)

// ticket accumulates the ESC/POS stream of one job.
type ticket struct {
	buf  bytes.Buffer
	p    *escpos.Escpos
	enc  *encoding.Encoder
	cols int
	dots int

	// cutLast is set while the last thing written is a cut.
	cutLast bool
}

func newTicket(caps device.Capabilities) *ticket {
	caps = caps.Normalized()
	t := &ticket{
		cols: caps.Columns,
		dots: dotsFor(caps.PaperWidth),
		enc:  encoding.ReplaceUnsupported(charmap.CodePage858.NewEncoder()),
	}
	t.p = escpos.New(&t.buf)
	t.raw(esc, '@')
	t.raw(esc, 't', codePage858)
	return t
}

// dotsFor returns the printable raster width of a paper width in mm.
func dotsFor(paperWidth int) int {
	switch {
	case paperWidth <= 58:
		return 384
	case paperWidth <= 80:
		return 576
	default:
		return 832
	}
}

func (t *ticket) raw(b ...byte) {
	t.p.WriteRaw(b)
}

func (t *ticket) apply(st style) {
	switch st.align {
	case "center":
		t.p.Justify(escpos.JustifyCenter)
	case "right":
		t.p.Justify(escpos.JustifyRight)
	default:
		t.p.Justify(escpos.JustifyLeft)
	}
	t.p.Bold(st.bold)

	w, h := st.width, st.height
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}
	t.p.Size(w, h)
}

// text prints s followed by a newline.
func (t *ticket) text(s string, st style) {
	t.apply(st)
	encoded, err := t.enc.String(s)
	if err != nil {
		encoded = asciiOnly(s)
	}
	t.p.Write(encoded)
	t.p.LineFeed()
	t.cutLast = false
}

func asciiOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x80 {
			return r
		}
		return '?'
	}, s)
}

// columnsFor returns how many characters fit on a line in st.
func (t *ticket) columnsFor(st style) int {
	if st.width > 1 {
		return t.cols / int(st.width)
	}
	return t.cols
}

// divider prints a full-width rule of ch.
func (t *ticket) divider(ch string) {
	if ch == "" {
		ch = "-"
	}
	n := t.cols / utf8.RuneCountInString(ch)
	t.text(strings.Repeat(ch, n), plain)
}

// pair prints left and right on one line, padded to the column count. At
// least one space separates them.
func (t *ticket) pair(left, right string, st style) {
	t.text(padBetween(left, right, t.columnsFor(st)), st)
}

func padBetween(left, right string, cols int) string {
	gap := cols - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func (t *ticket) feed(lines int) {
	for i := 0; i < lines; i++ {
		t.p.LineFeed()
	}
	t.cutLast = false
}

// cut feeds past the tear bar and performs a full cut (GS V 0).
func (t *ticket) cut() {
	t.feed(4)
	t.raw(gs, 'V', 0)
	t.cutLast = true
}

// kick pulses the cash drawer on pin 2 or pin 5 (ESC p m t1 t2).
func (t *ticket) kick(pin int) {
	m := byte(0)
	if pin == 5 {
		m = 1
	}
	t.raw(esc, 'p', m, 0x19, 0x32)
}

func (t *ticket) bytes() ([]byte, error) {
	t.apply(plain)
	if err := t.p.Print(); err != nil {
		return nil, err
	}
	return t.buf.Bytes(), nil
}
