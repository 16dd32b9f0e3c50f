// Package render turns a document type and JSON payload into the ESC/POS
// byte stream for one printer.
package render

import (
	"errors"
	"fmt"
	"time"

	"github.com/thereceipt/posbridge/internal/device"
	"github.com/thereceipt/posbridge/internal/document"
)

// Error is a document that cannot be printed on the target device. No bytes
// are sent for it.
type Error struct {
	DocumentType string
	Err          error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cannot render %s: %v", e.DocumentType, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Renderer renders documents. The zero value is ready to use.
type Renderer struct {
	clock func() time.Time
}

// New returns a renderer on the wall clock.
func New() *Renderer {
	return &Renderer{}
}

// WithClock returns a renderer that stamps documents with clock.
func WithClock(clock func() time.Time) *Renderer {
	return &Renderer{clock: clock}
}

// Render builds the bytes for docType on dev. An empty docType is a receipt
// and an unknown one prints as a generic document.
func (r *Renderer) Render(docType string, payload []byte, dev device.LogicalDevice) ([]byte, error) {
	if docType == "" {
		docType = document.TypeReceipt
	}
	fail := func(err error) ([]byte, error) {
		return nil, &Error{DocumentType: docType, Err: err}
	}

	doc, err := document.Parse(payload)
	if err != nil {
		return fail(err)
	}
	if err := document.Validate(docType, doc); err != nil {
		return fail(err)
	}

	caps := dev.Capabilities.Normalized()
	t := newTicket(caps)

	if docType == document.TypeDrawer {
		if !caps.CanKick() {
			return fail(errors.New("printer has no drawer kick connector"))
		}
		t.kick(doc.Pin)
		return t.bytes()
	}

	if !(len(doc.Lines) > 0 && doc.LinesOnly()) {
		switch docType {
		case document.TypeReceipt:
			r.receipt(t, doc, "")
		case document.TypeInvoice:
			r.receipt(t, doc, "INVOICE")
		case document.TypeKitchenOrder:
			r.kitchenOrder(t, doc)
		case document.TypeDeliveryNote:
			r.deliveryNote(t, doc)
		case document.TypeBarcodeLabel:
			r.barcodeLabel(t, doc)
		case document.TypeCashSessionReport:
			r.cashReport(t, doc)
		case document.TypeTest:
			r.testPage(t, dev)
		default:
			r.generic(t, doc)
		}
	}

	if err := r.lines(t, doc.Lines, caps); err != nil {
		return fail(err)
	}

	switch {
	case doc.Cut != nil && *doc.Cut && !caps.CanCut():
		return fail(errors.New("cut requested but printer has no cutter"))
	case doc.Cut != nil && !*doc.Cut:
		t.feed(4)
	case caps.CanCut():
		if !t.cutLast {
			t.cut()
		}
	default:
		t.feed(4)
	}

	if doc.OpenDrawer != nil && *doc.OpenDrawer {
		if !caps.CanKick() {
			return fail(errors.New("drawer kick requested but printer has no drawer connector"))
		}
		t.kick(doc.Pin)
	}

	return t.bytes()
}
