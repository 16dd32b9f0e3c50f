package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/thereceipt/posbridge/internal/device"
	"github.com/thereceipt/posbridge/internal/document"
)

const dateTimeLayout = "02/01/2006 15:04"

func (r *Renderer) receipt(t *ticket, d *document.Document, title string) {
	if title != "" {
		t.text(title, heading)
	}
	if d.BusinessName != "" {
		t.text(d.BusinessName, heading)
	}
	if d.BusinessAddress != "" {
		t.text(d.BusinessAddress, centered)
	}
	if d.VATNumber != "" {
		t.text("VAT no: "+d.VATNumber, centered)
	}
	if d.Phone != "" {
		t.text("Tel: "+d.Phone, centered)
	}
	if d.ReceiptHeader != "" {
		t.text(d.ReceiptHeader, centered)
	}
	t.divider("=")

	if d.ReceiptID != "" {
		t.text("No: "+d.ReceiptID, plain)
	}
	t.text("Date: "+r.now().Format(dateTimeLayout), plain)
	if d.Cashier != "" {
		t.text("Cashier: "+d.Cashier, plain)
	}
	if d.CustomerName != "" {
		t.text("Customer: "+d.CustomerName, plain)
	}
	t.divider("-")

	for _, item := range d.Items {
		t.pair(fmt.Sprintf("%sx %s", item.Qty(), item.Name), item.LineTotal().Money(), plain)
		if item.Notes != "" {
			t.text("  > "+item.Notes, plain)
		}
	}
	t.divider("-")

	if d.Subtotal != nil {
		t.pair("Subtotal", d.Subtotal.Money(), plain)
	}
	if d.TaxAmount != nil {
		label := d.TaxLabel
		if label == "" {
			label = "VAT"
		}
		t.pair(label, d.TaxAmount.Money(), plain)
	}
	if d.Discount != nil && *d.Discount > 0 {
		t.pair("Discount", (-*d.Discount).Money(), plain)
	}

	t.divider("=")
	var total document.Number
	if d.Total != nil {
		total = *d.Total
	}
	t.pair("TOTAL", total.Money(), emphasis)
	t.divider("=")

	if d.PaymentMethod != "" {
		t.text("Payment: "+d.PaymentMethod, plain)
	}
	if d.Paid != nil {
		t.pair("Paid", d.Paid.Money(), plain)
	}
	if d.Change != nil && *d.Change > 0 {
		t.pair("Change", d.Change.Money(), plain)
	}

	t.feed(1)
	if d.ReceiptFooter != "" {
		t.text(d.ReceiptFooter, centered)
	}
	t.text("Thank you for your purchase", centered)
}

func (r *Renderer) kitchenOrder(t *ticket, d *document.Document) {
	t.text("KITCHEN", style{align: "center", bold: true, width: 2, height: 2})

	number := d.ReceiptID
	if number == "" {
		number = d.OrderNumber
	}
	t.text("#"+number, style{align: "center", bold: true, height: 2})
	t.divider("=")

	if d.Table != "" {
		t.text("Table: "+d.Table, emphasis)
	}
	if d.Waiter != "" {
		t.text("Waiter: "+d.Waiter, plain)
	}
	t.text("Time: "+r.now().Format("15:04"), plain)
	t.divider("-")

	for _, item := range d.Items {
		t.text(fmt.Sprintf("%sx %s", item.Qty(), item.Name), emphasis)
		if item.Notes != "" {
			t.text("   >> "+item.Notes, plain)
		}
	}
	t.divider("=")

	if strings.EqualFold(d.Priority, "HIGH") {
		t.text("!! URGENT !!", style{align: "center", bold: true, height: 2})
	}
}

func (r *Renderer) deliveryNote(t *ticket, d *document.Document) {
	t.text("DELIVERY NOTE", heading)
	t.divider("=")

	t.text("No: "+d.ReceiptID, plain)
	t.text("Date: "+r.now().Format(dateTimeLayout), plain)
	if d.CustomerName != "" {
		t.text("Customer: "+d.CustomerName, plain)
	}
	if d.DeliveryAddress != "" {
		t.text("Address: "+d.DeliveryAddress, plain)
	}
	t.divider("-")

	for _, item := range d.Items {
		t.text(fmt.Sprintf("%sx %s", item.Qty(), item.Name), plain)
	}
	t.divider("=")
	t.feed(1)
	t.text("Signature: _______________", plain)
	t.feed(1)
}

func (r *Renderer) barcodeLabel(t *ticket, d *document.Document) {
	if d.ProductName != "" {
		t.text(d.ProductName, heading)
	}
	if d.Barcode != "" {
		format := d.BarcodeType
		if format == "" {
			format = labelSymbology(d.Barcode)
		}
		t.barcode(d.Barcode, format, 0)
	}
	if d.Price != nil {
		t.text(d.Price.Money(), style{align: "center", bold: true, height: 2})
	}
}

// labelSymbology picks EAN for retail-length digit strings and CODE128 for
// everything else.
func labelSymbology(value string) string {
	for _, c := range value {
		if c < '0' || c > '9' {
			return "CODE128"
		}
	}
	switch len(value) {
	case 7, 8:
		return "EAN8"
	case 12, 13:
		return "EAN13"
	}
	return "CODE128"
}

func (r *Renderer) cashReport(t *ticket, d *document.Document) {
	t.text("CASH SESSION REPORT", heading)
	t.divider("=")

	t.text("Session: "+d.ReceiptID, plain)
	t.text("Date: "+r.now().Format(dateTimeLayout), plain)
	if d.Cashier != "" {
		t.text("Cashier: "+d.Cashier, plain)
	}
	t.divider("-")

	var opening, closing document.Number
	if d.OpeningBalance != nil {
		opening = *d.OpeningBalance
	}
	if d.ClosingBalance != nil {
		closing = *d.ClosingBalance
	}
	t.pair("Opening", opening.Money(), plain)
	t.pair("Closing", closing.Money(), plain)
	t.pair("Difference", (closing - opening).Money(), plain)
	t.divider("-")

	for _, tx := range d.Transactions {
		t.pair(tx.Name(), tx.Amount.Money(), plain)
	}
	t.divider("=")
}

func (r *Renderer) generic(t *ticket, d *document.Document) {
	title := d.Title
	if title == "" {
		title = "Document"
	}
	t.text(title, heading)
	t.divider("=")

	for _, f := range d.Fields {
		if f.Key == "title" || f.Key == "receipt_id" || document.IsControlField(f.Key) {
			continue
		}
		t.text(f.Key+": "+f.Value, plain)
	}
	t.divider("=")
}

func (r *Renderer) testPage(t *ticket, dev device.LogicalDevice) {
	caps := dev.Capabilities.Normalized()

	t.divider("=")
	t.text("POS Bridge", style{align: "center", bold: true, height: 2})
	t.divider("-")
	t.text("Test Print OK", centered)
	t.text(r.now().Format("2006-01-02 15:04:05"), centered)
	t.divider("-")
	t.text("Printer: "+dev.Name(), plain)
	t.text("ID: "+dev.ID, plain)
	t.text(fmt.Sprintf("Paper: %dmm, %d columns", caps.PaperWidth, caps.Columns), plain)
	t.text("Charset: áéíóú ñ ç ü €", plain)
	t.divider("=")
}

// lines prints free-form lines. Capability conflicts fail the whole job
// before any byte is sent.
func (r *Renderer) lines(t *ticket, lines []document.Line, caps device.Capabilities) error {
	for i, l := range lines {
		if err := r.line(t, l, caps); err != nil {
			return fmt.Errorf("lines[%d]: %w", i, err)
		}
	}
	return nil
}

func (r *Renderer) line(t *ticket, l document.Line, caps device.Capabilities) error {
	st := style{align: l.Align, bold: l.Bold}
	if l.Size > 1 {
		st.width, st.height = uint8(l.Size), uint8(l.Size)
	}

	switch l.Kind() {
	case document.LineText:
		if l.Invert {
			t.raw(gs, 'B', 1)
			defer t.raw(gs, 'B', 0)
		}
		t.text(l.Text, st)

	case document.LineTotal:
		label := l.Label
		if label == "" {
			label = l.Text
		}
		t.pair(label, l.Amount.Money(), st)

	case document.LineDivider:
		t.divider(l.Char)

	case document.LineFeed:
		n := l.Count
		if n == 0 {
			n = 1
		}
		t.feed(n)

	case document.LineBarcode:
		t.barcode(l.Value, l.Format, l.Height)

	case document.LineQR:
		return t.qr(l.Value)

	case document.LineImage, document.LineLogo:
		img, err := decodeImage(l.Base64)
		if err != nil {
			return err
		}
		if l.Kind() == document.LineLogo {
			img = fitWidth(img, t.dots/2)
		}
		t.image(img, l.Threshold)

	case document.LineCut:
		if !caps.CanCut() {
			return fmt.Errorf("printer has no cutter")
		}
		t.cut()
	}
	return nil
}

func (r *Renderer) now() time.Time {
	if r.clock != nil {
		return r.clock()
	}
	return time.Now()
}
