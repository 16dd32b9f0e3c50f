// Package document defines the JSON payloads a client sends with a print
// command.
package document

// Document types understood by the renderer. Unknown types fall back to
// TypeGeneric.
const (
	TypeReceipt           = "receipt"
	TypeKitchenOrder      = "kitchen_order"
	TypeInvoice           = "invoice"
	TypeDeliveryNote      = "delivery_note"
	TypeBarcodeLabel      = "barcode_label"
	TypeCashSessionReport = "cash_session_report"
	TypeGeneric           = "generic"
	TypeDrawer            = "drawer"
	TypeTest              = "test"
)

// Document is the union of the fields every template reads. A document with
// Lines prints them after the template's own sections, so a bare
// {"lines": [...]} is a complete receipt.
type Document struct {
	Title string `json:"title,omitempty"`

	BusinessName    string `json:"business_name,omitempty"`
	BusinessAddress string `json:"business_address,omitempty"`
	VATNumber       string `json:"vat_number,omitempty"`
	Phone           string `json:"phone,omitempty"`
	ReceiptHeader   string `json:"receipt_header,omitempty"`
	ReceiptFooter   string `json:"receipt_footer,omitempty"`

	ReceiptID    string `json:"receipt_id,omitempty"`
	OrderNumber  string `json:"order_number,omitempty"`
	Cashier      string `json:"cashier,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`

	// Kitchen order
	Table    string `json:"table,omitempty"`
	Waiter   string `json:"waiter,omitempty"`
	Priority string `json:"priority,omitempty"`

	DeliveryAddress string `json:"delivery_address,omitempty"`

	Items []Item `json:"items,omitempty"`

	Subtotal      *Number `json:"subtotal,omitempty"`
	TaxAmount     *Number `json:"tax_amount,omitempty"`
	TaxLabel      string  `json:"tax_label,omitempty"`
	Discount      *Number `json:"discount,omitempty"`
	Total         *Number `json:"total,omitempty"`
	PaymentMethod string  `json:"payment_method,omitempty"`
	Paid          *Number `json:"paid,omitempty"`
	Change        *Number `json:"change,omitempty"`

	// Barcode label
	ProductName string  `json:"product_name,omitempty"`
	Barcode     string  `json:"barcode,omitempty"`
	BarcodeType string  `json:"barcode_type,omitempty"`
	Price       *Number `json:"price,omitempty"`

	// Cash session report
	OpeningBalance *Number       `json:"opening_balance,omitempty"`
	ClosingBalance *Number       `json:"closing_balance,omitempty"`
	Transactions   []Transaction `json:"transactions,omitempty"`

	Lines []Line `json:"lines,omitempty"`

	// Cut overrides the device default; an explicit true on a printer
	// without a cutter is an error.
	Cut *bool `json:"cut,omitempty"`
	// OpenDrawer kicks the cash drawer after printing.
	OpenDrawer *bool `json:"open_drawer,omitempty"`
	// Pin selects the drawer connector, 2 (default) or 5.
	Pin int `json:"pin,omitempty"`

	// Fields holds every top-level field in payload order, for the generic
	// template.
	Fields []Field `json:"-"`
}

// Item is one sold line.
type Item struct {
	Name     string  `json:"name"`
	Quantity Number  `json:"quantity,omitempty"`
	Price    *Number `json:"price,omitempty"`
	Total    *Number `json:"total,omitempty"`
	Notes    string  `json:"notes,omitempty"`
}

// Qty returns the quantity, defaulting to 1.
func (i Item) Qty() Number {
	if i.Quantity == 0 {
		return 1
	}
	return i.Quantity
}

// LineTotal returns Total, or Price times quantity, or 0.
func (i Item) LineTotal() Number {
	switch {
	case i.Total != nil:
		return *i.Total
	case i.Price != nil:
		return *i.Price * i.Qty()
	}
	return 0
}

// Transaction is one movement in a cash session report.
type Transaction struct {
	Label  string `json:"label,omitempty"`
	Type   string `json:"type,omitempty"`
	Amount Number `json:"amount"`
}

// Name returns Label, falling back to Type.
func (t Transaction) Name() string {
	if t.Label != "" {
		return t.Label
	}
	return t.Type
}

// Field is a top-level payload field rendered as text.
type Field struct {
	Key   string
	Value string
}

// Line types.
const (
	LineText    = "text"
	LineTotal   = "total"
	LineDivider = "divider"
	LineFeed    = "feed"
	LineBarcode = "barcode"
	LineQR      = "qr"
	LineImage   = "image"
	LineLogo    = "logo"
	LineCut     = "cut"
)

// Line is one entry of a free-form document. A JSON string is shorthand for
// a left-aligned text line.
type Line struct {
	Type   string `json:"type,omitempty"`
	Text   string `json:"text,omitempty"`
	Align  string `json:"align,omitempty"`
	Bold   bool   `json:"bold,omitempty"`
	Size   int    `json:"size,omitempty"`
	Invert bool   `json:"invert,omitempty"`

	// Total lines
	Label  string  `json:"label,omitempty"`
	Amount *Number `json:"amount,omitempty"`

	// Barcode and QR lines
	Value  string `json:"value,omitempty"`
	Format string `json:"format,omitempty"`
	Height int    `json:"height,omitempty"`

	// Image and logo lines
	Base64    string `json:"base64,omitempty"`
	Threshold int    `json:"threshold,omitempty"`

	// Divider and feed lines
	Char  string `json:"char,omitempty"`
	Count int    `json:"lines,omitempty"`
}

// Kind returns the line type, defaulting to text.
func (l Line) Kind() string {
	if l.Type == "" {
		return LineText
	}
	return l.Type
}

// controlFields are payload keys that steer printing rather than carry
// content.
var controlFields = map[string]bool{
	"lines":       true,
	"cut":         true,
	"open_drawer": true,
	"pin":         true,
}

// LinesOnly reports whether the payload carries nothing but lines and print
// controls, in which case templates print the lines alone.
func (d *Document) LinesOnly() bool {
	for _, f := range d.Fields {
		if !controlFields[f.Key] {
			return false
		}
	}
	return true
}

// IsControlField reports whether key steers printing rather than carrying
// content.
func IsControlField(key string) bool {
	return controlFields[key]
}
