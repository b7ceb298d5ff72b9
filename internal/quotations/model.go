package quotations

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a quotation.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusPending  Status = "PENDING"
	StatusSent     Status = "SENT"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusSent, StatusApproved, StatusRejected:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusDraft:    {StatusPending, StatusSent, StatusRejected},
	StatusPending:  {StatusSent, StatusApproved, StatusRejected},
	StatusSent:     {StatusApproved, StatusRejected},
	StatusRejected: {StatusPending},
}

// CanTransition reports whether a quotation in status from may move to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Source records where a quotation was created.
type Source string

const (
	SourceIntranet Source = "INTRANET"
	SourceWizard   Source = "WIZARD"
	SourceAPI      Source = "API"
)

// Catalog selects the product table a line refers to.
type Catalog string

const (
	CatalogInventory Catalog = "INVENTORY"
	CatalogSolar     Catalog = "SOLAR"
)

// Quotation is a priced offer to a client. Subtotal, Tax and Total are
// always derived from Lines and ManualDiscount.
type Quotation struct {
	ID                int64           `json:"id"`
	Number            string          `json:"number"`
	UUID              string          `json:"uuid"`
	ClientID          int64           `json:"client_id"`
	ClientName        string          `json:"client_name"`
	Source            Source          `json:"source"`
	Status            Status          `json:"status"`
	ValidUntil        *time.Time      `json:"valid_until,omitempty"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Tax               decimal.Decimal `json:"tax"`
	ManualDiscount    decimal.Decimal `json:"manual_discount"`
	Total             decimal.Decimal `json:"total"`
	Notes             string          `json:"notes"`
	Comments          string          `json:"comments"`
	TechnicalSnapshot json.RawMessage `json:"technical_snapshot,omitempty"`
	PaymentProcessed  bool            `json:"payment_processed"`
	PaymentMethod     string          `json:"payment_method,omitempty"`
	PDFPath           string          `json:"pdf_path,omitempty"`
	PDFGeneratedAt    *time.Time      `json:"pdf_generated_at,omitempty"`
	SentAt            *time.Time      `json:"sent_at,omitempty"`
	ClientIP          string          `json:"-"`
	UserAgent         string          `json:"-"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Lines             []Line          `json:"lines"`
}

// Editable reports whether lines and discounts may still change.
func (q Quotation) Editable() bool {
	return q.Status != StatusApproved && !q.PaymentProcessed
}

// Line is one product entry. Product name, sku and description are copied at
// the time the line is written so later catalog edits do not alter it.
type Line struct {
	ID                 int64           `json:"id"`
	QuotationID        int64           `json:"quotation_id"`
	Catalog            Catalog         `json:"catalog"`
	ProductID          int64           `json:"product_id"`
	ProductName        string          `json:"product_name"`
	ProductSKU         string          `json:"product_sku"`
	ProductDescription string          `json:"product_description"`
	Quantity           int             `json:"quantity"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	DiscountPercent    decimal.Decimal `json:"discount_percent"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	LineOrder          int             `json:"line_order"`
}

// ProductSnapshot is the catalog data copied onto a line.
type ProductSnapshot struct {
	Name        string
	SKU         string
	Description string
	Price       decimal.Decimal
	Active      bool
}

// ListFilter narrows quotation listings.
type ListFilter struct {
	Status   Status
	ClientID int64
	Search   string
	Limit    int
	Offset   int
}
