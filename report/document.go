package report

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/solarquote/cotizador/internal/clients"
	"github.com/solarquote/cotizador/internal/quotations"
)

// Placeholder is printed for fields without a value.
const Placeholder = "N/A"

const dateLayout = "02/01/2006"

// QuotationDocument is the view model rendered into the quotation PDF. Every
// field is already formatted for display.
type QuotationDocument struct {
	Company     string
	Number      string
	Status      string
	IssuedOn    string
	ValidUntil  string
	ClientName  string
	ClientTaxID string
	ClientEmail string
	ClientPhone string
	Address     string
	Region      string
	Lines       []DocumentLine
	Subtotal    string
	TaxLabel    string
	Tax         string
	Discount    string
	HasDiscount bool
	Total       string
	Notes       string
	Comments    string
	GeneratedAt string
}

// DocumentLine is one formatted quotation line.
type DocumentLine struct {
	Product   string
	SKU       string
	Quantity  string
	UnitPrice string
	Discount  string
	Subtotal  string
}

// DocumentOptions controls formatting of a QuotationDocument.
type DocumentOptions struct {
	Company     string
	TaxRate     decimal.Decimal
	GeneratedAt time.Time
	Location    *time.Location
}

// BuildQuotationDocument formats q for rendering. client may be nil, in which
// case the denormalised client name on q is used and contact fields show the
// placeholder.
func BuildQuotationDocument(q *quotations.Quotation, client *clients.Client, opts DocumentOptions) QuotationDocument {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	p := message.NewPrinter(language.Spanish)

	doc := QuotationDocument{
		Company:     orPlaceholder(opts.Company),
		Number:      q.Number,
		Status:      string(q.Status),
		IssuedOn:    formatDate(q.CreatedAt, loc),
		ValidUntil:  Placeholder,
		ClientName:  orPlaceholder(q.ClientName),
		ClientTaxID: Placeholder,
		ClientEmail: Placeholder,
		ClientPhone: Placeholder,
		Address:     Placeholder,
		Region:      Placeholder,
		Subtotal:    formatCLP(p, q.Subtotal),
		TaxLabel:    "IVA (" + opts.TaxRate.Mul(decimal.NewFromInt(100)).String() + "%)",
		Tax:         formatCLP(p, q.Tax),
		Discount:    formatCLP(p, q.ManualDiscount),
		HasDiscount: q.ManualDiscount.IsPositive(),
		Total:       formatCLP(p, q.Total),
		Notes:       strings.TrimSpace(q.Notes),
		Comments:    strings.TrimSpace(q.Comments),
		GeneratedAt: opts.GeneratedAt.In(loc).Format("02/01/2006 15:04"),
	}
	if q.ValidUntil != nil {
		doc.ValidUntil = formatDate(*q.ValidUntil, loc)
	}
	if client != nil {
		doc.ClientName = orPlaceholder(client.FullName())
		doc.ClientTaxID = orPlaceholder(client.TaxID)
		doc.ClientEmail = orPlaceholder(client.Email)
		doc.ClientPhone = orPlaceholder(client.Phone)
		doc.Address = orPlaceholder(client.Address)
		doc.Region = orPlaceholder(client.Region)
	}
	for _, l := range q.Lines {
		doc.Lines = append(doc.Lines, DocumentLine{
			Product:   orPlaceholder(l.ProductName),
			SKU:       orPlaceholder(l.ProductSKU),
			Quantity:  p.Sprintf("%d", l.Quantity),
			UnitPrice: formatCLP(p, l.UnitPrice),
			Discount:  l.DiscountPercent.String() + "%",
			Subtotal:  formatCLP(p, l.Subtotal),
		})
	}
	return doc
}

// formatCLP renders an amount in whole pesos with Spanish digit grouping.
func formatCLP(p *message.Printer, amount decimal.Decimal) string {
	rounded := amount.Round(0)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Neg()
	}
	return sign + "$" + p.Sprintf("%d", rounded.IntPart())
}

func formatDate(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return Placeholder
	}
	return t.In(loc).Format(dateLayout)
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return Placeholder
	}
	return s
}
