package quotations

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/solarquote/cotizador/internal/platform/httpx"
)

var hundred = decimal.NewFromInt(100)

// LineSubtotal returns round(unitPrice * (1 - discountPercent/100) * qty, 2),
// rounding half away from zero.
func LineSubtotal(unitPrice, discountPercent decimal.Decimal, qty int) decimal.Decimal {
	return unitPrice.
		Mul(hundred.Sub(discountPercent)).
		Mul(decimal.NewFromInt(int64(qty))).
		Div(hundred).
		Round(2)
}

// Totals are the derived monetary fields of a quotation header.
type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	Tax            decimal.Decimal `json:"tax"`
	ManualDiscount decimal.Decimal `json:"manual_discount"`
	Total          decimal.Decimal `json:"total"`
}

// ComputeTotals sums line subtotals and derives tax and total. The manual
// discount is capped at subtotal + tax so the total never goes negative.
func ComputeTotals(lines []Line, taxRate, manualDiscount decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Subtotal)
	}
	subtotal = subtotal.Round(2)
	tax := subtotal.Mul(taxRate).Round(2)

	gross := subtotal.Add(tax)
	discount := manualDiscount.Round(2)
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(gross) {
		discount = gross
	}
	return Totals{
		Subtotal:       subtotal,
		Tax:            tax,
		ManualDiscount: discount,
		Total:          gross.Sub(discount),
	}
}

// Apply copies t onto q.
func (t Totals) Apply(q *Quotation) {
	q.Subtotal = t.Subtotal
	q.Tax = t.Tax
	q.ManualDiscount = t.ManualDiscount
	q.Total = t.Total
}

// LineInput describes a line to be priced against the catalog.
type LineInput struct {
	Catalog         Catalog
	ProductID       int64
	Quantity        int
	UnitPrice       *decimal.Decimal
	DiscountPercent decimal.Decimal
}

func (in LineInput) validate(field string) error {
	fields := httpx.FieldErrors{}
	if in.Catalog != CatalogInventory && in.Catalog != CatalogSolar {
		fields[field+".catalog"] = "must be one of INVENTORY SOLAR"
	}
	if in.ProductID <= 0 {
		fields[field+".product_id"] = "is required"
	}
	if in.Quantity <= 0 {
		fields[field+".quantity"] = "must be greater than 0"
	}
	if in.UnitPrice != nil && in.UnitPrice.IsNegative() {
		fields[field+".unit_price"] = "must be greater than or equal to 0"
	}
	if in.DiscountPercent.IsNegative() || in.DiscountPercent.GreaterThan(hundred) {
		fields[field+".discount_percent"] = "must be between 0 and 100"
	}
	if len(fields) > 0 {
		return fields
	}
	return nil
}

// BuildLine prices in against snap. An explicit unit price overrides the
// catalog price.
func BuildLine(in LineInput, snap ProductSnapshot, order int) Line {
	price := snap.Price
	if in.UnitPrice != nil {
		price = *in.UnitPrice
	}
	price = price.Round(2)
	discount := in.DiscountPercent.Round(2)
	return Line{
		Catalog:            in.Catalog,
		ProductID:          in.ProductID,
		ProductName:        snap.Name,
		ProductSKU:         snap.SKU,
		ProductDescription: snap.Description,
		Quantity:           in.Quantity,
		UnitPrice:          price,
		DiscountPercent:    discount,
		Subtotal:           LineSubtotal(price, discount, in.Quantity),
		LineOrder:          order,
	}
}

func lineField(i int) string {
	return fmt.Sprintf("lines[%d]", i)
}
