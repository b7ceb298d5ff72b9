package quotations

import "github.com/shopspring/decimal"

// LineRequest is one line in a create or add-line payload.
type LineRequest struct {
	Catalog         Catalog          `json:"catalog" validate:"omitempty,oneof=INVENTORY SOLAR"`
	ProductID       int64            `json:"product_id" validate:"required,gt=0"`
	Quantity        int              `json:"quantity" validate:"required,gt=0"`
	UnitPrice       *decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal  `json:"discount_percent"`
}

// Input converts the request, defaulting to the inventory catalog.
func (r LineRequest) Input() LineInput {
	catalog := r.Catalog
	if catalog == "" {
		catalog = CatalogInventory
	}
	return LineInput{
		Catalog:         catalog,
		ProductID:       r.ProductID,
		Quantity:        r.Quantity,
		UnitPrice:       r.UnitPrice,
		DiscountPercent: r.DiscountPercent,
	}
}

// CreateRequest is the intranet payload for a new quotation.
type CreateRequest struct {
	ClientID       int64           `json:"client_id" validate:"required,gt=0"`
	Status         Status          `json:"status" validate:"omitempty,oneof=DRAFT PENDING"`
	Notes          string          `json:"notes" validate:"max=4000"`
	Comments       string          `json:"comments" validate:"max=4000"`
	ManualDiscount decimal.Decimal `json:"manual_discount"`
	Lines          []LineRequest   `json:"lines" validate:"dive"`
}

// UpdateLineRequest changes an existing line. Omitted fields keep their value.
type UpdateLineRequest struct {
	Quantity        *int             `json:"quantity" validate:"omitempty,gt=0"`
	UnitPrice       *decimal.Decimal `json:"unit_price"`
	DiscountPercent *decimal.Decimal `json:"discount_percent"`
}

// StatusRequest asks for a status transition.
type StatusRequest struct {
	Status Status `json:"status" validate:"required"`
}

// DiscountRequest sets the manual discount.
type DiscountRequest struct {
	ManualDiscount decimal.Decimal `json:"manual_discount"`
}

// ListResponse is a page of quotations.
type ListResponse struct {
	Quotations []Quotation `json:"quotations"`
	Page       int         `json:"page"`
	PerPage    int         `json:"per_page"`
	Total      int         `json:"total"`
	TotalPages int         `json:"total_pages"`
}
