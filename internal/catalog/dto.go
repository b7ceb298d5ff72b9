package catalog

import "github.com/shopspring/decimal"

// ProductRequest is the payload for creating or updating inventory products.
type ProductRequest struct {
	Name        string          `json:"name" validate:"required,max=200"`
	CategoryID  int64           `json:"category_id" validate:"required,gt=0"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock" validate:"gte=0"`
	MinStock    *int            `json:"min_stock" validate:"omitempty,gte=0"`
	Active      *bool           `json:"active"`
}

// StockAdjustRequest carries a batch of stock adjustments.
type StockAdjustRequest struct {
	Adjustments []StockAdjustment `json:"adjustments" validate:"required,min=1,dive"`
}

// ProductView decorates a product with derived flags.
type ProductView struct {
	Product
	Available bool `json:"available"`
	LowStock  bool `json:"low_stock"`
}

// NewProductView builds a ProductView.
func NewProductView(p Product) ProductView {
	return ProductView{Product: p, Available: p.Available(), LowStock: p.LowStock()}
}
