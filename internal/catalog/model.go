package catalog

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Category groups inventory products.
type Category struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Product is a general inventory item identified by a PROD-NNNNN code.
type Product struct {
	ID           int64           `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	CategoryID   int64           `json:"category_id"`
	CategoryName string          `json:"category"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	Stock        int             `json:"stock"`
	MinStock     int             `json:"min_stock"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// LowStock reports whether stock has reached the reorder threshold.
func (p Product) LowStock() bool {
	return p.Stock <= p.MinStock
}

// Available reports whether the product can be offered right now.
func (p Product) Available() bool {
	return p.Active && p.Stock > 0
}

// SolarCategory classifies solar catalog items.
type SolarCategory string

const (
	SolarPanel      SolarCategory = "PANEL"
	SolarInverter   SolarCategory = "INVERTER"
	SolarBattery    SolarCategory = "BATTERY"
	SolarMounting   SolarCategory = "MOUNTING"
	SolarWiring     SolarCategory = "WIRING"
	SolarProtection SolarCategory = "PROTECTION"
	SolarOther      SolarCategory = "OTHER"
)

// Valid reports whether c is a known category.
func (c SolarCategory) Valid() bool {
	switch c {
	case SolarPanel, SolarInverter, SolarBattery, SolarMounting, SolarWiring, SolarProtection, SolarOther:
		return true
	}
	return false
}

// SolarProduct is an item of the public solar catalog offered by the wizard.
type SolarProduct struct {
	ID          int64           `json:"id"`
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	Category    SolarCategory   `json:"category"`
	Description string          `json:"description"`
	Power       string          `json:"power,omitempty"`
	Attributes  json.RawMessage `json:"attributes,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Active      bool            `json:"active"`
	Featured    bool            `json:"featured"`
}

// PaymentMethod is shown to wizard users as an informational option.
type PaymentMethod struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	TransferDetails json.RawMessage `json:"transfer_details,omitempty"`
	Icon            string          `json:"icon,omitempty"`
	SortOrder       int             `json:"sort_order"`
	Visible         bool            `json:"visible"`
}

// ProductFilter narrows inventory listings.
type ProductFilter struct {
	ActiveOnly bool
	CategoryID int64
	Search     string
	Limit      int
	Offset     int
}

// StockAdjustment adds Delta units (possibly negative) to a product.
type StockAdjustment struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Delta     int   `json:"quantity"`
}

// StockChange reports the outcome of one adjustment.
type StockChange struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Previous  int    `json:"previous_stock"`
	Current   int    `json:"new_stock"`
}
