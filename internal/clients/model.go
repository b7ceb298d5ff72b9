package clients

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client holds contact data for a quotation recipient. TaxID, when present,
// is a normalised Chilean RUT and uniquely identifies the client.
type Client struct {
	ID        int64     `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	TaxID     string    `json:"tax_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone"`
	Region    string    `json:"region"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FullName joins first and last name.
func (c Client) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// RoofType enumerates supported roof constructions.
type RoofType string

const (
	RoofSheet       RoofType = "SHEET"
	RoofTile        RoofType = "TILE"
	RoofSlab        RoofType = "SLAB"
	RoofFiberCement RoofType = "FIBER_CEMENT"
	RoofMetal       RoofType = "METAL"
	RoofOther       RoofType = "OTHER"
)

// Orientation enumerates roof orientations.
type Orientation string

const (
	North     Orientation = "N"
	South     Orientation = "S"
	East      Orientation = "E"
	West      Orientation = "W"
	NorthEast Orientation = "NE"
	NorthWest Orientation = "NW"
	SouthEast Orientation = "SE"
	SouthWest Orientation = "SW"
)

// TechnicalData describes the installation site of a client. There is at
// most one record per client.
type TechnicalData struct {
	ID                int64               `json:"id"`
	ClientID          int64               `json:"client_id"`
	RoofType          RoofType            `json:"roof_type"`
	Orientation       Orientation         `json:"orientation"`
	SurfaceM2         decimal.NullDecimal `json:"surface_m2"`
	TargetPowerKW     decimal.NullDecimal `json:"target_power_kw"`
	AvgConsumptionKWh decimal.NullDecimal `json:"avg_consumption_kwh"`
	Notes             string              `json:"notes"`
	Attachments       []Attachment        `json:"attachments,omitempty"`
}

// Attachment references an uploaded electricity bill.
type Attachment struct {
	ID              int64     `json:"id"`
	TechnicalDataID int64     `json:"technical_data_id"`
	StoredPath      string    `json:"stored_path"`
	OriginalName    string    `json:"original_name"`
	SizeBytes       int64     `json:"size_bytes"`
	MimeType        string    `json:"mime_type"`
	CreatedAt       time.Time `json:"created_at"`
}

// ListFilter narrows client listings.
type ListFilter struct {
	Search string
	Limit  int
	Offset int
}
