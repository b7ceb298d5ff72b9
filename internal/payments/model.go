// Package payments charges saved card tokens through the external gateway
// and records every attempt as a transaction.
package payments

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusApproved   Status = "APPROVED"
	StatusRejected   Status = "REJECTED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunded   Status = "REFUNDED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusApproved, StatusRejected, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Method identifies how a transaction was paid.
type Method string

const (
	MethodOneClick Method = "ONECLICK"
	MethodWebpay   Method = "WEBPAY"
	MethodTransfer Method = "TRANSFER"
	MethodCash     Method = "CASH"
)

// Card is a gateway token saved for one-click charges. Raw card data is
// never stored.
type Card struct {
	ID         int64     `json:"id"`
	ClientID   int64     `json:"client_id"`
	Token      string    `json:"-"`
	Last4      string    `json:"last4"`
	Brand      string    `json:"brand"`
	HolderName string    `json:"holder_name"`
	Expiry     string    `json:"expiry"`
	IsDefault  bool      `json:"is_default"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Transaction is one payment attempt against a quotation.
type Transaction struct {
	ID                int64           `json:"id"`
	Number            string          `json:"number"`
	QuotationID       int64           `json:"quotation_id"`
	CardID            *int64          `json:"card_id,omitempty"`
	Method            Method          `json:"method"`
	Amount            decimal.Decimal `json:"amount"`
	Status            Status          `json:"status"`
	AuthorizationCode string          `json:"authorization_code,omitempty"`
	GatewayID         string          `json:"gateway_id,omitempty"`
	GatewayResponse   json.RawMessage `json:"gateway_response,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	IdempotencyKey    string          `json:"-"`
	ClientIP          string          `json:"-"`
	CreatedAt         time.Time       `json:"created_at"`
	ProcessedAt       *time.Time      `json:"processed_at,omitempty"`
}

// ChargeTarget is the quotation data needed to charge it.
type ChargeTarget struct {
	ID               int64
	Number           string
	ClientID         int64
	Total            decimal.Decimal
	PaymentProcessed bool
}

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	QuotationID int64
	Status      Status
	Limit       int
	Offset      int
}
