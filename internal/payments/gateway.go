package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const maxGatewayResponse = 1 << 20

// ErrGatewayUnavailable indicates the gateway could not be reached or
// answered with something other than a decision.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// GatewayConfig configures the gateway client.
type GatewayConfig struct {
	BaseURL    string
	MerchantID string
	APIKey     string
	SecretKey  string
	Currency   string
	Timeout    time.Duration
}

// Gateway is an HTTP client for the card gateway. Every payload carries a
// signature computed over its sorted-key JSON encoding.
type Gateway struct {
	cfg    GatewayConfig
	client *http.Client
}

// NewGateway constructs a Gateway.
func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "CLP"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Gateway{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// SignPayload returns the lowercase hex HMAC-SHA256 of payload encoded as
// JSON with sorted keys.
func SignPayload(secret string, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// CardData is sent once for tokenization and then discarded.
type CardData struct {
	ClientID int64
	Number   string
	Holder   string
	Expiry   string
	CVV      string
}

// TokenizeResult is the gateway answer to a tokenization request.
type TokenizeResult struct {
	Token string `json:"token"`
	Last4 string `json:"last4"`
	Brand string `json:"brand"`
}

// Tokenize exchanges card data for a reusable token.
func (g *Gateway) Tokenize(ctx context.Context, card CardData) (*TokenizeResult, error) {
	status, raw, err := g.post(ctx, "/tokenize", map[string]any{
		"client_id":   card.ClientID,
		"card_number": card.Number,
		"holder_name": card.Holder,
		"expiry":      card.Expiry,
		"cvv":         card.CVV,
	})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: tokenize returned %d", ErrGatewayUnavailable, status)
	}
	var out TokenizeResult
	if err := json.Unmarshal(raw, &out); err != nil || out.Token == "" {
		return nil, fmt.Errorf("%w: malformed tokenize response", ErrGatewayUnavailable)
	}
	return &out, nil
}

// ChargeRequest charges a token.
type ChargeRequest struct {
	TransactionNumber string
	Token             string
	Amount            decimal.Decimal
	Description       string
}

// ChargeResult is the gateway decision. Raw holds the full response body.
type ChargeResult struct {
	Approved          bool
	AuthorizationCode string
	GatewayID         string
	Message           string
	Raw               json.RawMessage
}

type gatewayChargeResponse struct {
	Status            string `json:"status"`
	AuthorizationCode string `json:"authorization_code"`
	TransactionID     string `json:"transaction_id"`
	Message           string `json:"message"`
}

// Charge submits a one-click charge. A declined charge is a result, not an
// error; transport failures and unreadable answers return
// ErrGatewayUnavailable.
func (g *Gateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	status, raw, err := g.post(ctx, "/charge", map[string]any{
		"transaction_id": req.TransactionNumber,
		"card_token":     req.Token,
		"amount":         json.Number(req.Amount.String()),
		"currency":       g.cfg.Currency,
		"description":    req.Description,
	})
	if err != nil {
		return nil, err
	}
	var decoded gatewayChargeResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: charge returned %d with unreadable body", ErrGatewayUnavailable, status)
	}
	return &ChargeResult{
		Approved:          status == http.StatusOK && strings.EqualFold(decoded.Status, "approved"),
		AuthorizationCode: decoded.AuthorizationCode,
		GatewayID:         decoded.TransactionID,
		Message:           decoded.Message,
		Raw:               raw,
	}, nil
}

// DeleteToken asks the gateway to forget a token.
func (g *Gateway) DeleteToken(ctx context.Context, token string) error {
	status, _, err := g.post(ctx, "/delete-token", map[string]any{"token": token})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: delete-token returned %d", ErrGatewayUnavailable, status)
	}
	return nil
}

func (g *Gateway) post(ctx context.Context, path string, payload map[string]any) (int, json.RawMessage, error) {
	payload["merchant_id"] = g.cfg.MerchantID
	signature, err := SignPayload(g.cfg.SecretKey, payload)
	if err != nil {
		return 0, nil, fmt.Errorf("sign gateway payload: %w", err)
	}
	payload["signature"] = signature
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("encode gateway payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayResponse))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}
	return resp.StatusCode, raw, nil
}
