package payments

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/solarquote/cotizador/internal/platform/httpx"
	"github.com/solarquote/cotizador/internal/shared"
)

// IdempotencyHeader optionally deduplicates charge submissions.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes card and charge endpoints on the intranet.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/cards", h.registerCard)
	r.Get("/clients/{clientID}/cards", h.listCards)
	r.Post("/clients/{clientID}/cards/{cardID}/default", h.setDefault)
	r.Delete("/clients/{clientID}/cards/{cardID}", h.deleteCard)
	r.Post("/quotations/{id}/charge", h.charge)
	r.Get("/transactions", h.listTransactions)
	r.Get("/transactions/{id}", h.getTransaction)
}

func (h *Handler) registerCard(w http.ResponseWriter, r *http.Request) {
	var in RegisterCardInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	card, err := h.service.RegisterCard(r.Context(), in)
	if err != nil {
		h.fail(w, "register card", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, card)
}

func (h *Handler) listCards(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathID(w, r, "clientID")
	if !ok {
		return
	}
	cards, err := h.service.ListCards(r.Context(), clientID)
	if err != nil {
		h.fail(w, "list cards", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cards": cards})
}

func (h *Handler) setDefault(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathID(w, r, "clientID")
	if !ok {
		return
	}
	cardID, ok := pathID(w, r, "cardID")
	if !ok {
		return
	}
	card, err := h.service.SetDefaultCard(r.Context(), clientID, cardID)
	if err != nil {
		h.fail(w, "set default card", err)
		return
	}
	httpx.JSON(w, http.StatusOK, card)
}

func (h *Handler) deleteCard(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathID(w, r, "clientID")
	if !ok {
		return
	}
	cardID, ok := pathID(w, r, "cardID")
	if !ok {
		return
	}
	if err := h.service.DeleteCard(r.Context(), clientID, cardID); err != nil {
		h.fail(w, "delete card", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type chargeRequest struct {
	CardID int64 `json:"card_id" validate:"required,gt=0"`
}

type chargeResponse struct {
	Success     bool         `json:"success"`
	Replayed    bool         `json:"replayed,omitempty"`
	Message     string       `json:"message,omitempty"`
	Transaction *Transaction `json:"transaction"`
}

func (h *Handler) charge(w http.ResponseWriter, r *http.Request) {
	quotationID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req chargeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	outcome, err := h.service.Charge(r.Context(), ChargeInput{
		QuotationID:    quotationID,
		CardID:         req.CardID,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
		ClientIP:       clientIP(r),
	})
	switch {
	case err == nil:
		status := http.StatusCreated
		if outcome.Replayed {
			status = http.StatusOK
		}
		httpx.JSON(w, status, chargeResponse{Success: true, Replayed: outcome.Replayed, Transaction: outcome.Transaction})
	case errors.Is(err, ErrPaymentRejected) && outcome != nil:
		httpx.JSON(w, http.StatusPaymentRequired, chargeResponse{
			Replayed:    outcome.Replayed,
			Message:     outcome.Transaction.ErrorMessage,
			Transaction: outcome.Transaction,
		})
	default:
		h.fail(w, "charge", err)
	}
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	page := shared.PageFromRequest(r)
	filter := TransactionFilter{
		Status: Status(r.URL.Query().Get("status")),
		Limit:  page.PerPage,
		Offset: page.Offset(),
	}
	if raw := r.URL.Query().Get("quotation_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, httpx.FieldErrors{"quotation_id": "must be a number"})
			return
		}
		filter.QuotationID = id
	}
	items, total, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.fail(w, "list transactions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"transactions": items,
		"pagination":   shared.NewPagination(page.Page, page.PerPage, total),
	})
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	txn, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		h.fail(w, "get transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, txn)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrCardNotFound), errors.Is(err, ErrTransactionNotFound),
		errors.Is(err, ErrQuotationNotFound), errors.Is(err, ErrClientNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrNotFound, err.Error()))
	case errors.Is(err, ErrAlreadyPaid), errors.Is(err, ErrChargeInProgress):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrConflict, err.Error()))
	case errors.Is(err, ErrGatewayUnavailable):
		h.logger.Warn(op, slog.Any("error", err))
		httpx.RespondError(w, httpx.ErrUpstream)
	case errors.Is(err, httpx.ErrValidation):
		httpx.RespondError(w, err)
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid %s", httpx.ErrValidation, param))
		return 0, false
	}
	return id, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
