package quotations

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/solarquote/cotizador/internal/platform/httpx"
	"github.com/solarquote/cotizador/internal/shared"
)

// Handler exposes quotation endpoints on the intranet.
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

// MountRoutes registers quotation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.show)
		r.Delete("/", h.remove)
		r.Post("/duplicate", h.duplicate)
		r.Post("/status", h.changeStatus)
		r.Put("/discount", h.setDiscount)
		r.Post("/lines", h.addLine)
		r.Put("/lines/{lineID}", h.updateLine)
		r.Delete("/lines/{lineID}", h.removeLine)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page := shared.PageFromRequest(r)
	q := r.URL.Query()
	clientID, _ := strconv.ParseInt(q.Get("client_id"), 10, 64)
	items, total, err := h.service.List(r.Context(), ListFilter{
		Status:   Status(q.Get("status")),
		ClientID: clientID,
		Search:   q.Get("q"),
		Limit:    page.PerPage,
		Offset:   page.Offset(),
	})
	if err != nil {
		h.fail(w, "list quotations", err)
		return
	}
	meta := shared.NewPagination(page.Page, page.PerPage, total)
	httpx.JSON(w, http.StatusOK, ListResponse{
		Quotations: items, Page: meta.Page, PerPage: meta.PerPage, Total: meta.Total, TotalPages: meta.TotalPages,
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := CreateInput{
		ClientID:       req.ClientID,
		Source:         SourceIntranet,
		Status:         req.Status,
		Notes:          req.Notes,
		Comments:       req.Comments,
		ManualDiscount: req.ManualDiscount,
		ClientIP:       r.RemoteAddr,
		UserAgent:      r.UserAgent(),
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, l.Input())
	}
	q, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, "create quotation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, q)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	q, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get quotation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, "delete quotation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) duplicate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	q, err := h.service.Duplicate(r.Context(), id)
	if err != nil {
		h.fail(w, "duplicate quotation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, q)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req StatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	q, err := h.service.ChangeStatus(r.Context(), id, req.Status)
	if err != nil {
		h.fail(w, "change status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) setDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req DiscountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	q, err := h.service.SetManualDiscount(r.Context(), id, req.ManualDiscount)
	if err != nil {
		h.fail(w, "set discount", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req LineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	q, err := h.service.AddLine(r.Context(), id, req.Input())
	if err != nil {
		h.fail(w, "add line", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, q)
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	lineID, ok := pathID(w, r, "lineID")
	if !ok {
		return
	}
	var req UpdateLineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	q, err := h.service.UpdateLine(r.Context(), id, lineID, LineUpdate{
		Quantity: req.Quantity, UnitPrice: req.UnitPrice, DiscountPercent: req.DiscountPercent,
	})
	if err != nil {
		h.fail(w, "update line", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	lineID, ok := pathID(w, r, "lineID")
	if !ok {
		return
	}
	q, err := h.service.RemoveLine(r.Context(), id, lineID)
	if err != nil {
		h.fail(w, "remove line", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid %s", httpx.ErrValidation, param))
		return 0, false
	}
	return id, true
}

// HTTPError translates package errors into httpx sentinels. It returns nil
// when err is not a known domain error.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrLineNotFound),
		errors.Is(err, ErrProductNotFound), errors.Is(err, ErrClientNotFound):
		return fmt.Errorf("%w: %s", httpx.ErrNotFound, err.Error())
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrQuotationLocked):
		return fmt.Errorf("%w: %s", httpx.ErrConflict, err.Error())
	case errors.Is(err, httpx.ErrValidation):
		return err
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if mapped := HTTPError(err); mapped != nil {
		httpx.RespondError(w, mapped)
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
