package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/solarquote/cotizador/internal/catalog"
	"github.com/solarquote/cotizador/internal/clients"
	"github.com/solarquote/cotizador/internal/platform/httpx"
	"github.com/solarquote/cotizador/internal/quotations"
	"github.com/solarquote/cotizador/internal/shared"
)

const maxProducts = 100

// QuotationService is the subset of quotation operations the API needs.
type QuotationService interface {
	Create(ctx context.Context, in quotations.CreateInput) (*quotations.Quotation, error)
	Get(ctx context.Context, id int64) (*quotations.Quotation, error)
}

// CatalogService is the subset of catalog operations the API needs.
type CatalogService interface {
	ListProducts(ctx context.Context, filter catalog.ProductFilter) ([]catalog.Product, int, error)
	AdjustStock(ctx context.Context, adjustments []catalog.StockAdjustment) ([]catalog.StockChange, error)
}

// ClientService resolves clients for quotation detail responses.
type ClientService interface {
	Get(ctx context.Context, id int64) (*clients.Client, error)
}

// Handler serves the PHP integration endpoints. Field names on the wire are
// kept as the existing PHP clients send and expect them.
type Handler struct {
	quotations QuotationService
	catalog    CatalogService
	clients    ClientService
	verifier   *Verifier
	logger     *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(q QuotationService, c CatalogService, cl ClientService, verifier *Verifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{quotations: q, catalog: c, clients: cl, verifier: verifier, logger: logger}
}

// MountRoutes registers the signed routes. Legacy paths stay available for
// clients built against the previous system.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.verifier.Middleware)
	r.Post("/quotations", h.createQuotation)
	r.Get("/quotations/{id}", h.showQuotation)
	r.Get("/products", h.listProducts)
	r.Post("/stock/adjust", h.adjustStock)

	r.Post("/cotizacion/crear/", h.createQuotation)
	r.Get("/cotizacion/{id}/", h.showQuotation)
	r.Get("/productos/", h.listProducts)
	r.Post("/stock/actualizar/", h.adjustStock)
}

type itemRequest struct {
	ProductID int64            `json:"producto_id" validate:"required,gt=0"`
	Quantity  int              `json:"cantidad" validate:"required,gt=0"`
	UnitPrice *decimal.Decimal `json:"precio_unitario" validate:"required"`
	Discount  decimal.Decimal  `json:"descuento"`
}

type createRequest struct {
	ClientID int64         `json:"cliente_id" validate:"required,gt=0"`
	DueDate  string        `json:"fecha_vencimiento" validate:"omitempty,datetime=2006-01-02"`
	Items    []itemRequest `json:"items" validate:"required,min=1,dive"`
	Notes    string        `json:"notas" validate:"max=4000"`
}

type createResponse struct {
	Success     bool        `json:"success"`
	QuotationID int64       `json:"cotizacion_id"`
	Number      string      `json:"numero_cotizacion"`
	Total       json.Number `json:"total"`
	Message     string      `json:"mensaje"`
}

func (h *Handler) createQuotation(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := quotations.CreateInput{
		ClientID:  req.ClientID,
		Source:    quotations.SourceAPI,
		Status:    quotations.StatusDraft,
		Notes:     req.Notes,
		ClientIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
	if req.DueDate != "" {
		due, _ := time.Parse(time.DateOnly, req.DueDate)
		in.ValidUntil = &due
	}
	for _, item := range req.Items {
		in.Lines = append(in.Lines, quotations.LineInput{
			Catalog:         quotations.CatalogInventory,
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			DiscountPercent: item.Discount,
		})
	}
	q, err := h.quotations.Create(r.Context(), in)
	if err != nil {
		h.fail(w, "api create quotation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, createResponse{
		Success:     true,
		QuotationID: q.ID,
		Number:      q.Number,
		Total:       number(q.Total),
		Message:     "quotation created",
	})
}

type clientView struct {
	ID    int64  `json:"id"`
	Name  string `json:"nombre"`
	Email string `json:"email"`
}

type itemView struct {
	Product   string      `json:"producto"`
	Quantity  int         `json:"cantidad"`
	UnitPrice json.Number `json:"precio_unitario"`
	Discount  json.Number `json:"descuento"`
	Subtotal  json.Number `json:"subtotal"`
}

type quotationView struct {
	ID        int64       `json:"id"`
	Number    string      `json:"numero"`
	Client    clientView  `json:"cliente"`
	CreatedAt string      `json:"fecha_creacion"`
	DueDate   *string     `json:"fecha_vencimiento"`
	Status    string      `json:"estado"`
	Items     []itemView  `json:"items"`
	Subtotal  json.Number `json:"subtotal"`
	Tax       json.Number `json:"impuesto"`
	Total     json.Number `json:"total"`
	Notes     string      `json:"notas"`
}

func (h *Handler) showQuotation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid quotation id", httpx.ErrValidation))
		return
	}
	q, err := h.quotations.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "api get quotation", err)
		return
	}
	view := quotationView{
		ID:        q.ID,
		Number:    q.Number,
		Client:    clientView{ID: q.ClientID, Name: q.ClientName},
		CreatedAt: q.CreatedAt.Format(time.RFC3339),
		Status:    string(q.Status),
		Items:     make([]itemView, 0, len(q.Lines)),
		Subtotal:  number(q.Subtotal),
		Tax:       number(q.Tax),
		Total:     number(q.Total),
		Notes:     q.Notes,
	}
	if q.ValidUntil != nil {
		due := q.ValidUntil.Format(time.DateOnly)
		view.DueDate = &due
	}
	if c, err := h.clients.Get(r.Context(), q.ClientID); err == nil {
		view.Client.Name = c.FullName()
		view.Client.Email = c.Email
	} else if !errors.Is(err, clients.ErrNotFound) {
		h.fail(w, "api get client", err)
		return
	}
	for _, l := range q.Lines {
		view.Items = append(view.Items, itemView{
			Product:   l.ProductName,
			Quantity:  l.Quantity,
			UnitPrice: number(l.UnitPrice),
			Discount:  number(l.DiscountPercent),
			Subtotal:  number(l.Subtotal),
		})
	}
	httpx.JSON(w, http.StatusOK, view)
}

type productView struct {
	ID        int64       `json:"id"`
	Code      string      `json:"codigo"`
	Name      string      `json:"nombre"`
	Category  string      `json:"categoria"`
	Price     json.Number `json:"precio"`
	Stock     int         `json:"stock"`
	Available bool        `json:"disponible"`
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := catalog.ProductFilter{
		ActiveOnly: q.Get("activos") == "true" || q.Get("active") == "true",
		Search:     q.Get("search"),
		Limit:      maxProducts,
	}
	category := q.Get("categoria")
	if category == "" {
		category = q.Get("category")
	}
	if category != "" {
		id, err := strconv.ParseInt(category, 10, 64)
		if err != nil {
			httpx.RespondError(w, httpx.FieldErrors{"categoria": "must be a numeric id"})
			return
		}
		filter.CategoryID = id
	}
	items, _, err := h.catalog.ListProducts(r.Context(), filter)
	if err != nil {
		h.fail(w, "api list products", err)
		return
	}
	out := make([]productView, 0, len(items))
	for _, p := range items {
		out = append(out, productView{
			ID: p.ID, Code: p.Code, Name: p.Name, Category: p.CategoryName,
			Price: number(p.Price), Stock: p.Stock, Available: p.Available(),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"productos": out, "total": len(out)})
}

type stockUpdate struct {
	ProductID int64 `json:"producto_id" validate:"required,gt=0"`
	Quantity  int   `json:"cantidad"`
}

type stockRequest struct {
	Updates []stockUpdate `json:"actualizaciones" validate:"required,min=1,dive"`
}

type stockResult struct {
	ProductID int64  `json:"producto_id"`
	Name      string `json:"nombre"`
	Previous  int    `json:"stock_anterior"`
	Current   int    `json:"stock_nuevo"`
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req stockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	adjustments := make([]catalog.StockAdjustment, 0, len(req.Updates))
	for _, u := range req.Updates {
		adjustments = append(adjustments, catalog.StockAdjustment{ProductID: u.ProductID, Delta: u.Quantity})
	}
	changes, err := h.catalog.AdjustStock(r.Context(), adjustments)
	if err != nil {
		h.fail(w, "api adjust stock", err)
		return
	}
	results := make([]stockResult, 0, len(changes))
	for _, c := range changes {
		results = append(results, stockResult{ProductID: c.ProductID, Name: c.Name, Previous: c.Previous, Current: c.Current})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"success": true, "actualizaciones": results})
}

func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if mapped := quotations.HTTPError(err); mapped != nil {
		httpx.RespondError(w, mapped)
		return
	}
	if errors.Is(err, catalog.ErrProductNotFound) || errors.Is(err, clients.ErrNotFound) {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrNotFound, err.Error()))
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
