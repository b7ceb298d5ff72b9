package wizard

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/solarquote/cotizador/internal/catalog"
	"github.com/solarquote/cotizador/internal/clients"
	"github.com/solarquote/cotizador/internal/platform/httpx"
	"github.com/solarquote/cotizador/internal/quotations"
	"github.com/solarquote/cotizador/internal/shared"
)

const multipartMemory = 8 << 20

// Handler serves the wizard endpoints. Requests must carry a session placed
// in the context by the session middleware.
type Handler struct {
	service   *Service
	maxUpload int64
	logger    *slog.Logger
}

// NewHandler constructs a Handler. maxUpload is the per-file limit.
func NewHandler(service *Service, maxUpload int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, maxUpload: maxUpload, logger: logger}
}

// MountRoutes registers wizard routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/state", h.state)
	r.Post("/step1", h.step1)
	r.Post("/step2", h.step2)
	r.Get("/step3", h.listProducts)
	r.Post("/step3", h.step3)
	r.Get("/step4", h.listPaymentMethods)
	r.Post("/step4", h.step4)
	r.Get("/step5", h.summary)
	r.Post("/step5", h.step5)
	r.Post("/step6", h.step6)
	r.Post("/validate-tax-id", h.validateTaxID)
	r.Get("/regions", h.regions)
}

type stepResponse struct {
	Success  bool   `json:"success"`
	NextStep Step   `json:"next_step"`
	State    *State `json:"state"`
}

func (h *Handler) respondStep(w http.ResponseWriter, state *State) {
	httpx.JSON(w, http.StatusOK, stepResponse{Success: true, NextStep: state.CurrentStep, State: state})
}

func (h *Handler) state(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.State(r.Context(), sessionID(r))
	if err != nil {
		h.fail(w, "load state", err)
		return
	}
	httpx.JSON(w, http.StatusOK, state)
}

func (h *Handler) step1(w http.ResponseWriter, r *http.Request) {
	var data PersonalData
	if err := httpx.DecodeJSON(r, &data); err != nil {
		httpx.RespondError(w, err)
		return
	}
	state, err := h.service.SubmitPersonal(r.Context(), sessionID(r), data)
	if err != nil {
		h.fail(w, "step 1", err)
		return
	}
	h.respondStep(w, state)
}

func (h *Handler) step2(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 4*h.maxUpload+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, "invalid multipart form"))
		return
	}
	data, err := technicalFromForm(r.MultipartForm)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	state, err := h.service.SubmitTechnical(r.Context(), sessionID(r), data, r.MultipartForm.File[BillField])
	if err != nil {
		h.fail(w, "step 2", err)
		return
	}
	h.respondStep(w, state)
}

func technicalFromForm(form *multipart.Form) (TechnicalData, error) {
	value := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	fields := httpx.FieldErrors{}
	number := func(key string) decimal.Decimal {
		raw := value(key)
		if raw == "" {
			return decimal.Zero
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			fields[key] = "must be a number"
		}
		return d
	}
	data := TechnicalData{
		RoofType:          clients.RoofType(strings.ToUpper(value("roof_type"))),
		Orientation:       clients.Orientation(strings.ToUpper(value("orientation"))),
		SurfaceM2:         number("surface_m2"),
		TargetPowerKW:     number("target_power_kw"),
		AvgConsumptionKWh: number("avg_consumption_kwh"),
		Notes:             value("notes"),
	}
	if len(fields) > 0 {
		return TechnicalData{}, fields
	}
	return data, nil
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	category := catalog.SolarCategory(strings.ToUpper(r.URL.Query().Get("category")))
	products, err := h.service.Products(r.Context(), category)
	if err != nil {
		h.fail(w, "list solar products", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h *Handler) step3(w http.ResponseWriter, r *http.Request) {
	var data ProductSelection
	if err := httpx.DecodeJSON(r, &data); err != nil {
		httpx.RespondError(w, err)
		return
	}
	state, err := h.service.SubmitProducts(r.Context(), sessionID(r), data)
	if err != nil {
		h.fail(w, "step 3", err)
		return
	}
	h.respondStep(w, state)
}

func (h *Handler) listPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.service.PaymentMethods(r.Context())
	if err != nil {
		h.fail(w, "list payment methods", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"methods": methods})
}

type paymentRequest struct {
	PreferredMethodID int64 `json:"preferred_method_id"`
}

func (h *Handler) step4(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	state, err := h.service.SubmitPayment(r.Context(), sessionID(r), req.PreferredMethodID)
	if err != nil {
		h.fail(w, "step 4", err)
		return
	}
	h.respondStep(w, state)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	discount := decimal.Zero
	if raw := r.URL.Query().Get("discount"); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			httpx.RespondError(w, httpx.FieldErrors{"discount": "must be a number"})
			return
		}
		discount = d
	}
	summary, err := h.service.Summary(r.Context(), sessionID(r), discount)
	if err != nil {
		h.fail(w, "step 5 summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) step5(w http.ResponseWriter, r *http.Request) {
	var data Review
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &data); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	state, err := h.service.SubmitReview(r.Context(), sessionID(r), data)
	if err != nil {
		h.fail(w, "step 5", err)
		return
	}
	h.respondStep(w, state)
}

type finalResponse struct {
	Success     bool   `json:"success"`
	QuotationID int64  `json:"quotation_id"`
	Number      string `json:"number"`
	UUID        string `json:"uuid"`
	Total       string `json:"total"`
}

func (h *Handler) step6(w http.ResponseWriter, r *http.Request) {
	var data Comments
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &data); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	q, err := h.service.Finalize(r.Context(), sessionID(r), data, clientIP(r), r.UserAgent())
	if err != nil {
		h.fail(w, "step 6", err)
		return
	}
	// A finished wizard starts over on a new session.
	shared.SessionFromContext(r.Context()).Destroy()
	httpx.JSON(w, http.StatusCreated, finalResponse{
		Success:     true,
		QuotationID: q.ID,
		Number:      q.Number,
		UUID:        q.UUID,
		Total:       q.Total.StringFixed(2),
	})
}

type taxIDRequest struct {
	TaxID string `json:"tax_id"`
}

type taxIDResponse struct {
	Valid      bool   `json:"valid"`
	Normalized string `json:"normalized,omitempty"`
}

func (h *Handler) validateTaxID(w http.ResponseWriter, r *http.Request) {
	var req taxIDRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	normalized, err := clients.NormalizeTaxID(req.TaxID)
	if err != nil {
		httpx.JSON(w, http.StatusOK, taxIDResponse{Valid: false})
		return
	}
	httpx.JSON(w, http.StatusOK, taxIDResponse{Valid: true, Normalized: normalized})
}

func (h *Handler) regions(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"regions": Regions})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrNotFound, err.Error()))
	case errors.Is(err, ErrStepNotReached):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrConflict, err.Error()))
	default:
		if mapped := quotations.HTTPError(err); mapped != nil {
			httpx.RespondError(w, mapped)
			return
		}
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func sessionID(r *http.Request) string {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		return sess.ID
	}
	return ""
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
