package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/solarquote/cotizador/internal/platform/httpx"
	"github.com/solarquote/cotizador/internal/quotations"
)

// Enqueuer schedules background renders.
type Enqueuer interface {
	EnqueueQuotationPDF(ctx context.Context, quotationID int64) error
}

// Pinger checks the renderer backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler manages quotation PDF endpoints.
type Handler struct {
	generator *Generator
	enqueuer  Enqueuer
	pinger    Pinger
	logger    *slog.Logger
}

// NewHandler creates a report handler.
func NewHandler(generator *Generator, enqueuer Enqueuer, pinger Pinger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{generator: generator, enqueuer: enqueuer, pinger: pinger, logger: logger}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/pdf/health", h.ping)
	r.Get("/quotations/{id}/pdf", h.download)
	r.Post("/quotations/{id}/pdf", h.enqueue)
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	if err := h.pinger.Ping(r.Context()); err != nil {
		h.logger.Warn("gotenberg ping failed", slog.Any("error", err))
		httpx.RespondError(w, httpx.ErrUpstream)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	id, ok := quotationID(w, r)
	if !ok {
		return
	}
	pdf, q, err := h.generator.Generate(r.Context(), id)
	if err != nil {
		h.fail(w, "render quotation pdf", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+FileName(q.Number)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	id, ok := quotationID(w, r)
	if !ok {
		return
	}
	if _, err := h.generator.cfg.Quotations.Get(r.Context(), id); err != nil {
		h.fail(w, "load quotation", err)
		return
	}
	if err := h.enqueuer.EnqueueQuotationPDF(r.Context(), id); err != nil {
		h.logger.Error("enqueue quotation pdf", slog.Int64("quotation_id", id), slog.Any("error", err))
		httpx.RespondError(w, httpx.ErrUpstream)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"queued": true, "quotation_id": id})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, quotations.ErrNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrNotFound, err.Error()))
	case errors.Is(err, ErrRenderUnavailable):
		h.logger.Warn(op, slog.Any("error", err))
		httpx.RespondError(w, httpx.ErrUpstream)
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func quotationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", httpx.ErrValidation))
		return 0, false
	}
	return id, true
}
