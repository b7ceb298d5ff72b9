package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/solarquote/cotizador/internal/api"
	"github.com/solarquote/cotizador/internal/audit"
	"github.com/solarquote/cotizador/internal/catalog"
	"github.com/solarquote/cotizador/internal/clients"
	"github.com/solarquote/cotizador/internal/observability"
	"github.com/solarquote/cotizador/internal/payments"
	"github.com/solarquote/cotizador/internal/platform/httpx"
	"github.com/solarquote/cotizador/internal/quotations"
	"github.com/solarquote/cotizador/internal/shared"
	"github.com/solarquote/cotizador/internal/wizard"
	"github.com/solarquote/cotizador/jobs"
	"github.com/solarquote/cotizador/report"
)

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Metrics        *observability.Metrics
	SessionManager *shared.SessionManager
	HealthChecks   map[string]HealthCheck

	ClientsHandler    *clients.Handler
	CatalogHandler    *catalog.Handler
	QuotationsHandler *quotations.Handler
	PaymentsHandler   *payments.Handler
	ReportHandler     *report.Handler
	JobHandler        *jobs.Handler
	AuditHandler      *audit.Handler
	APIHandler        *api.Handler
	WizardHandler     *wizard.Handler
}

// NewRouter constructs the chi.Router serving the intranet, the PHP
// integration API and the public wizard.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", healthz(params.HealthChecks))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	rateLimit := 60
	if params.Config != nil {
		rateLimit = params.Config.RateLimitPerMinute
	}

	r.Route("/intranet", func(r chi.Router) {
		r.Use(BasicAuth(params.Config, params.Logger))
		if params.ClientsHandler != nil {
			r.Route("/clients", params.ClientsHandler.MountRoutes)
		}
		if params.CatalogHandler != nil {
			r.Route("/catalog", params.CatalogHandler.MountRoutes)
		}
		if params.QuotationsHandler != nil {
			r.Route("/quotations", params.QuotationsHandler.MountRoutes)
		}
		if params.PaymentsHandler != nil {
			r.Route("/payments", params.PaymentsHandler.MountRoutes)
		}
		if params.ReportHandler != nil {
			r.Group(params.ReportHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
		}
	})

	if params.APIHandler != nil {
		r.Route("/api/php", func(r chi.Router) {
			r.Use(RateLimit(rateLimit))
			params.APIHandler.MountRoutes(r)
		})
	}

	if params.WizardHandler != nil && params.SessionManager != nil {
		r.Route("/wizard", func(r chi.Router) {
			r.Use(RateLimit(rateLimit))
			r.Use(SessionMiddleware(params.SessionManager, params.Logger))
			params.WizardHandler.MountRoutes(r)
		})
	}
	return r
}

func healthz(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		results := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = "down"
				continue
			}
			results[name] = "ok"
		}
		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		httpx.JSON(w, status, map[string]any{"status": overall, "checks": results})
	}
}
