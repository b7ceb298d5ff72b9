package jobmetrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	assert.NoError(t, m.Track("quotation:render_pdf").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("quotation:render_pdf").End(boom), boom)

	body := scrape(t, reg)
	assert.Contains(t, body, `cotizador_jobs_total{job="quotation:render_pdf",status="success"} 1`)
	assert.Contains(t, body, `cotizador_jobs_total{job="quotation:render_pdf",status="failure"} 1`)
	assert.Contains(t, body, `cotizador_jobs_failures_total{job="quotation:render_pdf"} 1`)
	assert.Contains(t, body, `cotizador_job_duration_seconds_count{job="quotation:render_pdf"} 2`)
}

func TestAddProcessedIgnoresEmptyRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.AddProcessed("idempotency:cleanup", 0)
	m.AddProcessed("idempotency:cleanup", 7)
	assert.Contains(t, scrape(t, reg), `cotizador_job_items_processed_total{job="idempotency:cleanup"} 7`)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	err := errors.New("kept")
	assert.ErrorIs(t, m.Track("job").End(err), err)
	m.AddProcessed("job", 3)
}
