package report

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarquote/cotizador/internal/clients"
	"github.com/solarquote/cotizador/internal/quotations"
	"github.com/solarquote/cotizador/jobs"
)

type fakeQuotations struct {
	items map[int64]*quotations.Quotation
	pdf   map[int64]string
}

func (f *fakeQuotations) Get(_ context.Context, id int64) (*quotations.Quotation, error) {
	q, ok := f.items[id]
	if !ok {
		return nil, quotations.ErrNotFound
	}
	return q, nil
}

func (f *fakeQuotations) SetPDF(_ context.Context, id int64, path string) error {
	f.pdf[id] = path
	return nil
}

type fakeClients map[int64]*clients.Client

func (f fakeClients) Get(_ context.Context, id int64) (*clients.Client, error) {
	c, ok := f[id]
	if !ok {
		return nil, clients.ErrNotFound
	}
	return c, nil
}

type fakePDF struct {
	html string
	err  error
}

func (f *fakePDF) RenderHTML(_ context.Context, html string) ([]byte, error) {
	f.html = html
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.7"), nil
}

type renderCount struct{ ok, failed int }

func (r *renderCount) PDFRendered(err error) {
	if err != nil {
		r.failed++
		return
	}
	r.ok++
}

type enqueued []int64

func (e *enqueued) EnqueueQuotationPDF(_ context.Context, id int64) error {
	*e = append(*e, id)
	return nil
}

type generatorFixture struct {
	quotes   *fakeQuotations
	pdf      *fakePDF
	observer *renderCount
	media    string
	gen      *Generator
}

func newGeneratorFixture(t *testing.T) *generatorFixture {
	t.Helper()
	fx := &generatorFixture{
		quotes:   &fakeQuotations{items: map[int64]*quotations.Quotation{7: sampleQuotation()}, pdf: map[int64]string{}},
		pdf:      &fakePDF{},
		observer: &renderCount{},
		media:    t.TempDir(),
	}
	renderer, err := NewQuotationRenderer(fx.pdf)
	require.NoError(t, err)
	fx.gen = NewGenerator(GeneratorConfig{
		Quotations: fx.quotes,
		Clients:    fakeClients{3: {FirstName: "Ana", LastName: "Rojas", Email: "ana@example.cl"}},
		Renderer:   renderer,
		Observer:   fx.observer,
		MediaRoot:  fx.media,
		Company:    "Solar SpA",
		TaxRate:    decimal.RequireFromString("0.19"),
	})
	return fx
}

func TestGeneratorStoreWritesFileAndRecordsPath(t *testing.T) {
	fx := newGeneratorFixture(t)

	rel, err := fx.gen.Store(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "quotations/pdf/cotizacion_COT-000007.pdf", rel)
	assert.Equal(t, rel, fx.quotes.pdf[7])

	data, err := os.ReadFile(filepath.Join(fx.media, filepath.FromSlash(rel)))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))
	assert.Contains(t, fx.pdf.html, "ana@example.cl")
	assert.Equal(t, 1, fx.observer.ok)

	leftovers, err := filepath.Glob(filepath.Join(fx.media, PDFDir, ".render-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestGeneratorRenderFailureIsObserved(t *testing.T) {
	fx := newGeneratorFixture(t)
	fx.pdf.err = ErrRenderUnavailable

	_, err := fx.gen.Store(context.Background(), 7)
	assert.ErrorIs(t, err, ErrRenderUnavailable)
	assert.Equal(t, 1, fx.observer.failed)
	assert.Empty(t, fx.quotes.pdf)
}

func TestJobHandle(t *testing.T) {
	fx := newGeneratorFixture(t)
	job := NewJob(fx.gen, nil)

	task, err := jobs.NewQuotationPDFTask(7)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.NotEmpty(t, fx.quotes.pdf[7])

	missing, err := jobs.NewQuotationPDFTask(99)
	require.NoError(t, err)
	assert.ErrorIs(t, job.Handle(context.Background(), missing), asynq.SkipRetry)

	assert.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(jobs.TaskQuotationRenderPDF, []byte(`{}`))), asynq.SkipRetry)

	fx.pdf.err = errors.New("gotenberg down")
	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandlerDownloadAndEnqueue(t *testing.T) {
	fx := newGeneratorFixture(t)
	queue := &enqueued{}
	r := chi.NewRouter()
	NewHandler(fx.gen, queue, nil, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quotations/7/pdf", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="cotizacion_COT-000007.pdf"`)
	assert.Equal(t, "%PDF-1.7", rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/quotations/7/pdf", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, enqueued{7}, *queue)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quotations/99/pdf", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/quotations/99/pdf", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, *queue, 1)

	fx.pdf.err = ErrRenderUnavailable
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quotations/7/pdf", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
