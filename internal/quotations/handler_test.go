package quotations

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (http.Handler, *mockRepository) {
	t.Helper()
	repo := newMockRepository()
	svc, _ := newTestService(repo)
	r := chi.NewRouter()
	r.Route("/quotations", NewHandler(svc, nil).MountRoutes)
	return r, repo
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCreateAndShow(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := doJSON(t, h, http.MethodPost, "/quotations", `{
		"client_id": 1,
		"lines": [
			{"catalog": "SOLAR", "product_id": 1, "quantity": 2},
			{"catalog": "SOLAR", "product_id": 2, "quantity": 1, "discount_percent": "10"}
		]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created Quotation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "50575", created.Total.String())

	rec = doJSON(t, h, http.MethodGet, fmt.Sprintf("/quotations/%d", created.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"number":"COT-000001"`)
}

func TestHandlerErrors(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := doJSON(t, h, http.MethodGet, "/quotations/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/quotations", `{"client_id": 1, "lines": [{"catalog": "SOLAR", "product_id": 404, "quantity": 1}]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/quotations", `{"lines": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "client_id")

	rec = doJSON(t, h, http.MethodGet, "/quotations/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerStatusConflict(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doJSON(t, h, http.MethodPost, "/quotations", `{"client_id": 1, "lines": [{"catalog": "SOLAR", "product_id": 1, "quantity": 1}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/quotations/1/status", `{"status": "APPROVED"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/quotations/1/status", `{"status": "PENDING"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerLineLifecycle(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doJSON(t, h, http.MethodPost, "/quotations", `{"client_id": 1, "lines": [{"catalog": "SOLAR", "product_id": 1, "quantity": 1}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/quotations/1/lines", `{"catalog": "SOLAR", "product_id": 2, "quantity": 2}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPut, "/quotations/1/lines/2", `{"discount_percent": "50"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var q Quotation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, "35000", q.Subtotal.String())

	rec = doJSON(t, h, http.MethodDelete, "/quotations/1/lines/2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/quotations/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
