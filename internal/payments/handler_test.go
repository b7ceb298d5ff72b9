package payments

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(fx *fixture) http.Handler {
	r := chi.NewRouter()
	NewHandler(fx.service, nil).MountRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRegisterAndListCards(t *testing.T) {
	fx := newFixture()
	router := newTestRouter(fx)

	rec := do(t, router, http.MethodPost, "/cards",
		`{"client_id":1,"number":"4111111111111111","holder_name":"Ana Rojas","expiry":"12/2030","cvv":"123"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "tok_")
	assert.NotContains(t, rec.Body.String(), "4111111111111111")

	rec = do(t, router, http.MethodGet, "/clients/1/cards", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Cards []Card `json:"cards"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Cards, 1)
	assert.True(t, body.Cards[0].IsDefault)
	assert.Equal(t, "1111", body.Cards[0].Last4)

	rec = do(t, router, http.MethodPost, "/cards", `{"client_id":1,"number":"1234","holder_name":"X","expiry":"13/2030","cvv":"1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerChargeStatuses(t *testing.T) {
	fx := newFixture()
	router := newTestRouter(fx)
	card, err := fx.service.RegisterCard(t.Context(), cardInput(1))
	require.NoError(t, err)
	body := `{"card_id":` + itoa(card.ID) + `}`

	fx.gateway.charge = &ChargeResult{Message: "declined", Raw: json.RawMessage(`{"status":"rejected"}`)}
	rec := do(t, router, http.MethodPost, "/quotations/10/charge", body, nil)
	require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())
	var rejected chargeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rejected))
	assert.False(t, rejected.Success)
	assert.Equal(t, "declined", rejected.Message)
	assert.Equal(t, StatusRejected, rejected.Transaction.Status)

	fx.gateway.charge, fx.gateway.chargeErr = nil, ErrGatewayUnavailable
	rec = do(t, router, http.MethodPost, "/quotations/10/charge", body, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	fx.gateway.charge = &ChargeResult{Approved: true, AuthorizationCode: "OK", Raw: json.RawMessage(`{}`)}
	fx.gateway.chargeErr = nil
	headers := map[string]string{IdempotencyHeader: "charge-1"}
	rec = do(t, router, http.MethodPost, "/quotations/10/charge", body, headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/quotations/10/charge", body, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var replay chargeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replay))
	assert.True(t, replay.Replayed)

	rec = do(t, router, http.MethodPost, "/quotations/10/charge", body, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPost, "/quotations/999/charge", body, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodPost, "/quotations/10/charge", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerTransactions(t *testing.T) {
	fx := newFixture()
	router := newTestRouter(fx)
	card, err := fx.service.RegisterCard(t.Context(), cardInput(1))
	require.NoError(t, err)
	outcome, err := fx.service.Charge(t.Context(), ChargeInput{QuotationID: 10, CardID: card.ID})
	require.NoError(t, err)

	rec := do(t, router, http.MethodGet, "/transactions?quotation_id=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), outcome.Transaction.Number)

	rec = do(t, router, http.MethodGet, "/transactions/"+itoa(outcome.Transaction.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"APPROVED"`)

	rec = do(t, router, http.MethodGet, "/transactions/9999", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/transactions?status=LOST", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerSetDefaultAndDelete(t *testing.T) {
	fx := newFixture()
	router := newTestRouter(fx)
	_, err := fx.service.RegisterCard(t.Context(), cardInput(1))
	require.NoError(t, err)
	second, err := fx.service.RegisterCard(t.Context(), cardInput(1))
	require.NoError(t, err)

	rec := do(t, router, http.MethodPost, "/clients/1/cards/"+itoa(second.ID)+"/default", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_default":true`)

	rec = do(t, router, http.MethodDelete, "/clients/2/cards/"+itoa(second.ID), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodDelete, "/clients/1/cards/"+itoa(second.ID), "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodDelete, "/clients/1/cards/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
