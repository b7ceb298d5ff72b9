package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	clients map[int64]*Client
	nextID  int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{clients: map[int64]*Client{}, nextID: 1}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, m)
}

func (m *mockRepository) Create(_ context.Context, c Client) (int64, error) {
	if c.TaxID != "" {
		for _, existing := range m.clients {
			if existing.TaxID == c.TaxID {
				return 0, ErrDuplicateTaxID
			}
		}
	}
	c.ID = m.nextID
	m.nextID++
	m.clients[c.ID] = &c
	return c.ID, nil
}

func (m *mockRepository) Get(_ context.Context, id int64) (*Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *mockRepository) GetByTaxID(_ context.Context, taxID string) (*Client, error) {
	for _, c := range m.clients {
		if c.TaxID == taxID {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepository) List(_ context.Context, _ ListFilter) ([]Client, int, error) {
	out := make([]Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (m *mockRepository) UpsertByTaxID(ctx context.Context, c Client) (*Client, bool, error) {
	if existing, err := m.GetByTaxID(ctx, c.TaxID); err == nil {
		return existing, false, nil
	}
	id, err := m.Create(ctx, c)
	if err != nil {
		return nil, false, err
	}
	return m.clients[id], true, nil
}

func (m *mockRepository) UpsertTechnicalData(_ context.Context, td TechnicalData) (*TechnicalData, bool, error) {
	return &td, true, nil
}

func (m *mockRepository) GetTechnicalData(_ context.Context, _ int64) (*TechnicalData, error) {
	return nil, ErrNotFound
}

func (m *mockRepository) AddAttachment(_ context.Context, _ Attachment) (int64, error) {
	return 1, nil
}

func TestCreateNormalisesFields(t *testing.T) {
	svc := NewService(newMockRepository(), nil)
	c, err := svc.Create(context.Background(), CreateClientRequest{
		FirstName: "  Ana ",
		LastName:  "Rojas",
		TaxID:     "12.345.678-5",
		Email:     "ANA@Example.CL",
	})
	require.NoError(t, err)
	assert.Equal(t, "Ana", c.FirstName)
	assert.Equal(t, "12345678-5", c.TaxID)
	assert.Equal(t, "ana@example.cl", c.Email)
	assert.Equal(t, "Ana Rojas", c.FullName())
}

func TestCreateRejectsInvalidTaxID(t *testing.T) {
	svc := NewService(newMockRepository(), nil)
	_, err := svc.Create(context.Background(), CreateClientRequest{FirstName: "Ana", TaxID: "12.345.678-0"})
	assert.ErrorIs(t, err, ErrInvalidTaxID)
}

func TestCreateRejectsDuplicateTaxID(t *testing.T) {
	svc := NewService(newMockRepository(), nil)
	_, err := svc.Create(context.Background(), CreateClientRequest{FirstName: "Ana", TaxID: "12345678-5"})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), CreateClientRequest{FirstName: "Eva", TaxID: "12.345.678-5"})
	assert.ErrorIs(t, err, ErrDuplicateTaxID)
}

func TestExists(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, nil)
	ok, err := svc.Exists(context.Background(), 99)
	require.NoError(t, err)
	assert.False(t, ok)

	c, err := svc.Create(context.Background(), CreateClientRequest{FirstName: "Ana"})
	require.NoError(t, err)
	ok, err = svc.Exists(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func newTestRouter() chi.Router {
	h := NewHandler(NewService(newMockRepository(), nil), nil)
	r := chi.NewRouter()
	r.Route("/clients", h.MountRoutes)
	return r
}

func TestHandlerCreateAndShow(t *testing.T) {
	router := newTestRouter()
	body, _ := json.Marshal(CreateClientRequest{FirstName: "Ana", Email: "ana@example.cl"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/clients/", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created Client
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/clients/1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerValidationAndNotFound(t *testing.T) {
	router := newTestRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/clients/", bytes.NewReader([]byte(`{"email":"bad"}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "first_name")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/clients/42", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
