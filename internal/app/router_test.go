package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/solarquote/cotizador/internal/observability"
	"github.com/solarquote/cotizador/internal/shared"
)

func TestHealthzReportsChecks(t *testing.T) {
	router := NewRouter(RouterParams{HealthChecks: map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"postgres":"ok"}}`, rec.Body.String())

	router = NewRouter(RouterParams{HealthChecks: map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("dial tcp") },
	}})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"down"`)
}

func TestMetricsEndpointAndSecurityHeaders(t *testing.T) {
	router := NewRouter(RouterParams{Metrics: observability.NewMetrics()})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func protected(cfg *Config) http.Handler {
	r := chi.NewRouter()
	r.Use(BasicAuth(cfg, slogDiscard()))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(shared.ActorFromContext(r.Context())))
	})
	return r
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg := &Config{IntranetUser: "ventas", IntranetPasswordHash: string(hash)}

	cases := []struct {
		name   string
		user   string
		pass   string
		noAuth bool
		status int
		body   string
	}{
		{name: "valid", user: "ventas", pass: "s3cret", status: http.StatusOK, body: "ventas"},
		{name: "wrong password", user: "ventas", pass: "nope", status: http.StatusUnauthorized},
		{name: "wrong user", user: "admin", pass: "s3cret", status: http.StatusUnauthorized},
		{name: "missing header", noAuth: true, status: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if !tc.noAuth {
				req.SetBasicAuth(tc.user, tc.pass)
			}
			rec := httptest.NewRecorder()
			protected(cfg).ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
			if tc.status == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
			}
		})
	}

	rec := httptest.NewRecorder()
	protected(&Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "system", rec.Body.String())
}

func TestSessionMiddlewareIssuesCookie(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	manager := shared.NewSessionManager(client, "cotizador_session", time.Hour, false)

	var seen string
	r := chi.NewRouter()
	r.Use(SessionMiddleware(manager, slogDiscard()))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		seen = shared.SessionFromContext(r.Context()).ID
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotEmpty(t, seen)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, seen, cookies[0].Value)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	first := seen
	r.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, first, seen)
}

func TestRateLimitRejectsBurst(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RateLimit(2))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.1.1.1:5000"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
