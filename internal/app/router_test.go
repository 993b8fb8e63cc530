package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-recurring/internal/observability"
	"github.com/odyssey-erp/odyssey-recurring/internal/shared"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthzAndMetrics(t *testing.T) {
	router := NewRouter(RouterParams{
		Logger:  discardLogger(),
		Config:  &Config{AppEnv: "development"},
		Metrics: observability.NewMetrics(),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCompanyMiddleware(t *testing.T) {
	var seen int64
	var resolved bool
	r := chi.NewRouter()
	r.Use(CompanyMiddleware(discardLogger()))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		seen, resolved = shared.CompanyIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("resolves header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(CompanyHeader, "42")
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.True(t, resolved)
		assert.Equal(t, int64(42), seen)
	})

	t.Run("absent header passes through", func(t *testing.T) {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.False(t, resolved)
	})

	for _, raw := range []string{"abc", "0", "-3"} {
		t.Run("rejects "+raw, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(CompanyHeader, raw)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}
