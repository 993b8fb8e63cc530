package recurring

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-recurring/internal/invoice"
	"github.com/odyssey-erp/odyssey-recurring/internal/shared"
)

func newTestRouter(t *testing.T, f *fixture, opts HandlerOptions) http.Handler {
	t.Helper()
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc, opts)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if raw := req.Header.Get("X-Company-ID"); raw != "" {
				id, _ := strconv.ParseInt(raw, 10, 64)
				req = req.WithContext(shared.ContextWithCompany(req.Context(), id))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/recurring-invoices", h.MountRoutes)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("X-Company-ID", strconv.FormatInt(company, 10))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestHandlerTemplateLifecycle(t *testing.T) {
	f := newFixture(t, d("2024-01-10"))
	router := newTestRouter(t, f, HandlerOptions{})

	rr := do(t, router, http.MethodPost, "/recurring-invoices", baseRequest("monthly", "2024-01-31"))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decodeBody[Template](t, rr)
	base := "/recurring-invoices/" + strconv.FormatInt(created.ID, 10)

	rr = do(t, router, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Monthly retainer", decodeBody[Template](t, rr).Name)

	rr = do(t, router, http.MethodPost, base+"/generate", nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	res := decodeBody[GenerationResult](t, rr)
	assert.Equal(t, "INV-00001", res.InvoiceNumber)
	require.NotNil(t, res.NextRunDate)
	assert.Equal(t, d("2024-02-29"), *res.NextRunDate)

	rr = do(t, router, http.MethodGet, base+"/invoices", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	invoices := decodeBody[struct {
		Data []invoice.Summary `json:"data"`
	}](t, rr)
	require.Len(t, invoices.Data, 1)
	assert.Equal(t, "INV-00001", invoices.Data[0].Number)

	rr = do(t, router, http.MethodPost, base+"/pause", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, StatusPaused, decodeBody[Template](t, rr).Status)

	rr = do(t, router, http.MethodPost, base+"/pause", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, router, http.MethodPost, base+"/resume", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, StatusActive, decodeBody[Template](t, rr).Status)

	rr = do(t, router, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusConflict, rr.Code, "templates with invoices are kept")

	rr = do(t, router, http.MethodGet, "/recurring-invoices?status=active", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decodeBody[listResponse[Template]](t, rr)
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, defaultPageSize, list.Pagination.Limit)
	assert.False(t, list.Pagination.HasMore)
}

func TestHandlerUpdateAndDelete(t *testing.T) {
	f := newFixture(t, d("2024-01-10"))
	router := newTestRouter(t, f, HandlerOptions{})
	tpl := f.create(t, baseRequest("weekly", "2024-01-15"))
	base := "/recurring-invoices/" + strconv.FormatInt(tpl.ID, 10)

	rr := do(t, router, http.MethodPatch, base, map[string]any{"name": "Renamed"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Renamed", decodeBody[Template](t, rr).Name)

	rr = do(t, router, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, router, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerErrors(t *testing.T) {
	f := newFixture(t, d("2024-01-10"))
	router := newTestRouter(t, f, HandlerOptions{})

	t.Run("unknown field", func(t *testing.T) {
		rr := do(t, router, http.MethodPost, "/recurring-invoices", map[string]any{"bogus": true})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("invalid frequency", func(t *testing.T) {
		rr := do(t, router, http.MethodPost, "/recurring-invoices", baseRequest("daily", "2024-01-31"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	})

	t.Run("malformed id", func(t *testing.T) {
		rr := do(t, router, http.MethodGet, "/recurring-invoices/abc", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("unknown template", func(t *testing.T) {
		rr := do(t, router, http.MethodPost, "/recurring-invoices/404/generate", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("bad paging", func(t *testing.T) {
		rr := do(t, router, http.MethodGet, "/recurring-invoices?limit=-1", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("missing company", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/recurring-invoices", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("persistence failure is retryable", func(t *testing.T) {
		tpl := f.create(t, baseRequest("monthly", "2024-01-31"))
		f.repo.failOn("ReserveNumber", errors.New("connection reset"))
		t.Cleanup(func() { f.repo.failOn("ReserveNumber", nil) })

		rr := do(t, router, http.MethodPost, "/recurring-invoices/"+strconv.FormatInt(tpl.ID, 10)+"/generate", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, "1", rr.Header().Get("Retry-After"))
		assert.NotContains(t, rr.Body.String(), "connection reset")
	})
}

func TestHandlerGenerateRateLimited(t *testing.T) {
	f := newFixture(t, d("2024-01-10"))
	router := newTestRouter(t, f, HandlerOptions{GenerateLimit: 2, GenerateWindow: time.Hour})
	tpl := f.create(t, baseRequest("weekly", "2024-01-15"))
	path := "/recurring-invoices/" + strconv.FormatInt(tpl.ID, 10) + "/generate"

	for i := 0; i < 2; i++ {
		rr := do(t, router, http.MethodPost, path, nil)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}
	rr := do(t, router, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestHandlerNumberingAndFromInvoice(t *testing.T) {
	f := newFixture(t, d("2024-01-10"))
	router := newTestRouter(t, f, HandlerOptions{})

	rr := do(t, router, http.MethodPut, "/recurring-invoices/numbering", map[string]any{"prefix": "ACME-", "next_sequence": 40})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, router, http.MethodGet, "/recurring-invoices/numbering", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ACME-00040")

	src := f.repo.seedInvoice(sourceInvoice(invoice.StatusSent, 2))
	path := "/recurring-invoices/from-invoice/" + strconv.FormatInt(src.ID, 10)
	rr = do(t, router, http.MethodPost, path, map[string]any{"name": "Globex seats", "frequency": "quarterly", "start_date": "2024-02-01"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	tpl := decodeBody[Template](t, rr)
	assert.Len(t, tpl.Lines, 2)
}

func TestHandlerSchedulePreview(t *testing.T) {
	f := newFixture(t, d("2024-01-10"))
	router := newTestRouter(t, f, HandlerOptions{})
	tpl := f.create(t, baseRequest("monthly", "2024-01-31"))
	base := "/recurring-invoices/" + strconv.FormatInt(tpl.ID, 10) + "/schedule"

	rr := do(t, router, http.MethodGet, base+"?count=3", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	out := decodeBody[struct {
		Data []string `json:"data"`
	}](t, rr)
	assert.Equal(t, []string{"2024-01-31", "2024-02-29", "2024-03-29"}, out.Data)

	rr = do(t, router, http.MethodGet, base+"?count=500", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
