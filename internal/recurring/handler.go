package recurring

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/odyssey-recurring/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-recurring/internal/shared"
)

// Handler exposes the template lifecycle over JSON.
type Handler struct {
	logger        *slog.Logger
	service       *Service
	generateLimit func(http.Handler) http.Handler
}

// HandlerOptions tunes the handler.
type HandlerOptions struct {
	// GenerateLimit caps generate-now calls per company within GenerateWindow.
	GenerateLimit  int
	GenerateWindow time.Duration
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service, opts HandlerOptions) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.GenerateLimit <= 0 {
		opts.GenerateLimit = 10
	}
	if opts.GenerateWindow <= 0 {
		opts.GenerateWindow = time.Minute
	}
	limiter := httprate.Limit(opts.GenerateLimit, opts.GenerateWindow,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			companyID, _ := shared.CompanyIDFromContext(r.Context())
			return strconv.FormatInt(companyID, 10), nil
		}),
	)
	return &Handler{logger: logger, service: service, generateLimit: limiter}
}

type listResponse[T any] struct {
	Data       []T               `json:"data"`
	Total      int               `json:"total"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.company(w, r)
	if !ok {
		return
	}
	filter := ListFilter{CompanyID: companyID}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := Status(raw)
		filter.Status = &status
	}
	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		h.writeError(w, r, err)
		return
	}

	filter.Limit, filter.Offset = page(filter.Limit, filter.Offset)

	templates, total, err := h.service.ListTemplates(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if templates == nil {
		templates = []Template{}
	}
	httpx.JSON(w, http.StatusOK, listResponse[Template]{
		Data:       templates,
		Total:      total,
		Pagination: shared.NewPagination(filter.Limit, filter.Offset, total),
	})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.company(w, r)
	if !ok {
		return
	}
	var req CreateTemplateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tpl, err := h.service.CreateTemplate(r.Context(), companyID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tpl)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	tpl, err := h.service.GetTemplate(r.Context(), companyID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tpl)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req UpdateTemplateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tpl, err := h.service.UpdateTemplate(r.Context(), companyID, id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tpl)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteTemplate(r.Context(), companyID, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	tpl, err := h.service.Pause(r.Context(), companyID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tpl)
}

func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	tpl, err := h.service.Resume(r.Context(), companyID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tpl)
}

func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	res, err := h.service.GenerateNow(r.Context(), companyID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) Invoices(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.service.ListGeneratedInvoices(r.Context(), companyID, id, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": emptyIfNil(out)})
}

func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	count, err := queryInt(r, "count")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	runs, err := h.service.UpcomingRuns(r.Context(), companyID, id, count)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dates := make([]string, 0, len(runs))
	for _, d := range runs {
		dates = append(dates, d.Format(dateLayout))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": dates})
}

func (h *Handler) CreateFromInvoice(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.company(w, r)
	if !ok {
		return
	}
	invoiceID, err := pathID(r, "invoiceID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req FromInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tpl, err := h.service.CreateFromInvoice(r.Context(), companyID, invoiceID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tpl)
}

func (h *Handler) ShowNumbering(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.company(w, r)
	if !ok {
		return
	}
	state, err := h.service.Numbering(r.Context(), companyID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, state)
}

func (h *Handler) UpdateNumbering(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.company(w, r)
	if !ok {
		return
	}
	var req NumberingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	state, err := h.service.ConfigureNumbering(r.Context(), companyID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, state)
}

func (h *Handler) company(w http.ResponseWriter, r *http.Request) (int64, bool) {
	companyID, ok := shared.CompanyIDFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, fmt.Errorf("%w: company not resolved", httpx.ErrUnauthorized))
		return 0, false
	}
	return companyID, true
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	companyID, ok := h.company(w, r)
	if !ok {
		return 0, 0, false
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return 0, 0, false
	}
	return companyID, id, true
}

// writeError maps domain errors onto problem responses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var mapped error
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, httpx.ErrValidation):
		mapped = fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error())
	case errors.Is(err, ErrNotFound):
		mapped = fmt.Errorf("%w: %s", httpx.ErrNotFound, err.Error())
	case errors.Is(err, ErrInvalidState):
		mapped = fmt.Errorf("%w: %s", httpx.ErrConflict, err.Error())
	case errors.Is(err, ErrPersistence):
		h.logger.Warn("recurring request failed, retryable",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		mapped = fmt.Errorf("%w: please retry", httpx.ErrUnavailable)
	default:
		h.logger.Error("recurring request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		mapped = err
	}
	httpx.RespondError(w, mapped)
}

func pathID(r *http.Request, param string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", ErrValidation, param)
	}
	return id, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrValidation, key)
	}
	return v, nil
}

func emptyIfNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
