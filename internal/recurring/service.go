package recurring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-recurring/internal/invoice"
	"github.com/odyssey-erp/odyssey-recurring/internal/numbering"
	"github.com/odyssey-erp/odyssey-recurring/internal/recurring/schedule"
	"github.com/odyssey-erp/odyssey-recurring/internal/shared"
)

const (
	dateLayout          = "2006-01-02"
	defaultCurrency     = "USD"
	defaultPaymentTerms = 30
	defaultPageSize     = 50
	maxPageSize         = 500
	defaultPreviewRuns  = 5
	maxPreviewRuns      = 36
)

// Metrics receives generation outcomes.
type Metrics interface {
	InvoiceGenerated(trigger string)
	GenerationFailed(reason string)
}

type noopMetrics struct{}

func (noopMetrics) InvoiceGenerated(string) {}
func (noopMetrics) GenerationFailed(string) {}

// Service implements the template lifecycle and the generation transaction.
type Service struct {
	repo         Repository
	validate     *validator.Validate
	logger       *slog.Logger
	metrics      Metrics
	clock        func() time.Time
	paymentTerms int
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the generation metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithDefaultPaymentTerms sets the due-date offset used when a template has none.
func WithDefaultPaymentTerms(days int) Option {
	return func(s *Service) {
		if days >= 0 {
			s.paymentTerms = days
		}
	}
}

// NewService constructs the service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		logger:       slog.Default(),
		metrics:      noopMetrics{},
		clock:        time.Now,
		paymentTerms: defaultPaymentTerms,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTemplate validates req and stores a new active template whose first run is its
// start date.
func (s *Service) CreateTemplate(ctx context.Context, companyID int64, req CreateTemplateRequest) (Template, error) {
	if err := s.validate.Struct(req); err != nil {
		return Template{}, validationError(err)
	}
	freq, err := parseFrequency(req.Frequency)
	if err != nil {
		return Template{}, err
	}
	start, end, err := parseWindow(req.StartDate, req.EndDate)
	if err != nil {
		return Template{}, err
	}
	lines, err := buildLines(req.Lines)
	if err != nil {
		return Template{}, err
	}
	discountType, err := parseDiscount(req.DiscountType, req.DiscountValue)
	if err != nil {
		return Template{}, err
	}

	t := Template{
		CompanyID:        companyID,
		Name:             strings.TrimSpace(req.Name),
		CustomerName:     strings.TrimSpace(req.CustomerName),
		CustomerEmail:    req.CustomerEmail,
		Currency:         normaliseCurrency(req.Currency),
		Frequency:        freq,
		StartDate:        start,
		EndDate:          end,
		NextRunDate:      start,
		Status:           StatusActive,
		DiscountType:     discountType,
		DiscountValue:    req.DiscountValue,
		Notes:            req.Notes,
		PaymentTermsDays: req.PaymentTermsDays,
		Lines:            lines,
	}
	t.applyTotals()

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.CreateTemplate(ctx, &t)
	})
	if err != nil {
		return Template{}, persistence("create template", err)
	}
	s.logger.Info("recurring template created",
		slog.Int64("company_id", companyID),
		slog.Int64("template_id", t.ID),
		slog.String("frequency", string(freq)),
	)
	return t, nil
}

// UpdateTemplate applies a partial update. Totals are recomputed only when the lines or
// the discount change, so totals copied from a source invoice survive metadata edits.
// Completed templates cannot be edited.
func (s *Service) UpdateTemplate(ctx context.Context, companyID, id int64, req UpdateTemplateRequest) (Template, error) {
	if err := s.validate.Struct(req); err != nil {
		return Template{}, validationError(err)
	}

	var updated Template
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		t, err := repo.LockTemplate(ctx, companyID, id)
		if err != nil {
			return err
		}
		if t.Status == StatusCompleted {
			return fmt.Errorf("%w: cannot edit a completed template", ErrInvalidState)
		}
		replaceLines, err := applyUpdate(&t, req)
		if err != nil {
			return err
		}
		if replaceLines || req.DiscountType != nil || req.DiscountValue != nil {
			t.applyTotals()
		}
		if err := repo.UpdateTemplate(ctx, &t, replaceLines); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return Template{}, persistence("update template", err)
	}
	return updated, nil
}

func applyUpdate(t *Template, req UpdateTemplateRequest) (bool, error) {
	if req.Name != nil {
		t.Name = strings.TrimSpace(*req.Name)
	}
	if req.CustomerName != nil {
		t.CustomerName = strings.TrimSpace(*req.CustomerName)
	}
	if req.CustomerEmail != nil {
		t.CustomerEmail = req.CustomerEmail
	}
	if req.Currency != nil {
		t.Currency = normaliseCurrency(*req.Currency)
	}
	if req.Notes != nil {
		t.Notes = req.Notes
	}
	if req.PaymentTermsDays != nil {
		t.PaymentTermsDays = req.PaymentTermsDays
	}
	if req.Frequency != nil {
		freq, err := parseFrequency(*req.Frequency)
		if err != nil {
			return false, err
		}
		t.Frequency = freq
	}
	if req.StartDate != nil {
		start, err := parseDate("start_date", *req.StartDate)
		if err != nil {
			return false, err
		}
		t.StartDate = start
		if t.LastGeneratedAt == nil {
			t.NextRunDate = start
		}
	}
	switch {
	case req.ClearEndDate:
		t.EndDate = nil
	case req.EndDate != nil:
		end, err := parseDate("end_date", *req.EndDate)
		if err != nil {
			return false, err
		}
		t.EndDate = &end
	}
	if t.EndDate != nil && t.EndDate.Before(t.StartDate) {
		return false, fmt.Errorf("%w: end_date must not precede start_date", ErrValidation)
	}

	if req.DiscountType != nil {
		t.DiscountType = DiscountType(*req.DiscountType)
	}
	if req.DiscountValue != nil {
		t.DiscountValue = *req.DiscountValue
	}
	if req.DiscountType != nil || req.DiscountValue != nil {
		dt, err := parseDiscount(string(t.DiscountType), t.DiscountValue)
		if err != nil {
			return false, err
		}
		t.DiscountType = dt
	}

	if req.Lines == nil {
		return false, nil
	}
	lines, err := buildLines(*req.Lines)
	if err != nil {
		return false, err
	}
	t.Lines = lines
	return true, nil
}

// GetTemplate loads one template with its lines.
func (s *Service) GetTemplate(ctx context.Context, companyID, id int64) (Template, error) {
	t, err := s.repo.GetTemplate(ctx, companyID, id)
	if err != nil {
		return Template{}, persistence("get template", err)
	}
	return t, nil
}

// UpcomingRuns previews up to count scheduled run dates starting at the template's next
// run date. Completed templates have none.
func (s *Service) UpcomingRuns(ctx context.Context, companyID, id int64, count int) ([]time.Time, error) {
	if count <= 0 {
		count = defaultPreviewRuns
	}
	if count > maxPreviewRuns {
		return nil, fmt.Errorf("%w: count must not exceed %d", ErrValidation, maxPreviewRuns)
	}
	t, err := s.GetTemplate(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusCompleted {
		return []time.Time{}, nil
	}
	runs, err := schedule.Occurrences(t.NextRunDate, t.Frequency, t.EndDate, count)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return runs, nil
}

// ListTemplates returns one page of a company's templates, newest first, and the total
// matching the filter.
func (s *Service) ListTemplates(ctx context.Context, filter ListFilter) ([]Template, int, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, *filter.Status)
	}
	filter.Limit, filter.Offset = page(filter.Limit, filter.Offset)
	out, total, err := s.repo.ListTemplates(ctx, filter)
	if err != nil {
		return nil, 0, persistence("list templates", err)
	}
	return out, total, nil
}

// DeleteTemplate removes a template that has never produced an invoice.
func (s *Service) DeleteTemplate(ctx context.Context, companyID, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.LockTemplate(ctx, companyID, id); err != nil {
			return err
		}
		n, err := repo.CountInvoices(ctx, companyID, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: template has %d generated invoices", ErrInvalidState, n)
		}
		return repo.DeleteTemplate(ctx, companyID, id)
	})
	return persistence("delete template", err)
}

// Pause moves an active template to paused.
func (s *Service) Pause(ctx context.Context, companyID, id int64) (Template, error) {
	return s.transition(ctx, companyID, id, "pause", func(t *Template) error {
		if t.Status != StatusActive {
			return fmt.Errorf("%w: cannot pause a %s template", ErrInvalidState, t.Status)
		}
		t.Status = StatusPaused
		return nil
	})
}

// Resume moves a paused template back to active. A next run date that fell behind while
// paused is caught up to today in one step.
func (s *Service) Resume(ctx context.Context, companyID, id int64) (Template, error) {
	today := dateOnly(s.clock())
	return s.transition(ctx, companyID, id, "resume", func(t *Template) error {
		if t.Status != StatusPaused {
			return fmt.Errorf("%w: cannot resume a %s template", ErrInvalidState, t.Status)
		}
		next, err := schedule.AdvanceUntil(t.NextRunDate, t.Frequency, today)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if t.EndDate != nil && next.After(*t.EndDate) {
			return fmt.Errorf("%w: schedule ended on %s while paused; extend end_date first",
				ErrInvalidState, t.EndDate.Format(dateLayout))
		}
		t.NextRunDate = next
		t.Status = StatusActive
		return nil
	})
}

func (s *Service) transition(ctx context.Context, companyID, id int64, op string, apply func(*Template) error) (Template, error) {
	var out Template
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		t, err := repo.LockTemplate(ctx, companyID, id)
		if err != nil {
			return err
		}
		from := t.Status
		if err := apply(&t); err != nil {
			s.logger.Warn("recurring transition rejected",
				slog.String("op", op),
				slog.Int64("company_id", companyID),
				slog.Int64("template_id", id),
				slog.String("status", string(from)),
			)
			return err
		}
		if err := repo.UpdateSchedule(ctx, companyID, id, t.Status, t.NextRunDate); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return Template{}, persistence(op, err)
	}
	return out, nil
}

// GenerateNow produces one invoice from the template regardless of its next run date.
// Every call that succeeds creates exactly one invoice and advances the schedule once.
func (s *Service) GenerateNow(ctx context.Context, companyID, id int64) (GenerationResult, error) {
	return s.generate(ctx, companyID, id, TriggerManual, nil)
}

// GenerateScheduled generates for the occurrence dated slot. It returns ErrNotDue when,
// under the template lock, the template is no longer active or has moved past slot.
func (s *Service) GenerateScheduled(ctx context.Context, companyID, id int64, slot time.Time) (GenerationResult, error) {
	slot = dateOnly(slot)
	return s.generate(ctx, companyID, id, TriggerSchedule, &slot)
}

func (s *Service) generate(ctx context.Context, companyID, id int64, trigger Trigger, slot *time.Time) (GenerationResult, error) {
	now := s.clock().UTC()
	var result GenerationResult

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		t, err := repo.LockTemplate(ctx, companyID, id)
		if err != nil {
			return err
		}
		if t.Status == StatusCompleted {
			return fmt.Errorf("%w: cannot generate from a completed template", ErrInvalidState)
		}
		if slot != nil && (t.Status != StatusActive || !dateOnly(t.NextRunDate).Equal(*slot)) {
			return fmt.Errorf("%w: template %d is %s with next run %s", ErrNotDue,
				id, t.Status, t.NextRunDate.Format(dateLayout))
		}
		if len(t.Lines) == 0 {
			return fmt.Errorf("%w: template has no line items", ErrValidation)
		}

		next, err := schedule.Advance(t.NextRunDate, t.Frequency)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		status := t.Status
		if t.EndDate != nil && next.After(*t.EndDate) {
			if t.Status == StatusPaused {
				return fmt.Errorf("%w: resume the template before generating its final invoice", ErrInvalidState)
			}
			status = StatusCompleted
			next = *t.EndDate
		}

		reservation, err := repo.ReserveNumber(ctx, companyID)
		if err != nil {
			return err
		}

		inv := s.materialize(t, reservation, now)
		if err := repo.InsertInvoice(ctx, &inv); err != nil {
			return err
		}
		if err := repo.InsertInvoiceLines(ctx, inv.ID, inv.Lines); err != nil {
			return err
		}

		if err := repo.RecordGeneration(ctx, companyID, id, status, next, now); err != nil {
			return err
		}

		result = GenerationResult{
			InvoiceID:     inv.ID,
			InvoiceNumber: inv.Number,
			Status:        status,
		}
		if status != StatusCompleted {
			result.NextRunDate = &next
		}
		return nil
	})
	if err != nil {
		err = persistence("generate", err)
		if !errors.Is(err, ErrNotDue) {
			s.metrics.GenerationFailed(failureReason(err))
			s.logger.Error("recurring generation failed",
				slog.Int64("company_id", companyID),
				slog.Int64("template_id", id),
				slog.String("trigger", string(trigger)),
				slog.Any("error", err),
			)
		}
		return GenerationResult{}, err
	}

	s.metrics.InvoiceGenerated(string(trigger))
	attrs := []any{
		slog.Int64("company_id", companyID),
		slog.Int64("template_id", id),
		slog.Int64("invoice_id", result.InvoiceID),
		slog.String("invoice_number", result.InvoiceNumber),
		slog.String("status", string(result.Status)),
		slog.String("trigger", string(trigger)),
	}
	if result.NextRunDate != nil {
		attrs = append(attrs, slog.String("next_run_date", result.NextRunDate.Format(dateLayout)))
	}
	s.logger.Info("recurring invoice generated", attrs...)
	return result, nil
}

// materialize copies the template snapshot into a draft invoice. Header totals are
// taken from the snapshot as stored; line tax and totals are recomputed per line.
func (s *Service) materialize(t Template, res numbering.Reservation, now time.Time) invoice.Invoice {
	terms := s.paymentTerms
	if t.PaymentTermsDays != nil {
		terms = *t.PaymentTermsDays
	}
	issue := dateOnly(now)
	templateID := t.ID

	return invoice.Invoice{
		CompanyID:           t.CompanyID,
		Number:              res.Number,
		Sequence:            res.Sequence,
		CustomerName:        t.CustomerName,
		CustomerEmail:       t.CustomerEmail,
		Currency:            t.Currency,
		Status:              invoice.StatusDraft,
		IssueDate:           issue,
		DueDate:             issue.AddDate(0, 0, terms),
		PaymentTermsDays:    lo.ToPtr(terms),
		DiscountType:        string(t.DiscountType),
		DiscountValue:       t.DiscountValue,
		Subtotal:            t.Subtotal,
		TaxAmount:           t.TaxAmount,
		DiscountAmount:      t.DiscountAmount,
		Total:               t.Total,
		Notes:               t.Notes,
		RecurringTemplateID: &templateID,
		Lines: lo.Map(t.Lines, func(line TemplateLine, i int) invoice.Line {
			_, tax, total := LineAmounts(line.Quantity, line.UnitPrice, line.TaxRate)
			return invoice.Line{
				LineOrder:     i + 1,
				Name:          line.Name,
				Quantity:      line.Quantity,
				UnitPrice:     line.UnitPrice,
				TaxRate:       line.TaxRate,
				TaxAmount:     tax,
				LineTotal:     total,
				CatalogItemID: line.CatalogItemID,
			}
		}),
	}
}

// CreateFromInvoice seeds a new active template from an existing invoice. The invoice is
// only marked as the series source.
func (s *Service) CreateFromInvoice(ctx context.Context, companyID, invoiceID int64, req FromInvoiceRequest) (Template, error) {
	if err := s.validate.Struct(req); err != nil {
		return Template{}, validationError(err)
	}
	freq, err := parseFrequency(req.Frequency)
	if err != nil {
		return Template{}, err
	}
	start, end, err := parseWindow(req.StartDate, req.EndDate)
	if err != nil {
		return Template{}, err
	}

	var t Template
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		src, err := repo.GetInvoice(ctx, companyID, invoiceID)
		if err != nil {
			return err
		}
		if src.Status.Closed() {
			return fmt.Errorf("%w: invoice %s is %s", ErrValidation, src.Number, src.Status)
		}
		if len(src.Lines) == 0 {
			return fmt.Errorf("%w: invoice %s has no line items", ErrValidation, src.Number)
		}

		terms := src.PaymentTermsDays
		if req.PaymentTermsDays != nil {
			terms = req.PaymentTermsDays
		}
		discountType := DiscountType(src.DiscountType)
		if discountType == "" {
			discountType = DiscountNone
		}
		t = Template{
			CompanyID:        companyID,
			Name:             strings.TrimSpace(req.Name),
			CustomerName:     src.CustomerName,
			CustomerEmail:    src.CustomerEmail,
			Currency:         src.Currency,
			Frequency:        freq,
			StartDate:        start,
			EndDate:          end,
			NextRunDate:      start,
			Status:           StatusActive,
			DiscountType:     discountType,
			DiscountValue:    src.DiscountValue,
			Notes:            src.Notes,
			PaymentTermsDays: terms,
			Subtotal:         src.Subtotal,
			TaxAmount:        src.TaxAmount,
			DiscountAmount:   src.DiscountAmount,
			Total:            src.Total,
			SourceInvoiceID:  &src.ID,
			Lines: lo.Map(src.Lines, func(line invoice.Line, i int) TemplateLine {
				return TemplateLine{
					LineOrder:     i + 1,
					Name:          line.Name,
					Quantity:      line.Quantity,
					UnitPrice:     line.UnitPrice,
					TaxRate:       line.TaxRate,
					CatalogItemID: line.CatalogItemID,
				}
			}),
		}
		if err := repo.CreateTemplate(ctx, &t); err != nil {
			return err
		}
		return repo.MarkInvoiceSource(ctx, companyID, src.ID, t.ID)
	})
	if err != nil {
		return Template{}, persistence("create from invoice", err)
	}
	s.logger.Info("recurring template created from invoice",
		slog.Int64("company_id", companyID),
		slog.Int64("template_id", t.ID),
		slog.Int64("invoice_id", invoiceID),
	)
	return t, nil
}

// ListGeneratedInvoices returns the template's invoices newest first.
func (s *Service) ListGeneratedInvoices(ctx context.Context, companyID, templateID int64, limit, offset int) ([]invoice.Summary, error) {
	if _, err := s.repo.GetTemplate(ctx, companyID, templateID); err != nil {
		return nil, persistence("list generated invoices", err)
	}
	limit, offset = page(limit, offset)
	out, err := s.repo.ListInvoices(ctx, companyID, templateID, limit, offset)
	if err != nil {
		return nil, persistence("list generated invoices", err)
	}
	return out, nil
}

// ListDue returns active templates of every company whose next run is on or before
// asOf, oldest first.
func (s *Service) ListDue(ctx context.Context, asOf time.Time, limit int) ([]DueTemplate, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	out, err := s.repo.ListDue(ctx, dateOnly(asOf), limit)
	if err != nil {
		return nil, persistence("list due", err)
	}
	return out, nil
}

// Numbering returns the company's numbering state.
func (s *Service) Numbering(ctx context.Context, companyID int64) (numbering.State, error) {
	state, err := s.repo.NumberingState(ctx, companyID)
	if err != nil {
		return numbering.State{}, persistence("numbering", err)
	}
	return state, nil
}

// ConfigureNumbering changes the prefix or moves the sequence forward.
func (s *Service) ConfigureNumbering(ctx context.Context, companyID int64, req NumberingRequest) (numbering.State, error) {
	if err := s.validate.Struct(req); err != nil {
		return numbering.State{}, validationError(err)
	}
	var state numbering.State
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		state, err = repo.ConfigureNumbering(ctx, companyID, req.Prefix, req.NextSequence)
		return err
	})
	if err != nil {
		return numbering.State{}, persistence("configure numbering", err)
	}
	return state, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "persistence"
	}
}

func parseFrequency(raw string) (schedule.Frequency, error) {
	freq, err := schedule.ParseFrequency(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		allowed := lo.Map(schedule.Frequencies(), func(f schedule.Frequency, _ int) string { return string(f) })
		return "", fmt.Errorf("%w: %v (allowed: %s)", ErrValidation, err, strings.Join(allowed, ", "))
	}
	return freq, nil
}

func parseDate(field, raw string) (time.Time, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", ErrValidation, field)
	}
	return d, nil
}

func parseWindow(rawStart string, rawEnd *string) (time.Time, *time.Time, error) {
	start, err := parseDate("start_date", rawStart)
	if err != nil {
		return time.Time{}, nil, err
	}
	if rawEnd == nil {
		return start, nil, nil
	}
	end, err := parseDate("end_date", *rawEnd)
	if err != nil {
		return time.Time{}, nil, err
	}
	if end.Before(start) {
		return time.Time{}, nil, fmt.Errorf("%w: end_date must not precede start_date", ErrValidation)
	}
	return start, &end, nil
}

func parseDiscount(raw string, value decimal.Decimal) (DiscountType, error) {
	dt := DiscountType(raw)
	if dt == "" {
		dt = DiscountNone
	}
	if value.IsNegative() {
		return "", fmt.Errorf("%w: discount_value must not be negative", ErrValidation)
	}
	if !fitsNumeric(value, 18, moneyPlaces) {
		return "", fmt.Errorf("%w: discount_value allows at most %d decimal places", ErrValidation, moneyPlaces)
	}
	switch dt {
	case DiscountNone, DiscountFixed:
	case DiscountPercent:
		if value.GreaterThan(hundred) {
			return "", fmt.Errorf("%w: percent discount must not exceed 100", ErrValidation)
		}
	default:
		return "", fmt.Errorf("%w: unknown discount_type %q", ErrValidation, raw)
	}
	return dt, nil
}

func buildLines(in []LineInput) ([]TemplateLine, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: at least one line item is required", ErrValidation)
	}
	out := make([]TemplateLine, 0, len(in))
	for i, l := range in {
		switch {
		case strings.TrimSpace(l.Name) == "":
			return nil, fmt.Errorf("%w: lines[%d].name is required", ErrValidation, i)
		case !l.Quantity.IsPositive():
			return nil, fmt.Errorf("%w: lines[%d].quantity must be positive", ErrValidation, i)
		case l.UnitPrice.IsNegative():
			return nil, fmt.Errorf("%w: lines[%d].unit_price must not be negative", ErrValidation, i)
		case l.TaxRate.IsNegative() || l.TaxRate.GreaterThan(hundred):
			return nil, fmt.Errorf("%w: lines[%d].tax_rate must be between 0 and 100", ErrValidation, i)
		case !fitsNumeric(l.Quantity, 18, quantityPlaces):
			return nil, fmt.Errorf("%w: lines[%d].quantity allows at most %d decimal places", ErrValidation, i, quantityPlaces)
		case !fitsNumeric(l.UnitPrice, 18, moneyPlaces):
			return nil, fmt.Errorf("%w: lines[%d].unit_price allows at most %d decimal places", ErrValidation, i, moneyPlaces)
		case !fitsNumeric(l.TaxRate, 7, ratePlaces):
			return nil, fmt.Errorf("%w: lines[%d].tax_rate allows at most %d decimal places", ErrValidation, i, ratePlaces)
		}
		out = append(out, TemplateLine{
			LineOrder:     i + 1,
			Name:          strings.TrimSpace(l.Name),
			Quantity:      l.Quantity,
			UnitPrice:     l.UnitPrice,
			TaxRate:       l.TaxRate,
			CatalogItemID: l.CatalogItemID,
		})
	}
	return out, nil
}

func normaliseCurrency(raw string) string {
	c := strings.ToUpper(strings.TrimSpace(raw))
	if c == "" {
		return defaultCurrency
	}
	return c
}

func page(limit, offset int) (int, int) {
	return shared.PageBounds(limit, offset, defaultPageSize, maxPageSize)
}
