package recurring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"github.com/odyssey-erp/odyssey-recurring/internal/invoice"
	"github.com/odyssey-erp/odyssey-recurring/internal/numbering"
	"github.com/odyssey-erp/odyssey-recurring/internal/platform/db"
	"github.com/odyssey-erp/odyssey-recurring/internal/recurring/schedule"
)

// Repository persists templates and the invoices generated from them.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	CreateTemplate(ctx context.Context, t *Template) error
	UpdateTemplate(ctx context.Context, t *Template, replaceLines bool) error
	GetTemplate(ctx context.Context, companyID, id int64) (Template, error)
	LockTemplate(ctx context.Context, companyID, id int64) (Template, error)
	ListTemplates(ctx context.Context, filter ListFilter) ([]Template, int, error)
	DeleteTemplate(ctx context.Context, companyID, id int64) error
	UpdateSchedule(ctx context.Context, companyID, id int64, status Status, nextRun time.Time) error
	RecordGeneration(ctx context.Context, companyID, id int64, status Status, nextRun, generatedAt time.Time) error
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]DueTemplate, error)

	ReserveNumber(ctx context.Context, companyID int64) (numbering.Reservation, error)
	NumberingState(ctx context.Context, companyID int64) (numbering.State, error)
	ConfigureNumbering(ctx context.Context, companyID int64, prefix string, next *int64) (numbering.State, error)

	InsertInvoice(ctx context.Context, inv *invoice.Invoice) error
	InsertInvoiceLines(ctx context.Context, invoiceID int64, lines []invoice.Line) error
	GetInvoice(ctx context.Context, companyID, id int64) (invoice.Invoice, error)
	MarkInvoiceSource(ctx context.Context, companyID, invoiceID, templateID int64) error
	ListInvoices(ctx context.Context, companyID, templateID int64, limit, offset int) ([]invoice.Summary, error)
	CountInvoices(ctx context.Context, companyID, templateID int64) (int, error)
}

type repository struct {
	pool     *pgxpool.Pool
	db       db.DBTX
	inTx     bool
	numbers  *numbering.Authority
	invoices *invoice.Store
}

// NewRepository constructs the Postgres repository.
func NewRepository(pool *pgxpool.Pool, numbers *numbering.Authority) Repository {
	if numbers == nil {
		numbers = numbering.NewAuthority()
	}
	return &repository{
		pool:     pool,
		db:       pool,
		numbers:  numbers,
		invoices: invoice.NewStore(pool),
	}
}

// WithTx runs fn in a read-committed transaction. Isolation between concurrent
// generations comes from the template row lock and the numbering upsert, both held to
// commit. Calls on a repository already inside a transaction reuse it.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if r.inTx {
		return fn(ctx, r)
	}
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &repository{
			pool:     r.pool,
			db:       tx,
			inTx:     true,
			numbers:  r.numbers,
			invoices: invoice.NewStore(tx),
		})
	})
}

const templateColumns = `
	t.id, t.company_id, t.name, t.customer_name, t.customer_email, t.currency, t.frequency,
	t.start_date, t.end_date, t.next_run_date, t.last_generated_at, t.status,
	t.discount_type, t.discount_value, t.notes, t.payment_terms_days,
	t.subtotal, t.tax_amount, t.discount_amount, t.total, t.source_invoice_id,
	t.created_at, t.updated_at,
	(SELECT COUNT(*) FROM invoices i WHERE i.recurring_template_id = t.id) AS generated_count`

func scanTemplate(row pgx.Row) (Template, error) {
	var t Template
	var frequency, status, discount string
	err := row.Scan(
		&t.ID, &t.CompanyID, &t.Name, &t.CustomerName, &t.CustomerEmail, &t.Currency, &frequency,
		&t.StartDate, &t.EndDate, &t.NextRunDate, &t.LastGeneratedAt, &status,
		&discount, &t.DiscountValue, &t.Notes, &t.PaymentTermsDays,
		&t.Subtotal, &t.TaxAmount, &t.DiscountAmount, &t.Total, &t.SourceInvoiceID,
		&t.CreatedAt, &t.UpdatedAt, &t.GeneratedCount,
	)
	if err != nil {
		return Template{}, err
	}
	t.Frequency = schedule.Frequency(frequency)
	t.Status = Status(status)
	t.DiscountType = DiscountType(discount)
	return t, nil
}

func (r *repository) CreateTemplate(ctx context.Context, t *Template) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO recurring_templates (
			company_id, name, customer_name, customer_email, currency, frequency,
			start_date, end_date, next_run_date, status, discount_type, discount_value,
			notes, payment_terms_days, subtotal, tax_amount, discount_amount, total,
			source_invoice_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		t.CompanyID, t.Name, t.CustomerName, t.CustomerEmail, t.Currency, string(t.Frequency),
		t.StartDate, t.EndDate, t.NextRunDate, string(t.Status), string(t.DiscountType), t.DiscountValue,
		t.Notes, t.PaymentTermsDays, t.Subtotal, t.TaxAmount, t.DiscountAmount, t.Total,
		t.SourceInvoiceID,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return r.insertLines(ctx, t)
}

func (r *repository) insertLines(ctx context.Context, t *Template) error {
	for i := range t.Lines {
		line := &t.Lines[i]
		line.TemplateID = t.ID
		line.LineOrder = i + 1
		err := r.db.QueryRow(ctx, `
			INSERT INTO recurring_template_lines (
				template_id, line_order, name, quantity, unit_price, tax_rate, catalog_item_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			line.TemplateID, line.LineOrder, line.Name, line.Quantity, line.UnitPrice,
			line.TaxRate, line.CatalogItemID,
		).Scan(&line.ID)
		if err != nil {
			return fmt.Errorf("insert template line %d: %w", line.LineOrder, err)
		}
	}
	return nil
}

func (r *repository) UpdateTemplate(ctx context.Context, t *Template, replaceLines bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE recurring_templates SET
			name = $3, customer_name = $4, customer_email = $5, currency = $6, frequency = $7,
			start_date = $8, end_date = $9, next_run_date = $10, discount_type = $11,
			discount_value = $12, notes = $13, payment_terms_days = $14, subtotal = $15,
			tax_amount = $16, discount_amount = $17, total = $18, updated_at = NOW()
		WHERE company_id = $1 AND id = $2`,
		t.CompanyID, t.ID, t.Name, t.CustomerName, t.CustomerEmail, t.Currency, string(t.Frequency),
		t.StartDate, t.EndDate, t.NextRunDate, string(t.DiscountType),
		t.DiscountValue, t.Notes, t.PaymentTermsDays, t.Subtotal,
		t.TaxAmount, t.DiscountAmount, t.Total,
	)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: template %d", ErrNotFound, t.ID)
	}
	if !replaceLines {
		return nil
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM recurring_template_lines WHERE template_id = $1`, t.ID); err != nil {
		return fmt.Errorf("delete template lines: %w", err)
	}
	return r.insertLines(ctx, t)
}

func (r *repository) GetTemplate(ctx context.Context, companyID, id int64) (Template, error) {
	return r.loadTemplate(ctx, companyID, id, "")
}

// LockTemplate loads the template and holds its row lock until the transaction ends.
func (r *repository) LockTemplate(ctx context.Context, companyID, id int64) (Template, error) {
	return r.loadTemplate(ctx, companyID, id, "FOR UPDATE OF t")
}

func (r *repository) loadTemplate(ctx context.Context, companyID, id int64, lock string) (Template, error) {
	query := `SELECT ` + templateColumns + `
		FROM recurring_templates t
		WHERE t.company_id = $1 AND t.id = $2 ` + lock
	t, err := scanTemplate(r.db.QueryRow(ctx, query, companyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Template{}, fmt.Errorf("%w: template %d", ErrNotFound, id)
	}
	if err != nil {
		return Template{}, fmt.Errorf("get template: %w", err)
	}
	lines, err := r.loadLines(ctx, r.db, []int64{t.ID})
	if err != nil {
		return Template{}, err
	}
	t.Lines = lines[t.ID]
	return t, nil
}

func (r *repository) loadLines(ctx context.Context, q db.DBTX, ids []int64) (map[int64][]TemplateLine, error) {
	if len(ids) == 0 {
		return map[int64][]TemplateLine{}, nil
	}
	rows, err := q.Query(ctx, `
		SELECT id, template_id, line_order, name, quantity, unit_price, tax_rate, catalog_item_id
		FROM recurring_template_lines
		WHERE template_id = ANY($1)
		ORDER BY template_id, line_order`, ids)
	if err != nil {
		return nil, fmt.Errorf("get template lines: %w", err)
	}
	defer rows.Close()

	var all []TemplateLine
	for rows.Next() {
		var line TemplateLine
		if err := rows.Scan(&line.ID, &line.TemplateID, &line.LineOrder, &line.Name,
			&line.Quantity, &line.UnitPrice, &line.TaxRate, &line.CatalogItemID); err != nil {
			return nil, fmt.Errorf("scan template line: %w", err)
		}
		all = append(all, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get template lines: %w", err)
	}
	return lo.GroupBy(all, func(line TemplateLine) int64 { return line.TemplateID }), nil
}

// ListTemplates reads the page and the total from one snapshot.
func (r *repository) ListTemplates(ctx context.Context, filter ListFilter) ([]Template, int, error) {
	if r.inTx {
		return r.listTemplates(ctx, r.db, filter)
	}
	var (
		out   []Template
		total int
	)
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		out, total, err = r.listTemplates(ctx, tx, filter)
		return err
	})
	return out, total, err
}

func (r *repository) listTemplates(ctx context.Context, q db.DBTX, filter ListFilter) ([]Template, int, error) {
	conditions := []string{"t.company_id = $1"}
	args := []any{filter.CompanyID}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conditions = append(conditions, fmt.Sprintf("t.status = $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM recurring_templates t WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count templates: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s
		FROM recurring_templates t
		WHERE %s
		ORDER BY t.id DESC
		LIMIT $%d OFFSET $%d`, templateColumns, where, len(args)-1, len(args))
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list templates: %w", err)
	}
	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list templates: %w", err)
	}

	lines, err := r.loadLines(ctx, q, lo.Map(out, func(t Template, _ int) int64 { return t.ID }))
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, total, nil
}

func (r *repository) DeleteTemplate(ctx context.Context, companyID, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM recurring_templates WHERE company_id = $1 AND id = $2`, companyID, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: template %d", ErrNotFound, id)
	}
	return nil
}

func (r *repository) UpdateSchedule(ctx context.Context, companyID, id int64, status Status, nextRun time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE recurring_templates SET status = $3, next_run_date = $4, updated_at = NOW()
		WHERE company_id = $1 AND id = $2`,
		companyID, id, string(status), nextRun)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: template %d", ErrNotFound, id)
	}
	return nil
}

func (r *repository) RecordGeneration(ctx context.Context, companyID, id int64, status Status, nextRun, generatedAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE recurring_templates
		SET status = $3, next_run_date = $4, last_generated_at = $5, updated_at = NOW()
		WHERE company_id = $1 AND id = $2`,
		companyID, id, string(status), nextRun, generatedAt)
	if err != nil {
		return fmt.Errorf("record generation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: template %d", ErrNotFound, id)
	}
	return nil
}

func (r *repository) ListDue(ctx context.Context, asOf time.Time, limit int) ([]DueTemplate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, company_id, next_run_date
		FROM recurring_templates
		WHERE status = 'active' AND next_run_date <= $1
		ORDER BY next_run_date, id
		LIMIT $2`, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("list due templates: %w", err)
	}
	defer rows.Close()
	var out []DueTemplate
	for rows.Next() {
		var d DueTemplate
		if err := rows.Scan(&d.ID, &d.CompanyID, &d.NextRunDate); err != nil {
			return nil, fmt.Errorf("scan due template: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *repository) ReserveNumber(ctx context.Context, companyID int64) (numbering.Reservation, error) {
	return r.numbers.Reserve(ctx, r.db, companyID)
}

func (r *repository) NumberingState(ctx context.Context, companyID int64) (numbering.State, error) {
	return r.numbers.Peek(ctx, r.db, companyID)
}

func (r *repository) ConfigureNumbering(ctx context.Context, companyID int64, prefix string, next *int64) (numbering.State, error) {
	state, err := r.numbers.Configure(ctx, r.db, companyID, prefix, next)
	if errors.Is(err, numbering.ErrInvalidConfig) {
		return numbering.State{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return state, err
}

func (r *repository) InsertInvoice(ctx context.Context, inv *invoice.Invoice) error {
	return r.invoices.InsertHeader(ctx, inv)
}

func (r *repository) InsertInvoiceLines(ctx context.Context, invoiceID int64, lines []invoice.Line) error {
	return r.invoices.InsertLines(ctx, invoiceID, lines)
}

func (r *repository) GetInvoice(ctx context.Context, companyID, id int64) (invoice.Invoice, error) {
	inv, err := r.invoices.Get(ctx, companyID, id)
	if errors.Is(err, invoice.ErrNotFound) {
		return invoice.Invoice{}, fmt.Errorf("%w: source invoice %d", ErrNotFound, id)
	}
	return inv, err
}

func (r *repository) MarkInvoiceSource(ctx context.Context, companyID, invoiceID, templateID int64) error {
	err := r.invoices.MarkRecurringSource(ctx, companyID, invoiceID, templateID)
	if errors.Is(err, invoice.ErrNotFound) {
		return fmt.Errorf("%w: source invoice %d", ErrNotFound, invoiceID)
	}
	return err
}

func (r *repository) ListInvoices(ctx context.Context, companyID, templateID int64, limit, offset int) ([]invoice.Summary, error) {
	return r.invoices.ListByTemplate(ctx, companyID, templateID, limit, offset)
}

func (r *repository) CountInvoices(ctx context.Context, companyID, templateID int64) (int, error) {
	return r.invoices.CountByTemplate(ctx, companyID, templateID)
}
