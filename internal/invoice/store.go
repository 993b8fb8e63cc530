package invoice

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-recurring/internal/platform/db"
)

// Store reads and writes invoices through q, which is either the pool or an open
// transaction.
type Store struct {
	q db.DBTX
}

// NewStore binds a store to q.
func NewStore(q db.DBTX) *Store {
	return &Store{q: q}
}

// Insert writes the header and its lines. inv.ID, CreatedAt and UpdatedAt are filled in
// from the database and every line receives its id.
func (s *Store) Insert(ctx context.Context, inv *Invoice) error {
	if err := s.InsertHeader(ctx, inv); err != nil {
		return err
	}
	return s.InsertLines(ctx, inv.ID, inv.Lines)
}

// InsertHeader writes the invoice row only.
func (s *Store) InsertHeader(ctx context.Context, inv *Invoice) error {
	if inv.Status == "" {
		inv.Status = StatusDraft
	}
	if inv.DiscountType == "" {
		inv.DiscountType = "none"
	}
	err := s.q.QueryRow(ctx, `
		INSERT INTO invoices (
			company_id, number, sequence, customer_name, customer_email, currency, status,
			issue_date, due_date, payment_terms_days, discount_type, discount_value,
			subtotal, tax_amount, discount_amount, total, notes, recurring_template_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		inv.CompanyID, inv.Number, nullSequence(inv.Sequence), inv.CustomerName, inv.CustomerEmail,
		inv.Currency, string(inv.Status), inv.IssueDate, inv.DueDate, inv.PaymentTermsDays,
		inv.DiscountType, inv.DiscountValue, inv.Subtotal, inv.TaxAmount, inv.DiscountAmount,
		inv.Total, inv.Notes, inv.RecurringTemplateID,
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("invoice: insert header: %w", err)
	}
	return nil
}

// InsertLines writes lines for invoiceID in order, assigning ids in place.
func (s *Store) InsertLines(ctx context.Context, invoiceID int64, lines []Line) error {
	for i := range lines {
		line := &lines[i]
		line.InvoiceID = invoiceID
		if line.LineOrder == 0 {
			line.LineOrder = i + 1
		}
		err := s.q.QueryRow(ctx, `
			INSERT INTO invoice_lines (
				invoice_id, line_order, name, quantity, unit_price, tax_rate, tax_amount,
				line_total, catalog_item_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id`,
			line.InvoiceID, line.LineOrder, line.Name, line.Quantity, line.UnitPrice,
			line.TaxRate, line.TaxAmount, line.LineTotal, line.CatalogItemID,
		).Scan(&line.ID)
		if err != nil {
			return fmt.Errorf("invoice: insert line %d: %w", line.LineOrder, err)
		}
	}
	return nil
}

// Get loads an invoice with its lines. A company mismatch is reported as ErrNotFound.
func (s *Store) Get(ctx context.Context, companyID, id int64) (Invoice, error) {
	var (
		inv    Invoice
		seq    *int64
		status string
	)
	err := s.q.QueryRow(ctx, `
		SELECT id, company_id, number, sequence, customer_name, customer_email, currency, status,
			issue_date, due_date, payment_terms_days, discount_type, discount_value,
			subtotal, tax_amount, discount_amount, total, notes, recurring_template_id,
			spawned_template_id, created_at, updated_at
		FROM invoices
		WHERE company_id = $1 AND id = $2`,
		companyID, id,
	).Scan(
		&inv.ID, &inv.CompanyID, &inv.Number, &seq, &inv.CustomerName, &inv.CustomerEmail,
		&inv.Currency, &status, &inv.IssueDate, &inv.DueDate, &inv.PaymentTermsDays,
		&inv.DiscountType, &inv.DiscountValue, &inv.Subtotal, &inv.TaxAmount,
		&inv.DiscountAmount, &inv.Total, &inv.Notes, &inv.RecurringTemplateID,
		&inv.SpawnedTemplateID, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, fmt.Errorf("%w: invoice %d", ErrNotFound, id)
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("invoice: get: %w", err)
	}
	inv.Status = Status(status)
	if seq != nil {
		inv.Sequence = *seq
	}

	rows, err := s.q.Query(ctx, `
		SELECT id, invoice_id, line_order, name, quantity, unit_price, tax_rate, tax_amount,
			line_total, catalog_item_id
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY line_order`, inv.ID)
	if err != nil {
		return Invoice{}, fmt.Errorf("invoice: get lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(
			&line.ID, &line.InvoiceID, &line.LineOrder, &line.Name, &line.Quantity,
			&line.UnitPrice, &line.TaxRate, &line.TaxAmount, &line.LineTotal, &line.CatalogItemID,
		); err != nil {
			return Invoice{}, fmt.Errorf("invoice: scan line: %w", err)
		}
		inv.Lines = append(inv.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return Invoice{}, fmt.Errorf("invoice: get lines: %w", err)
	}
	return inv, nil
}

// MarkRecurringSource records that invoiceID seeded templateID. Nothing else on the
// invoice is touched.
func (s *Store) MarkRecurringSource(ctx context.Context, companyID, invoiceID, templateID int64) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE invoices SET spawned_template_id = $3
		WHERE company_id = $1 AND id = $2`,
		companyID, invoiceID, templateID)
	if err != nil {
		return fmt.Errorf("invoice: mark source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: invoice %d", ErrNotFound, invoiceID)
	}
	return nil
}

// ListByTemplate returns summaries of invoices generated from templateID, newest first.
func (s *Store) ListByTemplate(ctx context.Context, companyID, templateID int64, limit, offset int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.Query(ctx, `
		SELECT id, number, total, currency, status, issue_date, due_date, created_at
		FROM invoices
		WHERE company_id = $1 AND recurring_template_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		companyID, templateID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("invoice: list by template: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum    Summary
			status string
		)
		if err := rows.Scan(&sum.ID, &sum.Number, &sum.Total, &sum.Currency, &status,
			&sum.IssueDate, &sum.DueDate, &sum.CreatedAt); err != nil {
			return nil, fmt.Errorf("invoice: scan summary: %w", err)
		}
		sum.Status = Status(status)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("invoice: list by template: %w", err)
	}
	return out, nil
}

// CountByTemplate counts invoices generated from templateID.
func (s *Store) CountByTemplate(ctx context.Context, companyID, templateID int64) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM invoices
		WHERE company_id = $1 AND recurring_template_id = $2`,
		companyID, templateID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("invoice: count by template: %w", err)
	}
	return n, nil
}

func nullSequence(seq int64) *int64 {
	if seq <= 0 {
		return nil
	}
	return &seq
}
