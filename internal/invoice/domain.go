// Package invoice persists invoice instances produced by the recurring engine and read
// back when a template is seeded from an existing invoice.
package invoice

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound indicates the invoice does not exist for the company.
var ErrNotFound = errors.New("invoice: not found")

// Status enumerates invoice statuses.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Closed reports whether the invoice can no longer seed new billing.
func (s Status) Closed() bool {
	return s == StatusCancelled || s == StatusRefunded
}

// Invoice header with its lines.
type Invoice struct {
	ID                  int64
	CompanyID           int64
	Number              string
	Sequence            int64
	CustomerName        string
	CustomerEmail       *string
	Currency            string
	Status              Status
	IssueDate           time.Time
	DueDate             time.Time
	PaymentTermsDays    *int
	DiscountType        string
	DiscountValue       decimal.Decimal
	Subtotal            decimal.Decimal
	TaxAmount           decimal.Decimal
	DiscountAmount      decimal.Decimal
	Total               decimal.Decimal
	Notes               *string
	RecurringTemplateID *int64
	SpawnedTemplateID   *int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Lines               []Line
}

// Line is one invoice line item.
type Line struct {
	ID            int64
	InvoiceID     int64
	LineOrder     int
	Name          string
	Quantity      decimal.Decimal
	UnitPrice     decimal.Decimal
	TaxRate       decimal.Decimal
	TaxAmount     decimal.Decimal
	LineTotal     decimal.Decimal
	CatalogItemID *int64
}

// Summary is the lightweight projection used by history listings.
type Summary struct {
	ID        int64           `json:"id"`
	Number    string          `json:"number"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency"`
	Status    Status          `json:"status"`
	IssueDate time.Time       `json:"issue_date"`
	DueDate   time.Time       `json:"due_date"`
	CreatedAt time.Time       `json:"created_at"`
}

// Summarize projects an invoice onto its summary.
func (inv Invoice) Summarize() Summary {
	return Summary{
		ID:        inv.ID,
		Number:    inv.Number,
		Total:     inv.Total,
		Currency:  inv.Currency,
		Status:    inv.Status,
		IssueDate: inv.IssueDate,
		DueDate:   inv.DueDate,
		CreatedAt: inv.CreatedAt,
	}
}
