// Package recurring turns recurring invoice templates into invoices on a schedule.
//
// A Template holds a schedule and a frozen content snapshot. Each generation copies the
// snapshot into a new invoice, numbered by the company's numbering authority, and moves
// the template's next_run_date forward (or completes it once the schedule passes its
// end date), all inside one transaction.
package recurring

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-recurring/internal/recurring/schedule"
)

// Status enumerates template lifecycle states.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

// DiscountType enumerates header discount policies.
type DiscountType string

const (
	DiscountNone    DiscountType = "none"
	DiscountFixed   DiscountType = "fixed"
	DiscountPercent DiscountType = "percent"
)

// Template is a recurring invoice definition.
type Template struct {
	ID               int64              `json:"id"`
	CompanyID        int64              `json:"company_id"`
	Name             string             `json:"name"`
	CustomerName     string             `json:"customer_name"`
	CustomerEmail    *string            `json:"customer_email,omitempty"`
	Currency         string             `json:"currency"`
	Frequency        schedule.Frequency `json:"frequency"`
	StartDate        time.Time          `json:"start_date"`
	EndDate          *time.Time         `json:"end_date,omitempty"`
	NextRunDate      time.Time          `json:"next_run_date"`
	LastGeneratedAt  *time.Time         `json:"last_generated_at,omitempty"`
	Status           Status             `json:"status"`
	DiscountType     DiscountType       `json:"discount_type"`
	DiscountValue    decimal.Decimal    `json:"discount_value"`
	Notes            *string            `json:"notes,omitempty"`
	PaymentTermsDays *int               `json:"payment_terms_days,omitempty"`
	Subtotal         decimal.Decimal    `json:"subtotal"`
	TaxAmount        decimal.Decimal    `json:"tax_amount"`
	DiscountAmount   decimal.Decimal    `json:"discount_amount"`
	Total            decimal.Decimal    `json:"total"`
	SourceInvoiceID  *int64             `json:"source_invoice_id,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	GeneratedCount   int                `json:"generated_count"`
	Lines            []TemplateLine     `json:"lines"`
}

// TemplateLine is one line of the content snapshot.
type TemplateLine struct {
	ID            int64           `json:"id"`
	TemplateID    int64           `json:"template_id"`
	LineOrder     int             `json:"line_order"`
	Name          string          `json:"name"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	CatalogItemID *int64          `json:"catalog_item_id,omitempty"`
}

// GenerationResult reports the outcome of one generation.
type GenerationResult struct {
	InvoiceID     int64      `json:"invoice_id"`
	InvoiceNumber string     `json:"invoice_number"`
	NextRunDate   *time.Time `json:"next_run_date"`
	Status        Status     `json:"status"`
}

// DueTemplate identifies an active template whose next run has arrived.
type DueTemplate struct {
	ID          int64
	CompanyID   int64
	NextRunDate time.Time
}

// ListFilter narrows template listings.
type ListFilter struct {
	CompanyID int64
	Status    *Status
	Limit     int
	Offset    int
}

// Trigger labels what started a generation.
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerSchedule Trigger = "schedule"
)

// dateOnly truncates t to midnight UTC of its calendar day.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
