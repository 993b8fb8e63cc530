package recurring

import "github.com/shopspring/decimal"

// LineInput describes one template line in a request.
type LineInput struct {
	Name          string          `json:"name" validate:"required,max=200"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	CatalogItemID *int64          `json:"catalog_item_id,omitempty" validate:"omitempty,gt=0"`
}

// CreateTemplateRequest creates a template from scratch.
type CreateTemplateRequest struct {
	Name             string          `json:"name" validate:"required,max=200"`
	CustomerName     string          `json:"customer_name" validate:"required,max=200"`
	CustomerEmail    *string         `json:"customer_email,omitempty" validate:"omitempty,email,max=320"`
	Currency         string          `json:"currency" validate:"omitempty,len=3,alpha"`
	Frequency        string          `json:"frequency" validate:"required"`
	StartDate        string          `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate          *string         `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DiscountType     string          `json:"discount_type" validate:"omitempty,oneof=none fixed percent"`
	DiscountValue    decimal.Decimal `json:"discount_value"`
	Notes            *string         `json:"notes,omitempty" validate:"omitempty,max=4000"`
	PaymentTermsDays *int            `json:"payment_terms_days,omitempty" validate:"omitempty,gte=0,lte=365"`
	Lines            []LineInput     `json:"lines" validate:"required,min=1,dive"`
}

// UpdateTemplateRequest carries a partial update. Nil fields are left unchanged.
// ClearEndDate removes the end date.
type UpdateTemplateRequest struct {
	Name             *string          `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	CustomerName     *string          `json:"customer_name,omitempty" validate:"omitempty,min=1,max=200"`
	CustomerEmail    *string          `json:"customer_email,omitempty" validate:"omitempty,email,max=320"`
	Currency         *string          `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	Frequency        *string          `json:"frequency,omitempty"`
	StartDate        *string          `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate          *string          `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ClearEndDate     bool             `json:"clear_end_date,omitempty"`
	DiscountType     *string          `json:"discount_type,omitempty" validate:"omitempty,oneof=none fixed percent"`
	DiscountValue    *decimal.Decimal `json:"discount_value,omitempty"`
	Notes            *string          `json:"notes,omitempty" validate:"omitempty,max=4000"`
	PaymentTermsDays *int             `json:"payment_terms_days,omitempty" validate:"omitempty,gte=0,lte=365"`
	Lines            *[]LineInput     `json:"lines,omitempty" validate:"omitempty,min=1,dive"`
}

// FromInvoiceRequest supplies the schedule for a template seeded from an invoice.
type FromInvoiceRequest struct {
	Name             string  `json:"name" validate:"required,max=200"`
	Frequency        string  `json:"frequency" validate:"required"`
	StartDate        string  `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate          *string `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	PaymentTermsDays *int    `json:"payment_terms_days,omitempty" validate:"omitempty,gte=0,lte=365"`
}

// NumberingRequest changes a company's numbering prefix or moves its sequence forward.
type NumberingRequest struct {
	Prefix       string `json:"prefix" validate:"required,max=20"`
	NextSequence *int64 `json:"next_sequence,omitempty" validate:"omitempty,gt=0"`
}
