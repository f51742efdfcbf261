package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus represents the lifecycle status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusPending    InvoiceStatus = "pending"
	InvoiceStatusProcessing InvoiceStatus = "processing"
	InvoiceStatusCompleted  InvoiceStatus = "completed"
	InvoiceStatusFailed     InvoiceStatus = "failed"
	InvoiceStatusRefunded   InvoiceStatus = "refunded"
)

var validInvoiceStatuses = map[InvoiceStatus]bool{
	InvoiceStatusPending:    true,
	InvoiceStatusProcessing: true,
	InvoiceStatusCompleted:  true,
	InvoiceStatusFailed:     true,
	InvoiceStatusRefunded:   true,
}

// IsValid returns true if the status is one of the defined constants
func (s InvoiceStatus) IsValid() bool {
	return validInvoiceStatuses[s]
}

// String returns the string representation of the status
func (s InvoiceStatus) String() string {
	return string(s)
}

// Invoice represents one billable obligation against a student.
// The amount is immutable once payments exist against the invoice;
// invoices are never hard-deleted, only moved through statuses.
type Invoice struct {
	ID            int64           `json:"id"`
	StudentID     int64           `json:"student_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	DueDate       *time.Time      `json:"due_date,omitempty"`
	Status        InvoiceStatus   `json:"status"`
	GatewayRef    string          `json:"gateway_ref,omitempty"`
	InstallmentID *int64          `json:"installment_id,omitempty"` // nil for legacy rows; matched by value instead
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// IsOpen returns true if the invoice can still accept a payment submission
func (i *Invoice) IsOpen() bool {
	return i.Status == InvoiceStatusPending || i.Status == InvoiceStatusFailed
}
