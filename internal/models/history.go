package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Method tag for history entries synthesized from invoices that were marked
// completed without any payment row (legacy/implicit completion path).
const MethodDeposit = "deposit"

// HistoryEntry is one row in the chronological money-event feed shown to a
// student. Real payments and synthesized invoice completions share this shape.
type HistoryEntry struct {
	PaymentID   *int64          `json:"payment_id,omitempty"` // nil for synthesized entries
	InvoiceID   int64           `json:"invoice_id"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
	Status      PaymentStatus   `json:"status"`
	Reference   string          `json:"reference,omitempty"`
	Synthesized bool            `json:"synthesized"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// AuditEntry records an administrative or money-moving action for the audit
// trail. Written best-effort by the side-effect pipeline.
type AuditEntry struct {
	ID        int64     `json:"id"`
	StudentID int64     `json:"student_id"`
	InvoiceID int64     `json:"invoice_id"`
	PaymentID int64     `json:"payment_id,omitempty"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
