package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod identifies how money moved
type PaymentMethod string

const (
	MethodGateway           PaymentMethod = "gateway"
	MethodBankTransfer      PaymentMethod = "bank_transfer"
	MethodCheque            PaymentMethod = "cheque"
	MethodOtherOffline      PaymentMethod = "other_offline"
	MethodOverpaymentCredit PaymentMethod = "overpayment_credit"
)

var validPaymentMethods = map[PaymentMethod]bool{
	MethodGateway:           true,
	MethodBankTransfer:      true,
	MethodCheque:            true,
	MethodOtherOffline:      true,
	MethodOverpaymentCredit: true,
}

// IsValid returns true if the method is one of the defined constants
func (m PaymentMethod) IsValid() bool {
	return validPaymentMethods[m]
}

// IsOffline returns true for methods that require out-of-band approval
func (m PaymentMethod) IsOffline() bool {
	return m == MethodBankTransfer || m == MethodCheque || m == MethodOtherOffline
}

// String returns the string representation of the method
func (m PaymentMethod) String() string {
	return string(m)
}

// PaymentStatus represents the lifecycle status of a payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// IsValid returns true if the status is one of the defined constants
func (s PaymentStatus) IsValid() bool {
	return s == PaymentStatusPending || s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// Payment is a record of money actually moved against an invoice.
// A completed payment is never mutated or deleted; corrections are new rows.
type Payment struct {
	ID         int64           `json:"id"`
	InvoiceID  int64           `json:"invoice_id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     PaymentMethod   `json:"method"`
	Status     PaymentStatus   `json:"status"`
	GatewayRef string          `json:"gateway_ref,omitempty"`
	Reference  string          `json:"reference,omitempty"` // free-text note for offline methods
	CreatedBy  string          `json:"created_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
