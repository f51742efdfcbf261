// Package reconcile holds the reconciliation engines: the outstanding-invoice
// projection, the overpayment allocation cascade, and the payment history
// aggregator. All three derive their behavior from the raw ledger rows; none
// of them owns schema guarantees.
package reconcile

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/havenstay/billing/internal/models"
)

// InvoiceStore is the slice of the invoice repository the engines consume
type InvoiceStore interface {
	ListByStudentAndStatus(studentID int64, status models.InvoiceStatus) ([]*models.Invoice, error)
	FindPendingByInstallment(installmentID int64) (*models.Invoice, error)
	FindPendingByAmount(studentID int64, amount decimal.Decimal) (*models.Invoice, error)
	UpdateStatus(tx *sql.Tx, id int64, status models.InvoiceStatus, gatewayRef string) error
	CompletedWithoutPayments(studentID int64) ([]*models.Invoice, error)
}

// PaymentStore is the slice of the payment repository the engines consume
type PaymentStore interface {
	Create(tx *sql.Tx, payment *models.Payment) error
	ListByStudent(studentID int64) ([]*models.Payment, error)
}

// InstallmentStore is the slice of the installment repository the engines consume
type InstallmentStore interface {
	ListPendingByStudent(studentID int64) ([]*models.Installment, error)
	MarkCompleted(tx *sql.Tx, id int64, paidDate time.Time) error
}

// TxRunner runs a function inside a ledger transaction
type TxRunner interface {
	WithTransaction(fn func(*sql.Tx) error) error
}
