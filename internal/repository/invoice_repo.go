package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/havenstay/billing/internal/models"
)

// InvoiceRepository handles invoice database operations
type InvoiceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *sql.DB, logger *zap.Logger) *InvoiceRepository {
	return &InvoiceRepository{
		db:     db,
		logger: logger,
	}
}

const invoiceColumns = `id, student_id, amount, currency, due_date, status,
	gateway_ref, installment_id, description, created_at, updated_at`

// Create creates a new invoice record
func (r *InvoiceRepository) Create(tx *sql.Tx, invoice *models.Invoice) error {
	query := `
		INSERT INTO invoices (
			student_id, amount, currency, due_date, status, gateway_ref,
			installment_id, description, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	if invoice.Status == "" {
		invoice.Status = models.InvoiceStatusPending
	}
	invoice.CreatedAt = now
	invoice.UpdatedAt = now

	var result sql.Result
	var err error

	args := []interface{}{
		invoice.StudentID,
		invoice.Amount.String(),
		invoice.Currency,
		invoice.DueDate,
		invoice.Status,
		invoice.GatewayRef,
		invoice.InstallmentID,
		invoice.Description,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	}

	if tx != nil {
		result, err = tx.Exec(query, args...)
	} else {
		result, err = r.db.Exec(query, args...)
	}

	if err != nil {
		r.logger.Error("Failed to create invoice", zap.Error(err))
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	invoice.ID = id
	return nil
}

// GetByID retrieves an invoice by its identifier
func (r *InvoiceRepository) GetByID(id int64) (*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ?`

	invoice, err := r.scanInvoice(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get invoice", zap.Int64("invoice_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return invoice, nil
}

// ListByStudent retrieves all invoices for a student, oldest first
func (r *InvoiceRepository) ListByStudent(studentID int64) ([]*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE student_id = ? ORDER BY created_at ASC, id ASC`
	return r.queryInvoices(query, studentID)
}

// ListByStudentAndStatus retrieves a student's invoices in a given status
func (r *InvoiceRepository) ListByStudentAndStatus(studentID int64, status models.InvoiceStatus) ([]*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE student_id = ? AND status = ? ORDER BY created_at ASC, id ASC`
	return r.queryInvoices(query, studentID, status)
}

// FindPendingByInstallment retrieves the pending invoice explicitly linked to
// an installment, if any
func (r *InvoiceRepository) FindPendingByInstallment(installmentID int64) (*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE installment_id = ? AND status = ?
		ORDER BY created_at ASC, id ASC LIMIT 1`

	invoice, err := r.scanInvoice(r.db.QueryRow(query, installmentID, models.InvoiceStatusPending))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to find invoice by installment",
			zap.Int64("installment_id", installmentID), zap.Error(err))
		return nil, fmt.Errorf("failed to find invoice: %w", err)
	}
	return invoice, nil
}

// FindPendingByAmount retrieves the earliest-created pending invoice for a
// student with exactly the given amount. This is the legacy value-matching
// path for invoices without an installment link.
func (r *InvoiceRepository) FindPendingByAmount(studentID int64, amount decimal.Decimal) (*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE student_id = ? AND status = ? AND amount = ?
		ORDER BY created_at ASC, id ASC LIMIT 1`

	invoice, err := r.scanInvoice(r.db.QueryRow(query, studentID, models.InvoiceStatusPending, amount.String()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to find invoice by amount",
			zap.Int64("student_id", studentID),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to find invoice: %w", err)
	}
	return invoice, nil
}

// UpdateStatus transitions an invoice to a new status, optionally recording
// the gateway reference that caused the transition
func (r *InvoiceRepository) UpdateStatus(tx *sql.Tx, id int64, status models.InvoiceStatus, gatewayRef string) error {
	query := `
		UPDATE invoices
		SET status = ?,
		    gateway_ref = CASE WHEN ? != '' THEN ? ELSE gateway_ref END,
		    updated_at = ?
		WHERE id = ?
	`

	var err error
	args := []interface{}{status, gatewayRef, gatewayRef, time.Now().UTC(), id}

	if tx != nil {
		_, err = tx.Exec(query, args...)
	} else {
		_, err = r.db.Exec(query, args...)
	}

	if err != nil {
		r.logger.Error("Failed to update invoice status",
			zap.Int64("invoice_id", id),
			zap.String("status", status.String()),
			zap.Error(err))
		return fmt.Errorf("failed to update invoice status: %w", err)
	}
	return nil
}

// CompletedWithoutPayments retrieves a student's completed invoices that have
// no payment rows at all. These feed the synthesized entries of the payment
// history (legacy implicit-completion path).
func (r *InvoiceRepository) CompletedWithoutPayments(studentID int64) ([]*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices i
		WHERE i.student_id = ? AND i.status = ?
		AND NOT EXISTS (SELECT 1 FROM payments p WHERE p.invoice_id = i.id)
		ORDER BY i.updated_at DESC`
	return r.queryInvoices(query, studentID, models.InvoiceStatusCompleted)
}

// PendingWithCompletedPayments retrieves invoices still marked pending even
// though completed payments cover their full amount. These are the rows the
// reconciliation worker repairs (crash between payment insert and invoice
// update, or rows written by older systems).
func (r *InvoiceRepository) PendingWithCompletedPayments() ([]*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices i
		WHERE i.status = ?
		AND EXISTS (SELECT 1 FROM payments p WHERE p.invoice_id = i.id AND p.status = ?)
		ORDER BY i.id ASC`
	return r.queryInvoices(query, models.InvoiceStatusPending, models.PaymentStatusCompleted)
}

func (r *InvoiceRepository) queryInvoices(query string, args ...interface{}) ([]*models.Invoice, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		r.logger.Error("Failed to query invoices", zap.Error(err))
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*models.Invoice
	for rows.Next() {
		invoice, err := r.scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, invoice)
	}

	return invoices, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for shared scanning
type scanner interface {
	Scan(dest ...interface{}) error
}

func (r *InvoiceRepository) scanInvoice(s scanner) (*models.Invoice, error) {
	var invoice models.Invoice
	var amount string
	var dueDate sql.NullTime
	var installmentID sql.NullInt64

	err := s.Scan(
		&invoice.ID,
		&invoice.StudentID,
		&amount,
		&invoice.Currency,
		&dueDate,
		&invoice.Status,
		&invoice.GatewayRef,
		&installmentID,
		&invoice.Description,
		&invoice.CreatedAt,
		&invoice.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	invoice.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q on invoice %d: %w", amount, invoice.ID, err)
	}

	if dueDate.Valid {
		invoice.DueDate = &dueDate.Time
	}
	if installmentID.Valid {
		invoice.InstallmentID = &installmentID.Int64
	}

	return &invoice, nil
}
