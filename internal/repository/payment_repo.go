package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/havenstay/billing/internal/models"
)

// PaymentRepository handles payment database operations
type PaymentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *sql.DB, logger *zap.Logger) *PaymentRepository {
	return &PaymentRepository{
		db:     db,
		logger: logger,
	}
}

const paymentColumns = `id, invoice_id, amount, method, status, gateway_ref,
	reference, created_by, created_at`

// Create creates a new payment record. Completed payments are append-only;
// there is no update path.
func (r *PaymentRepository) Create(tx *sql.Tx, payment *models.Payment) error {
	query := `
		INSERT INTO payments (
			invoice_id, amount, method, status, gateway_ref, reference,
			created_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	var result sql.Result
	var err error

	args := []interface{}{
		payment.InvoiceID,
		payment.Amount.String(),
		payment.Method,
		payment.Status,
		payment.GatewayRef,
		payment.Reference,
		payment.CreatedBy,
		payment.CreatedAt,
	}

	if tx != nil {
		result, err = tx.Exec(query, args...)
	} else {
		result, err = r.db.Exec(query, args...)
	}

	if err != nil {
		r.logger.Error("Failed to create payment", zap.Error(err))
		return fmt.Errorf("failed to create payment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	payment.ID = id
	return nil
}

// ListByInvoice retrieves all payments against an invoice, newest first
func (r *PaymentRepository) ListByInvoice(invoiceID int64) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE invoice_id = ? ORDER BY created_at DESC, id DESC`
	return r.queryPayments(query, invoiceID)
}

// ListByStudent retrieves all payments against any of the student's invoices,
// newest first
func (r *PaymentRepository) ListByStudent(studentID int64) ([]*models.Payment, error) {
	query := `SELECT p.id, p.invoice_id, p.amount, p.method, p.status,
			p.gateway_ref, p.reference, p.created_by, p.created_at
		FROM payments p
		JOIN invoices i ON i.id = p.invoice_id
		WHERE i.student_id = ?
		ORDER BY p.created_at DESC, p.id DESC`
	return r.queryPayments(query, studentID)
}

// ExistsByGatewayRef reports whether a payment already carries the given
// gateway reference. Used to detect a retried confirmation of the same
// authorization before writing a second row.
func (r *PaymentRepository) ExistsByGatewayRef(gatewayRef string) (bool, error) {
	if gatewayRef == "" {
		return false, nil
	}

	var id int64
	err := r.db.QueryRow(
		`SELECT id FROM payments WHERE gateway_ref = ? LIMIT 1`, gatewayRef,
	).Scan(&id)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		r.logger.Error("Failed to check gateway reference", zap.String("gateway_ref", gatewayRef), zap.Error(err))
		return false, fmt.Errorf("failed to check gateway reference: %w", err)
	}
	return true, nil
}

// SumCompletedByInvoice returns the sum of completed payment amounts against
// an invoice
func (r *PaymentRepository) SumCompletedByInvoice(invoiceID int64) (decimal.Decimal, error) {
	payments, err := r.queryPayments(
		`SELECT `+paymentColumns+` FROM payments WHERE invoice_id = ? AND status = ?`,
		invoiceID, models.PaymentStatusCompleted,
	)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total, nil
}

func (r *PaymentRepository) queryPayments(query string, args ...interface{}) ([]*models.Payment, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		r.logger.Error("Failed to query payments", zap.Error(err))
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		var payment models.Payment
		var amount string

		err := rows.Scan(
			&payment.ID,
			&payment.InvoiceID,
			&amount,
			&payment.Method,
			&payment.Status,
			&payment.GatewayRef,
			&payment.Reference,
			&payment.CreatedBy,
			&payment.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}

		payment.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q on payment %d: %w", amount, payment.ID, err)
		}

		payments = append(payments, &payment)
	}

	return payments, rows.Err()
}
