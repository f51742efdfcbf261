package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/havenstay/billing/internal/models"
)

// InstallmentRepository handles installment database operations
type InstallmentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInstallmentRepository creates a new installment repository
func NewInstallmentRepository(db *sql.DB, logger *zap.Logger) *InstallmentRepository {
	return &InstallmentRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new installment record. Called by the booking workflow
// when a payment plan is established.
func (r *InstallmentRepository) Create(tx *sql.Tx, installment *models.Installment) error {
	query := `
		INSERT INTO installments (student_id, sequence, amount, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	if installment.Status == "" {
		installment.Status = models.InstallmentStatusPending
	}
	installment.CreatedAt = time.Now().UTC()

	var result sql.Result
	var err error

	args := []interface{}{
		installment.StudentID,
		installment.Sequence,
		installment.Amount.String(),
		installment.Status,
		installment.CreatedAt,
	}

	if tx != nil {
		result, err = tx.Exec(query, args...)
	} else {
		result, err = r.db.Exec(query, args...)
	}

	if err != nil {
		r.logger.Error("Failed to create installment", zap.Error(err))
		return fmt.Errorf("failed to create installment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	installment.ID = id
	return nil
}

// ListPendingByStudent retrieves a student's pending installments in
// sequence order. The first row is the next allocation target.
func (r *InstallmentRepository) ListPendingByStudent(studentID int64) ([]*models.Installment, error) {
	query := `
		SELECT id, student_id, sequence, amount, status, paid_date, created_at
		FROM installments
		WHERE student_id = ? AND status = ?
		ORDER BY sequence ASC
	`

	rows, err := r.db.Query(query, studentID, models.InstallmentStatusPending)
	if err != nil {
		r.logger.Error("Failed to query installments", zap.Int64("student_id", studentID), zap.Error(err))
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	var installments []*models.Installment
	for rows.Next() {
		installment, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		installments = append(installments, installment)
	}

	return installments, rows.Err()
}

// GetByID retrieves an installment by its identifier
func (r *InstallmentRepository) GetByID(id int64) (*models.Installment, error) {
	query := `
		SELECT id, student_id, sequence, amount, status, paid_date, created_at
		FROM installments
		WHERE id = ?
	`

	installment, err := scanInstallment(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get installment", zap.Int64("installment_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get installment: %w", err)
	}
	return installment, nil
}

// MarkCompleted transitions an installment to completed with a paid date
func (r *InstallmentRepository) MarkCompleted(tx *sql.Tx, id int64, paidDate time.Time) error {
	query := `UPDATE installments SET status = ?, paid_date = ? WHERE id = ?`

	var err error
	if tx != nil {
		_, err = tx.Exec(query, models.InstallmentStatusCompleted, paidDate, id)
	} else {
		_, err = r.db.Exec(query, models.InstallmentStatusCompleted, paidDate, id)
	}

	if err != nil {
		r.logger.Error("Failed to mark installment completed", zap.Int64("installment_id", id), zap.Error(err))
		return fmt.Errorf("failed to mark installment completed: %w", err)
	}
	return nil
}

func scanInstallment(s scanner) (*models.Installment, error) {
	var installment models.Installment
	var amount string
	var paidDate sql.NullTime

	err := s.Scan(
		&installment.ID,
		&installment.StudentID,
		&installment.Sequence,
		&amount,
		&installment.Status,
		&paidDate,
		&installment.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	installment.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q on installment %d: %w", amount, installment.ID, err)
	}

	if paidDate.Valid {
		installment.PaidDate = &paidDate.Time
	}

	return &installment, nil
}
