package repository

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/havenstay/billing/internal/models"
)

// AuditRepository appends rows to the payment audit trail. Writes are
// best-effort; callers log and swallow failures.
type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends an audit entry
func (r *AuditRepository) Create(entry *models.AuditEntry) error {
	query := `
		INSERT INTO payment_audit (student_id, invoice_id, payment_id, action, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	entry.CreatedAt = time.Now().UTC()

	result, err := r.db.Exec(query,
		entry.StudentID,
		entry.InvoiceID,
		entry.PaymentID,
		entry.Action,
		entry.Detail,
		entry.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create audit entry", zap.Error(err))
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	entry.ID = id
	return nil
}

// ListByStudent retrieves a student's audit entries, newest first
func (r *AuditRepository) ListByStudent(studentID int64) ([]*models.AuditEntry, error) {
	query := `
		SELECT id, student_id, invoice_id, payment_id, action, detail, created_at
		FROM payment_audit
		WHERE student_id = ?
		ORDER BY created_at DESC, id DESC
	`

	rows, err := r.db.Query(query, studentID)
	if err != nil {
		r.logger.Error("Failed to query audit entries", zap.Int64("student_id", studentID), zap.Error(err))
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var entry models.AuditEntry
		err := rows.Scan(
			&entry.ID,
			&entry.StudentID,
			&entry.InvoiceID,
			&entry.PaymentID,
			&entry.Action,
			&entry.Detail,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
