package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/havenstay/billing/internal/dispatcher"
	"github.com/havenstay/billing/internal/models"
)

// AuditStore is the slice of the audit repository the recorder consumes
type AuditStore interface {
	Create(entry *models.AuditEntry) error
}

// AuditRecorder appends one audit trail row per billing event
type AuditRecorder struct {
	store  AuditStore
	logger *zap.Logger
}

// NewAuditRecorder creates a new audit recorder
func NewAuditRecorder(store AuditStore, logger *zap.Logger) *AuditRecorder {
	return &AuditRecorder{
		store:  store,
		logger: logger,
	}
}

// Handle records the event in the audit trail
func (a *AuditRecorder) Handle(_ context.Context, evt *dispatcher.Event) error {
	entry := &models.AuditEntry{
		StudentID: evt.StudentID,
		InvoiceID: evt.InvoiceID,
		PaymentID: evt.PaymentID,
		Action:    evt.Type.String(),
		Detail: fmt.Sprintf("amount=%s method=%s",
			evt.GetPayloadString("amount"),
			evt.GetPayloadString("method")),
	}

	if err := a.store.Create(entry); err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}

	a.logger.Debug("Audit entry recorded",
		zap.String("action", entry.Action),
		zap.Int64("invoice_id", entry.InvoiceID))
	return nil
}
