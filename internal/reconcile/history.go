package reconcile

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/havenstay/billing/internal/models"
)

// Historian merges the payments ledger with invoice status flags into one
// chronological money-event feed. The two sources can diverge: older systems
// marked invoices completed without writing a payment row, so those invoices
// get a synthesized entry instead.
type Historian struct {
	invoices InvoiceStore
	payments PaymentStore
	logger   *zap.Logger
}

// NewHistorian creates a new payment history aggregator
func NewHistorian(invoices InvoiceStore, payments PaymentStore, logger *zap.Logger) *Historian {
	return &Historian{
		invoices: invoices,
		payments: payments,
		logger:   logger,
	}
}

// History returns the student's money events, newest first.
//
// Real payment rows always win: a synthesized entry is produced only for a
// completed invoice with zero payment rows, so no invoice is ever counted
// twice. Synthesized entries are tagged with the deposit method and dated by
// the invoice's last update.
func (h *Historian) History(ctx context.Context, studentID int64) ([]*models.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payments, err := h.payments.ListByStudent(studentID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	implicit, err := h.invoices.CompletedWithoutPayments(studentID)
	if err != nil {
		return nil, fmt.Errorf("list implicitly completed invoices: %w", err)
	}

	entries := make([]*models.HistoryEntry, 0, len(payments)+len(implicit))

	for _, p := range payments {
		paymentID := p.ID
		entries = append(entries, &models.HistoryEntry{
			PaymentID:  &paymentID,
			InvoiceID:  p.InvoiceID,
			Amount:     p.Amount,
			Method:     p.Method.String(),
			Status:     p.Status,
			Reference:  p.Reference,
			OccurredAt: p.CreatedAt,
		})
	}

	for _, inv := range implicit {
		entries = append(entries, &models.HistoryEntry{
			InvoiceID:   inv.ID,
			Amount:      inv.Amount,
			Method:      models.MethodDeposit,
			Status:      models.PaymentStatusCompleted,
			Synthesized: true,
			OccurredAt:  inv.UpdatedAt,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].OccurredAt.After(entries[j].OccurredAt)
	})

	h.logger.Debug("Payment history aggregated",
		zap.Int64("student_id", studentID),
		zap.Int("payments", len(payments)),
		zap.Int("synthesized", len(implicit)))

	return entries, nil
}
