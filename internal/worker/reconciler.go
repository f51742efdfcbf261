package worker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/havenstay/billing/internal/dispatcher"
	"github.com/havenstay/billing/internal/models"
)

// ReconcilerInvoiceStore is the slice of the invoice repository the
// reconciler consumes
type ReconcilerInvoiceStore interface {
	PendingWithCompletedPayments() ([]*models.Invoice, error)
	UpdateStatus(tx *sql.Tx, id int64, status models.InvoiceStatus, gatewayRef string) error
}

// ReconcilerPaymentStore is the slice of the payment repository the
// reconciler consumes
type ReconcilerPaymentStore interface {
	SumCompletedByInvoice(invoiceID int64) (decimal.Decimal, error)
}

// Reconciler periodically repairs invoices left pending even though
// completed payments cover their amount. The submission path writes payment
// and invoice in one transaction, but rows written by older systems, or by a
// crash in between, can still diverge; the ledger heals on the next sweep
// instead of relying on cross-table atomicity.
type Reconciler struct {
	invoices ReconcilerInvoiceStore
	payments ReconcilerPaymentStore
	events   dispatcher.Dispatcher
	logger   *zap.Logger

	interval time.Duration

	mu        sync.Mutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewReconciler creates a new reconciliation worker
func NewReconciler(
	invoices ReconcilerInvoiceStore,
	payments ReconcilerPaymentStore,
	events dispatcher.Dispatcher,
	interval time.Duration,
	logger *zap.Logger,
) *Reconciler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Reconciler{
		invoices: invoices,
		payments: payments,
		events:   events,
		interval: interval,
		logger:   logger,
	}
}

// Start starts the reconciliation worker
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRunning {
		return fmt.Errorf("reconciler is already running")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.isRunning = true

	r.logger.Info("Reconciler started", zap.Duration("interval", r.interval))

	go r.loop()
	return nil
}

// Stop stops the reconciliation worker
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isRunning {
		return
	}

	r.isRunning = false
	if r.cancel != nil {
		r.cancel()
	}

	r.logger.Info("Reconciler stopped")
}

// Name returns the worker name for identification
func (r *Reconciler) Name() string {
	return "Reconciler"
}

func (r *Reconciler) loop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if repaired, err := r.Sweep(r.ctx); err != nil {
				r.logger.Error("Reconciliation sweep failed", zap.Error(err))
			} else if repaired > 0 {
				r.logger.Info("Reconciliation sweep repaired invoices", zap.Int("repaired", repaired))
			}
		}
	}
}

// Sweep runs one reconciliation pass and returns the number of invoices
// repaired. An invoice is repaired when its completed payments sum to at
// least its amount; partially paid invoices are left alone.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	candidates, err := r.invoices.PendingWithCompletedPayments()
	if err != nil {
		return 0, fmt.Errorf("list mismatched invoices: %w", err)
	}

	repaired := 0
	for _, invoice := range candidates {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}

		paid, err := r.payments.SumCompletedByInvoice(invoice.ID)
		if err != nil {
			r.logger.Error("Failed to sum payments for invoice",
				zap.Int64("invoice_id", invoice.ID),
				zap.Error(err))
			continue
		}

		if paid.LessThan(invoice.Amount) {
			continue
		}

		if err := r.invoices.UpdateStatus(nil, invoice.ID, models.InvoiceStatusCompleted, ""); err != nil {
			r.logger.Error("Failed to repair invoice",
				zap.Int64("invoice_id", invoice.ID),
				zap.Error(err))
			continue
		}

		r.logger.Warn("Repaired invoice left pending with completed payments",
			zap.Int64("invoice_id", invoice.ID),
			zap.Int64("student_id", invoice.StudentID),
			zap.String("amount", invoice.Amount.String()),
			zap.String("paid", paid.String()))

		r.events.DispatchAsync(context.WithoutCancel(ctx), dispatcher.NewEvent(
			dispatcher.TypeInvoiceRepaired,
			invoice.StudentID, invoice.ID, 0,
			map[string]interface{}{
				"amount": invoice.Amount.String(),
				"paid":   paid.String(),
			},
		))

		repaired++
	}

	return repaired, nil
}
