package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/havenstay/billing/internal/models"
)

// AppliedCredit records one overpayment_credit payment written by the
// allocation cascade
type AppliedCredit struct {
	InvoiceID     int64
	InstallmentID int64
	Amount        decimal.Decimal
	InvoicePaid   bool
}

// AllocationResult summarizes one allocation run
type AllocationResult struct {
	Applied   []AppliedCredit
	Remainder decimal.Decimal // excess left once no pending installment or matching invoice remains
}

// TotalApplied returns the sum of all credits written during the run
func (r *AllocationResult) TotalApplied() decimal.Decimal {
	total := decimal.Zero
	for _, c := range r.Applied {
		total = total.Add(c.Amount)
	}
	return total
}

// Allocator redirects overpayment excess to a student's next pending
// installments, lowest sequence first. It runs after the primary payment has
// already completed at the gateway, so every failure here is logged and
// swallowed: the cascade must never cause a successful payment to be
// reported as failed.
type Allocator struct {
	tx           TxRunner
	invoices     InvoiceStore
	payments     PaymentStore
	installments InstallmentStore
	logger       *zap.Logger
}

// NewAllocator creates a new overpayment allocator
func NewAllocator(
	tx TxRunner,
	invoices InvoiceStore,
	payments PaymentStore,
	installments InstallmentStore,
	logger *zap.Logger,
) *Allocator {
	return &Allocator{
		tx:           tx,
		invoices:     invoices,
		payments:     payments,
		installments: installments,
		logger:       logger,
	}
}

// Allocate distributes excess across the student's pending installments.
//
// Each pass takes the lowest-sequence pending installment, resolves its
// invoice (explicit installment link first, amount matching as the legacy
// fallback), writes an overpayment_credit payment for
// min(remaining, invoice.Amount), and completes invoice and installment when
// the credit covers the invoice in full. The loop carries the remainder
// forward and stops when no pending installment or matching invoice is left;
// whatever is left stays in the result as an unattributed remainder.
//
// Termination: every full-credit pass completes an installment and a partial
// credit exhausts the remainder, so the loop runs at most once per pending
// installment.
func (a *Allocator) Allocate(ctx context.Context, studentID int64, excess decimal.Decimal) *AllocationResult {
	result := &AllocationResult{Remainder: excess}

	if !excess.IsPositive() {
		return result
	}

	remaining := excess
	for remaining.IsPositive() {
		if err := ctx.Err(); err != nil {
			a.logger.Warn("Allocation interrupted",
				zap.Int64("student_id", studentID),
				zap.Error(err))
			break
		}

		pending, err := a.installments.ListPendingByStudent(studentID)
		if err != nil {
			a.logger.Error("Allocation failed to list pending installments",
				zap.Int64("student_id", studentID),
				zap.Error(err))
			break
		}
		if len(pending) == 0 {
			a.logger.Info("Allocation stopped, no pending installments",
				zap.Int64("student_id", studentID),
				zap.String("unattributed", remaining.String()))
			break
		}

		target := pending[0]
		invoice, err := a.resolveInvoice(studentID, target)
		if err != nil {
			a.logger.Error("Allocation failed to resolve invoice",
				zap.Int64("student_id", studentID),
				zap.Int64("installment_id", target.ID),
				zap.Error(err))
			break
		}
		if invoice == nil {
			a.logger.Warn("Allocation stopped, no pending invoice matches installment",
				zap.Int64("student_id", studentID),
				zap.Int64("installment_id", target.ID),
				zap.String("amount", target.Amount.String()))
			break
		}

		apply := decimal.Min(remaining, invoice.Amount)
		invoicePaid := apply.Equal(invoice.Amount)

		err = a.tx.WithTransaction(func(tx *sql.Tx) error {
			credit := &models.Payment{
				InvoiceID: invoice.ID,
				Amount:    apply,
				Method:    models.MethodOverpaymentCredit,
				Status:    models.PaymentStatusCompleted,
				Reference: fmt.Sprintf("overpayment credit from student %d", studentID),
				CreatedBy: "allocation-engine",
			}
			if err := a.payments.Create(tx, credit); err != nil {
				return err
			}

			if invoicePaid {
				if err := a.invoices.UpdateStatus(tx, invoice.ID, models.InvoiceStatusCompleted, ""); err != nil {
					return err
				}
				if err := a.installments.MarkCompleted(tx, target.ID, time.Now().UTC()); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			a.logger.Error("Allocation write failed",
				zap.Int64("student_id", studentID),
				zap.Int64("invoice_id", invoice.ID),
				zap.Error(err))
			break
		}

		a.logger.Info("Overpayment credit applied",
			zap.Int64("student_id", studentID),
			zap.Int64("invoice_id", invoice.ID),
			zap.Int64("installment_id", target.ID),
			zap.String("amount", apply.String()),
			zap.Bool("invoice_paid", invoicePaid))

		result.Applied = append(result.Applied, AppliedCredit{
			InvoiceID:     invoice.ID,
			InstallmentID: target.ID,
			Amount:        apply,
			InvoicePaid:   invoicePaid,
		})

		remaining = remaining.Sub(apply)
		if !invoicePaid {
			// partial credit leaves the installment pending and exhausts the excess
			break
		}
	}

	result.Remainder = remaining
	return result
}

// resolveInvoice finds the pending invoice for an installment. Invoices
// created since the installment link was introduced carry an explicit
// reference; older rows are matched by amount, earliest-created first.
func (a *Allocator) resolveInvoice(studentID int64, installment *models.Installment) (*models.Invoice, error) {
	invoice, err := a.invoices.FindPendingByInstallment(installment.ID)
	if err != nil {
		return nil, err
	}
	if invoice != nil {
		return invoice, nil
	}
	return a.invoices.FindPendingByAmount(studentID, installment.Amount)
}
