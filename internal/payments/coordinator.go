// Package payments coordinates payment submissions: one state machine per
// invoice-submission attempt, a per-invoice concurrency guard, and the fixed
// write sequence gateway -> payment row -> invoice update -> overpayment
// allocation.
package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/havenstay/billing/internal/dispatcher"
	"github.com/havenstay/billing/internal/gateway"
	"github.com/havenstay/billing/internal/models"
	"github.com/havenstay/billing/internal/reconcile"
)

var (
	// ErrSubmissionInFlight is returned synchronously when another submission
	// for the same invoice has not yet resolved. The second attempt is
	// rejected, never queued.
	ErrSubmissionInFlight = errors.New("a payment for this invoice is already being processed")

	// ErrInvoiceNotFound is returned when the target invoice does not exist
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrInvoiceClosed is returned when the target invoice is not open for payment
	ErrInvoiceClosed = errors.New("invoice is not open for payment")

	// ErrInvalidAmount is returned for a zero or negative submission amount
	ErrInvalidAmount = errors.New("payment amount must be positive")
)

// InvoiceStore is the slice of the invoice repository the coordinator consumes
type InvoiceStore interface {
	GetByID(id int64) (*models.Invoice, error)
	UpdateStatus(tx *sql.Tx, id int64, status models.InvoiceStatus, gatewayRef string) error
}

// PaymentStore is the slice of the payment repository the coordinator consumes
type PaymentStore interface {
	Create(tx *sql.Tx, payment *models.Payment) error
	ExistsByGatewayRef(gatewayRef string) (bool, error)
}

// Allocator redirects overpayment excess to future installments
type Allocator interface {
	Allocate(ctx context.Context, studentID int64, excess decimal.Decimal) *reconcile.AllocationResult
}

// SubmitRequest describes one payment submission
type SubmitRequest struct {
	InvoiceID     int64
	Amount        decimal.Decimal
	Method        models.PaymentMethod
	Reference     string // free-text note, offline methods only
	Instrument    gateway.Instrument
	Billing       gateway.BillingDetails
	CustomerEmail string
	SubmittedBy   string
}

// Outcome is the caller-visible result of a submission
type Outcome struct {
	State      State
	Reason     FailureReason
	Message    string
	PaymentID  int64
	GatewayRef string
	Duplicate  bool // repeat confirmation of an already-recorded authorization
	Allocation *reconcile.AllocationResult
}

// Coordinator owns the submission path. It serializes submissions per
// invoice, runs the primary payment/invoice writes in one transaction, and
// fires allocation and side effects best-effort afterwards.
type Coordinator struct {
	tx        reconcile.TxRunner
	invoices  InvoiceStore
	payments  PaymentStore
	gateway   gateway.Client
	allocator Allocator
	events    dispatcher.Dispatcher
	currency  string
	logger    *zap.Logger

	mu       sync.Mutex
	inflight map[int64]struct{}
}

// NewCoordinator creates a new payment submission coordinator
func NewCoordinator(
	tx reconcile.TxRunner,
	invoices InvoiceStore,
	payments PaymentStore,
	gw gateway.Client,
	allocator Allocator,
	events dispatcher.Dispatcher,
	currency string,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		tx:        tx,
		invoices:  invoices,
		payments:  payments,
		gateway:   gw,
		allocator: allocator,
		events:    events,
		currency:  currency,
		logger:    logger,
	}
}

// Submit runs one submission attempt: Idle -> Submitting -> Succeeded/Failed.
//
// Preconditions (invoice missing, closed, bad amount, concurrent submission)
// come back as errors before the gateway is contacted. Past that point the
// outcome carries the result: a decline or gateway failure yields a Failed
// outcome with no ledger writes, a ledger failure after a successful charge
// yields a Failed outcome telling the payer to contact support.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*Outcome, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !req.Method.IsValid() || req.Method == models.MethodOverpaymentCredit {
		return nil, fmt.Errorf("unsupported payment method %q", req.Method)
	}

	if !c.tryAcquire(req.InvoiceID) {
		c.logger.Warn("Rejected concurrent submission", zap.Int64("invoice_id", req.InvoiceID))
		return nil, ErrSubmissionInFlight
	}
	defer c.release(req.InvoiceID)

	invoice, err := c.invoices.GetByID(req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, ErrInvoiceNotFound
	}
	if !invoice.IsOpen() {
		return nil, ErrInvoiceClosed
	}

	if req.Method.IsOffline() {
		return c.submitOffline(ctx, invoice, req)
	}
	return c.submitGateway(ctx, invoice, req)
}

// submitOffline records a pending payment awaiting out-of-band approval. The
// invoice is left untouched; a separate approval workflow completes it later.
func (c *Coordinator) submitOffline(ctx context.Context, invoice *models.Invoice, req SubmitRequest) (*Outcome, error) {
	payment := &models.Payment{
		InvoiceID: invoice.ID,
		Amount:    req.Amount,
		Method:    req.Method,
		Status:    models.PaymentStatusPending,
		Reference: req.Reference,
		CreatedBy: req.SubmittedBy,
	}

	if err := c.payments.Create(nil, payment); err != nil {
		c.logger.Error("Failed to record offline payment",
			zap.Int64("invoice_id", invoice.ID),
			zap.Error(err))
		return &Outcome{
			State:   StateFailed,
			Reason:  ReasonLedger,
			Message: "we couldn't record this payment, please contact support",
		}, nil
	}

	c.logger.Info("Offline payment submitted for approval",
		zap.Int64("invoice_id", invoice.ID),
		zap.Int64("payment_id", payment.ID),
		zap.String("method", req.Method.String()))

	c.events.DispatchAsync(context.WithoutCancel(ctx), dispatcher.NewEvent(
		dispatcher.TypePaymentPending,
		invoice.StudentID, invoice.ID, payment.ID,
		map[string]interface{}{
			"amount": req.Amount.String(),
			"method": req.Method.String(),
		},
	))

	return &Outcome{
		State:     StateSucceeded,
		Message:   "payment submitted for approval",
		PaymentID: payment.ID,
	}, nil
}

// submitGateway charges the payer's card and records the result. The
// authorization/confirmation round trip is not cancellable once issued;
// "no response" from the gateway is treated as failure, never success.
func (c *Coordinator) submitGateway(ctx context.Context, invoice *models.Invoice, req SubmitRequest) (*Outcome, error) {
	auth, err := c.gateway.CreateAuthorization(ctx, toMinorUnits(req.Amount), c.currency, req.CustomerEmail)
	if err != nil {
		c.logger.Warn("Gateway authorization failed",
			zap.Int64("invoice_id", invoice.ID),
			zap.Error(err))
		return &Outcome{
			State:   StateFailed,
			Reason:  ReasonGateway,
			Message: err.Error(),
		}, nil
	}

	result, err := c.gateway.Confirm(ctx, auth.ClientSecret, req.Instrument, req.Billing)
	if err != nil {
		c.logger.Warn("Gateway confirmation failed",
			zap.Int64("invoice_id", invoice.ID),
			zap.String("authorization_id", auth.ID),
			zap.Error(err))
		return &Outcome{
			State:   StateFailed,
			Reason:  ReasonGateway,
			Message: err.Error(),
		}, nil
	}

	if result.Status != gateway.StatusSucceeded {
		c.logger.Info("Gateway declined payment",
			zap.Int64("invoice_id", invoice.ID),
			zap.String("authorization_id", result.ID),
			zap.String("message", result.Message))
		return &Outcome{
			State:   StateFailed,
			Reason:  ReasonDeclined,
			Message: result.Message,
		}, nil
	}

	// A retried confirmation of the same authorization must not write a
	// second payment row
	exists, err := c.payments.ExistsByGatewayRef(result.ID)
	if err != nil {
		c.logger.Error("Failed idempotency probe after successful charge",
			zap.Int64("invoice_id", invoice.ID),
			zap.String("gateway_ref", result.ID),
			zap.Error(err))
		return &Outcome{
			State:   StateFailed,
			Reason:  ReasonLedger,
			Message: "your payment was taken but we couldn't record it, please contact support",
		}, nil
	}
	if exists {
		c.logger.Info("Duplicate confirmation detected, treating as no-op",
			zap.Int64("invoice_id", invoice.ID),
			zap.String("gateway_ref", result.ID))
		return &Outcome{
			State:      StateSucceeded,
			Message:    "payment already recorded",
			GatewayRef: result.ID,
			Duplicate:  true,
		}, nil
	}

	payment := &models.Payment{
		InvoiceID:  invoice.ID,
		Amount:     req.Amount,
		Method:     models.MethodGateway,
		Status:     models.PaymentStatusCompleted,
		GatewayRef: result.ID,
		CreatedBy:  req.SubmittedBy,
	}

	err = c.tx.WithTransaction(func(tx *sql.Tx) error {
		if err := c.payments.Create(tx, payment); err != nil {
			return err
		}
		return c.invoices.UpdateStatus(tx, invoice.ID, models.InvoiceStatusCompleted, result.ID)
	})
	if err != nil {
		// Money has moved but the ledger refused the write. Surfaced as
		// failure with distinct wording; an out-of-band reconciliation pass
		// repairs the gap.
		c.logger.Error("Ledger write failed after successful charge",
			zap.Int64("invoice_id", invoice.ID),
			zap.String("gateway_ref", result.ID),
			zap.Error(err))
		return &Outcome{
			State:   StateFailed,
			Reason:  ReasonLedger,
			Message: "your payment was taken but we couldn't record it, please contact support",
		}, nil
	}

	c.logger.Info("Gateway payment recorded",
		zap.Int64("invoice_id", invoice.ID),
		zap.Int64("payment_id", payment.ID),
		zap.String("gateway_ref", result.ID),
		zap.String("amount", req.Amount.String()))

	outcome := &Outcome{
		State:      StateSucceeded,
		PaymentID:  payment.ID,
		GatewayRef: result.ID,
	}

	if excess := req.Amount.Sub(invoice.Amount); excess.IsPositive() {
		outcome.Allocation = c.allocator.Allocate(context.WithoutCancel(ctx), invoice.StudentID, excess)

		for _, credit := range outcome.Allocation.Applied {
			c.events.DispatchAsync(context.WithoutCancel(ctx), dispatcher.NewEvent(
				dispatcher.TypeAllocationApplied,
				invoice.StudentID, credit.InvoiceID, 0,
				map[string]interface{}{
					"amount": credit.Amount.String(),
					"method": models.MethodOverpaymentCredit.String(),
				},
			))
		}
	}

	c.events.DispatchAsync(context.WithoutCancel(ctx), dispatcher.NewEvent(
		dispatcher.TypePaymentSucceeded,
		invoice.StudentID, invoice.ID, payment.ID,
		map[string]interface{}{
			"amount":      req.Amount.String(),
			"method":      models.MethodGateway.String(),
			"gateway_ref": result.ID,
		},
	))

	return outcome, nil
}

func (c *Coordinator) tryAcquire(invoiceID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight == nil {
		c.inflight = make(map[int64]struct{})
	}
	if _, busy := c.inflight[invoiceID]; busy {
		return false
	}
	c.inflight[invoiceID] = struct{}{}
	return true
}

func (c *Coordinator) release(invoiceID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, invoiceID)
}

// toMinorUnits converts a decimal major-unit amount to integer minor units
// (pounds to pence)
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
