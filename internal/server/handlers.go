package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/havenstay/billing/internal/gateway"
	"github.com/havenstay/billing/internal/models"
	"github.com/havenstay/billing/internal/payments"
	"github.com/havenstay/billing/internal/reconcile"
	"github.com/havenstay/billing/pkg/utils"
)

// Submitter is the coordinator surface the handlers consume
type Submitter interface {
	Submit(ctx context.Context, req payments.SubmitRequest) (*payments.Outcome, error)
}

// HistorySource is the aggregator surface the handlers consume
type HistorySource interface {
	History(ctx context.Context, studentID int64) ([]*models.HistoryEntry, error)
}

// InvoiceLister is the invoice repository surface the handlers consume
type InvoiceLister interface {
	ListByStudentAndStatus(studentID int64, status models.InvoiceStatus) ([]*models.Invoice, error)
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	submitter        Submitter
	history          HistorySource
	invoices         InvoiceLister
	depositThreshold decimal.Decimal
	logger           *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	submitter Submitter,
	history HistorySource,
	invoices InvoiceLister,
	depositThreshold decimal.Decimal,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		submitter:        submitter,
		history:          history,
		invoices:         invoices,
		depositThreshold: depositThreshold,
		logger:           logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// SubmitPaymentRequest is the POST body for a payment submission
type SubmitPaymentRequest struct {
	Amount        string `json:"amount" binding:"required"`
	Method        string `json:"method" binding:"required"`
	Reference     string `json:"reference"`
	CustomerEmail string `json:"customer_email"`
	Instrument    struct {
		Token          string `json:"token"`
		CardholderName string `json:"cardholder_name"`
	} `json:"instrument"`
	Billing struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Postcode string `json:"postcode"`
	} `json:"billing"`
	SubmittedBy string `json:"submitted_by"`
}

// SubmitPaymentResponse is the caller-visible submission outcome
type SubmitPaymentResponse struct {
	State      string `json:"state"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message,omitempty"`
	PaymentID  int64  `json:"payment_id,omitempty"`
	GatewayRef string `json:"gateway_ref,omitempty"`
	Duplicate  bool   `json:"duplicate,omitempty"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// OutstandingInvoices handles GET /api/students/:id/invoices/outstanding
func (h *Handlers) OutstandingInvoices(c *gin.Context) {
	studentID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	invoices, err := h.invoices.ListByStudentAndStatus(studentID, models.InvoiceStatusPending)
	if err != nil {
		h.logger.Error("Failed to list invoices", zap.Int64("student_id", studentID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to load invoices",
		})
		return
	}

	outstanding := reconcile.ProjectOutstanding(invoices, h.depositThreshold)

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    outstanding,
	})
}

// PaymentHistory handles GET /api/students/:id/history
func (h *Handlers) PaymentHistory(c *gin.Context) {
	studentID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	entries, err := h.history.History(c.Request.Context(), studentID)
	if err != nil {
		h.logger.Error("Failed to aggregate history", zap.Int64("student_id", studentID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to load payment history",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    entries,
	})
}

// SubmitPayment handles POST /api/invoices/:id/payments
func (h *Handlers) SubmitPayment(c *gin.Context) {
	invoiceID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var req SubmitPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "amount must be a decimal string",
		})
		return
	}

	if req.CustomerEmail != "" {
		if err := utils.ValidateEmail(req.CustomerEmail); err != nil {
			c.JSON(http.StatusBadRequest, Response{
				Success: false,
				Error:   "invalid customer email",
			})
			return
		}
	}

	outcome, err := h.submitter.Submit(c.Request.Context(), payments.SubmitRequest{
		InvoiceID: invoiceID,
		Amount:    amount,
		Method:    models.PaymentMethod(req.Method),
		Reference: utils.SanitizeString(req.Reference),
		Instrument: gateway.Instrument{
			Token:          req.Instrument.Token,
			CardholderName: req.Instrument.CardholderName,
		},
		Billing: gateway.BillingDetails{
			Email:    req.Billing.Email,
			Name:     req.Billing.Name,
			Postcode: req.Billing.Postcode,
		},
		CustomerEmail: req.CustomerEmail,
		SubmittedBy:   req.SubmittedBy,
	})
	if err != nil {
		h.submitError(c, invoiceID, err)
		return
	}

	status := http.StatusOK
	if outcome.State == payments.StateFailed {
		switch outcome.Reason {
		case payments.ReasonLedger:
			status = http.StatusInternalServerError
		default:
			status = http.StatusPaymentRequired
		}
	}

	c.JSON(status, Response{
		Success: outcome.State == payments.StateSucceeded,
		Data: SubmitPaymentResponse{
			State:      outcome.State.String(),
			Reason:     string(outcome.Reason),
			Message:    outcome.Message,
			PaymentID:  outcome.PaymentID,
			GatewayRef: outcome.GatewayRef,
			Duplicate:  outcome.Duplicate,
		},
	})
}

func (h *Handlers) submitError(c *gin.Context, invoiceID int64, err error) {
	switch {
	case errors.Is(err, payments.ErrSubmissionInFlight):
		c.JSON(http.StatusConflict, Response{
			Success: false,
			Error:   err.Error(),
		})
	case errors.Is(err, payments.ErrInvoiceNotFound):
		c.JSON(http.StatusNotFound, Response{
			Success: false,
			Error:   err.Error(),
		})
	case errors.Is(err, payments.ErrInvoiceClosed), errors.Is(err, payments.ErrInvalidAmount):
		c.JSON(http.StatusUnprocessableEntity, Response{
			Success: false,
			Error:   err.Error(),
		})
	default:
		h.logger.Error("Submission failed", zap.Int64("invoice_id", invoiceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to submit payment",
		})
	}
}

func (h *Handlers) pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid " + name,
		})
		return 0, false
	}
	return id, true
}
