// Package notify holds the fire-and-forget consumers of billing events:
// receipt delivery and the audit trail. Nothing in here can fail a payment.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/havenstay/billing/internal/dispatcher"
)

// ReceiptNotifier posts a JSON receipt to the operator's notification
// endpoint whenever a payment succeeds or is submitted for approval
type ReceiptNotifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewReceiptNotifier creates a new receipt notifier. An empty webhook URL
// disables delivery.
func NewReceiptNotifier(webhookURL string, timeout time.Duration, logger *zap.Logger) *ReceiptNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ReceiptNotifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type receiptPayload struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	StudentID  int64  `json:"student_id"`
	InvoiceID  int64  `json:"invoice_id"`
	PaymentID  int64  `json:"payment_id,omitempty"`
	Amount     string `json:"amount,omitempty"`
	Method     string `json:"method,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

// Handle delivers a receipt for the event
func (n *ReceiptNotifier) Handle(ctx context.Context, evt *dispatcher.Event) error {
	if n.webhookURL == "" {
		n.logger.Debug("Receipt webhook not configured, skipping",
			zap.String("event_id", evt.ID))
		return nil
	}

	payload := receiptPayload{
		EventID:    evt.ID,
		EventType:  evt.Type.String(),
		StudentID:  evt.StudentID,
		InvoiceID:  evt.InvoiceID,
		PaymentID:  evt.PaymentID,
		Amount:     evt.GetPayloadString("amount"),
		Method:     evt.GetPayloadString("method"),
		OccurredAt: evt.Timestamp.UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build receipt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver receipt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("receipt endpoint returned status %d", resp.StatusCode)
	}

	n.logger.Info("Receipt delivered",
		zap.String("event_id", evt.ID),
		zap.Int64("invoice_id", evt.InvoiceID))
	return nil
}
