package dispatcher

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Type identifies the type of billing event
type Type string

const (
	TypePaymentSucceeded  Type = "payment.succeeded"
	TypePaymentPending    Type = "payment.pending"
	TypeAllocationApplied Type = "allocation.applied"
	TypeInvoiceRepaired   Type = "invoice.repaired"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypePaymentSucceeded,
		TypePaymentPending,
		TypeAllocationApplied,
		TypeInvoiceRepaired:
		return true
	default:
		return false
	}
}

// Event is one billing event delivered to side-effect handlers. Handlers are
// best-effort consumers: the payment result never depends on them.
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	StudentID int64                  `json:"student_id"`
	InvoiceID int64                  `json:"invoice_id"`
	PaymentID int64                  `json:"payment_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent creates a new billing event with an auto-generated ID and timestamp
func NewEvent(eventType Type, studentID, invoiceID, paymentID int64, payload map[string]interface{}) *Event {
	return &Event{
		ID:        generateID(),
		Type:      eventType,
		StudentID: studentID,
		InvoiceID: invoiceID,
		PaymentID: paymentID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// generateID creates a unique ID using timestamp and random bytes
func generateID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), hex.EncodeToString(b))
}
