package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstallmentStatus represents the lifecycle status of an installment
type InstallmentStatus string

const (
	InstallmentStatusPending   InstallmentStatus = "pending"
	InstallmentStatusCompleted InstallmentStatus = "completed"
)

// IsValid returns true if the status is one of the defined constants
func (s InstallmentStatus) IsValid() bool {
	return s == InstallmentStatusPending || s == InstallmentStatusCompleted
}

// Installment is one scheduled slice of a student's total obligation under a
// payment plan. Sequence is strictly increasing per student and defines the
// order in which overpayment credit is allocated.
type Installment struct {
	ID        int64             `json:"id"`
	StudentID int64             `json:"student_id"`
	Sequence  int               `json:"sequence"`
	Amount    decimal.Decimal   `json:"amount"`
	Status    InstallmentStatus `json:"status"`
	PaidDate  *time.Time        `json:"paid_date,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
