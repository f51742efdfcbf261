package reconcile

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/havenstay/billing/internal/models"
)

// fakeLedger is an in-memory stand-in for the three repositories plus the
// transaction runner. Slice order stands in for creation order.
type fakeLedger struct {
	invoices     []*models.Invoice
	payments     []*models.Payment
	installments []*models.Installment

	listInstallmentsErr error
	findInvoiceErr      error
	createPaymentErr    error
	txErr               error
}

func (f *fakeLedger) WithTransaction(fn func(*sql.Tx) error) error {
	if f.txErr != nil {
		return f.txErr
	}
	return fn(nil)
}

func (f *fakeLedger) ListByStudentAndStatus(studentID int64, status models.InvoiceStatus) ([]*models.Invoice, error) {
	var out []*models.Invoice
	for _, inv := range f.invoices {
		if inv.StudentID == studentID && inv.Status == status {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (f *fakeLedger) FindPendingByInstallment(installmentID int64) (*models.Invoice, error) {
	if f.findInvoiceErr != nil {
		return nil, f.findInvoiceErr
	}
	for _, inv := range f.invoices {
		if inv.Status == models.InvoiceStatusPending &&
			inv.InstallmentID != nil && *inv.InstallmentID == installmentID {
			return inv, nil
		}
	}
	return nil, nil
}

func (f *fakeLedger) FindPendingByAmount(studentID int64, amount decimal.Decimal) (*models.Invoice, error) {
	if f.findInvoiceErr != nil {
		return nil, f.findInvoiceErr
	}
	for _, inv := range f.invoices {
		if inv.StudentID == studentID &&
			inv.Status == models.InvoiceStatusPending &&
			inv.Amount.Equal(amount) {
			return inv, nil
		}
	}
	return nil, nil
}

func (f *fakeLedger) UpdateStatus(_ *sql.Tx, id int64, status models.InvoiceStatus, gatewayRef string) error {
	for _, inv := range f.invoices {
		if inv.ID == id {
			inv.Status = status
			if gatewayRef != "" {
				inv.GatewayRef = gatewayRef
			}
			inv.UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

func (f *fakeLedger) CompletedWithoutPayments(studentID int64) ([]*models.Invoice, error) {
	var out []*models.Invoice
	for _, inv := range f.invoices {
		if inv.StudentID != studentID || inv.Status != models.InvoiceStatusCompleted {
			continue
		}
		hasPayment := false
		for _, p := range f.payments {
			if p.InvoiceID == inv.ID {
				hasPayment = true
				break
			}
		}
		if !hasPayment {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (f *fakeLedger) Create(_ *sql.Tx, payment *models.Payment) error {
	if f.createPaymentErr != nil {
		return f.createPaymentErr
	}
	payment.ID = int64(len(f.payments) + 1)
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	f.payments = append(f.payments, payment)
	return nil
}

func (f *fakeLedger) ListByStudent(studentID int64) ([]*models.Payment, error) {
	byInvoice := make(map[int64]int64)
	for _, inv := range f.invoices {
		byInvoice[inv.ID] = inv.StudentID
	}
	var out []*models.Payment
	for _, p := range f.payments {
		if byInvoice[p.InvoiceID] == studentID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeLedger) ListPendingByStudent(studentID int64) ([]*models.Installment, error) {
	if f.listInstallmentsErr != nil {
		return nil, f.listInstallmentsErr
	}
	var out []*models.Installment
	for _, inst := range f.installments {
		if inst.StudentID == studentID && inst.Status == models.InstallmentStatusPending {
			out = append(out, inst)
		}
	}
	// callers expect sequence order; fixtures are built in order
	return out, nil
}

func (f *fakeLedger) MarkCompleted(_ *sql.Tx, id int64, paidDate time.Time) error {
	for _, inst := range f.installments {
		if inst.ID == id {
			inst.Status = models.InstallmentStatusCompleted
			inst.PaidDate = &paidDate
		}
	}
	return nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
