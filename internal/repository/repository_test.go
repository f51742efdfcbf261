package repository

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/havenstay/billing/internal/models"
	"github.com/havenstay/billing/pkg/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:            filepath.Join(t.TempDir(), "billing.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewMigrator(db, zap.NewNop()).RunMigrations())
	return db
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func mustCreateInvoice(t *testing.T, repo *InvoiceRepository, studentID int64, amount string) *models.Invoice {
	t.Helper()
	invoice := &models.Invoice{
		StudentID: studentID,
		Amount:    dec(amount),
		Currency:  "GBP",
	}
	require.NoError(t, repo.Create(nil, invoice))
	return invoice
}

func TestInvoiceCreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db.DB, zap.NewNop())

	created := mustCreateInvoice(t, repo, 7, "300")
	require.NotZero(t, created.ID)

	got, err := repo.GetByID(created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(7), got.StudentID)
	assert.True(t, got.Amount.Equal(dec("300")))
	assert.Equal(t, models.InvoiceStatusPending, got.Status)
	assert.Nil(t, got.InstallmentID)

	missing, err := repo.GetByID(9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInvoiceUpdateStatusKeepsGatewayRef(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db.DB, zap.NewNop())

	invoice := mustCreateInvoice(t, repo, 7, "300")

	require.NoError(t, repo.UpdateStatus(nil, invoice.ID, models.InvoiceStatusCompleted, "pi_1"))

	got, err := repo.GetByID(invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusCompleted, got.Status)
	assert.Equal(t, "pi_1", got.GatewayRef)

	// an empty ref must not erase the recorded one
	require.NoError(t, repo.UpdateStatus(nil, invoice.ID, models.InvoiceStatusRefunded, ""))

	got, err = repo.GetByID(invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_1", got.GatewayRef)
}

func TestInvoiceFindPendingByAmountEarliestFirst(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db.DB, zap.NewNop())

	first := mustCreateInvoice(t, repo, 7, "300")
	mustCreateInvoice(t, repo, 7, "300")
	mustCreateInvoice(t, repo, 7, "400")

	got, err := repo.FindPendingByAmount(7, dec("300"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)

	none, err := repo.FindPendingByAmount(7, dec("999"))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestInvoiceFindPendingByInstallment(t *testing.T) {
	db := newTestDB(t)
	invoices := NewInvoiceRepository(db.DB, zap.NewNop())
	installments := NewInstallmentRepository(db.DB, zap.NewNop())

	inst := &models.Installment{StudentID: 7, Sequence: 1, Amount: dec("300")}
	require.NoError(t, installments.Create(nil, inst))

	linked := &models.Invoice{
		StudentID:     7,
		Amount:        dec("300"),
		Currency:      "GBP",
		InstallmentID: &inst.ID,
	}
	require.NoError(t, invoices.Create(nil, linked))

	got, err := invoices.FindPendingByInstallment(inst.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, linked.ID, got.ID)
	require.NotNil(t, got.InstallmentID)
	assert.Equal(t, inst.ID, *got.InstallmentID)

	// completing the invoice removes it from the pending lookup
	require.NoError(t, invoices.UpdateStatus(nil, linked.ID, models.InvoiceStatusCompleted, ""))
	got, err = invoices.FindPendingByInstallment(inst.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInvoiceCompletedWithoutPayments(t *testing.T) {
	db := newTestDB(t)
	invoices := NewInvoiceRepository(db.DB, zap.NewNop())
	payments := NewPaymentRepository(db.DB, zap.NewNop())

	implicit := mustCreateInvoice(t, invoices, 7, "50")
	require.NoError(t, invoices.UpdateStatus(nil, implicit.ID, models.InvoiceStatusCompleted, ""))

	paid := mustCreateInvoice(t, invoices, 7, "300")
	require.NoError(t, payments.Create(nil, &models.Payment{
		InvoiceID: paid.ID,
		Amount:    dec("300"),
		Method:    models.MethodGateway,
		Status:    models.PaymentStatusCompleted,
	}))
	require.NoError(t, invoices.UpdateStatus(nil, paid.ID, models.InvoiceStatusCompleted, "pi_1"))

	got, err := invoices.CompletedWithoutPayments(7)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, implicit.ID, got[0].ID)
}

func TestInvoicePendingWithCompletedPayments(t *testing.T) {
	db := newTestDB(t)
	invoices := NewInvoiceRepository(db.DB, zap.NewNop())
	payments := NewPaymentRepository(db.DB, zap.NewNop())

	// pending invoice with a completed payment: the reconciler's candidate
	orphan := mustCreateInvoice(t, invoices, 7, "300")
	require.NoError(t, payments.Create(nil, &models.Payment{
		InvoiceID: orphan.ID,
		Amount:    dec("300"),
		Method:    models.MethodGateway,
		Status:    models.PaymentStatusCompleted,
		GatewayRef: "pi_orphan",
	}))

	// pending invoice with only a pending payment: not a candidate
	waiting := mustCreateInvoice(t, invoices, 7, "200")
	require.NoError(t, payments.Create(nil, &models.Payment{
		InvoiceID: waiting.ID,
		Amount:    dec("200"),
		Method:    models.MethodBankTransfer,
		Status:    models.PaymentStatusPending,
	}))

	got, err := invoices.PendingWithCompletedPayments()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, orphan.ID, got[0].ID)
}

func TestPaymentListByStudentAndSum(t *testing.T) {
	db := newTestDB(t)
	invoices := NewInvoiceRepository(db.DB, zap.NewNop())
	payments := NewPaymentRepository(db.DB, zap.NewNop())

	invoice := mustCreateInvoice(t, invoices, 7, "300")
	other := mustCreateInvoice(t, invoices, 8, "300")

	require.NoError(t, payments.Create(nil, &models.Payment{
		InvoiceID: invoice.ID, Amount: dec("200"),
		Method: models.MethodGateway, Status: models.PaymentStatusCompleted, GatewayRef: "pi_1",
	}))
	require.NoError(t, payments.Create(nil, &models.Payment{
		InvoiceID: invoice.ID, Amount: dec("100"),
		Method: models.MethodOverpaymentCredit, Status: models.PaymentStatusCompleted,
	}))
	require.NoError(t, payments.Create(nil, &models.Payment{
		InvoiceID: invoice.ID, Amount: dec("50"),
		Method: models.MethodBankTransfer, Status: models.PaymentStatusPending,
	}))
	require.NoError(t, payments.Create(nil, &models.Payment{
		InvoiceID: other.ID, Amount: dec("300"),
		Method: models.MethodGateway, Status: models.PaymentStatusCompleted, GatewayRef: "pi_2",
	}))

	mine, err := payments.ListByStudent(7)
	require.NoError(t, err)
	assert.Len(t, mine, 3)

	// pending rows never count towards the completed sum
	total, err := payments.SumCompletedByInvoice(invoice.ID)
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("300")), "sum = %s", total)
}

func TestPaymentExistsByGatewayRef(t *testing.T) {
	db := newTestDB(t)
	invoices := NewInvoiceRepository(db.DB, zap.NewNop())
	payments := NewPaymentRepository(db.DB, zap.NewNop())

	invoice := mustCreateInvoice(t, invoices, 7, "300")
	require.NoError(t, payments.Create(nil, &models.Payment{
		InvoiceID: invoice.ID, Amount: dec("300"),
		Method: models.MethodGateway, Status: models.PaymentStatusCompleted, GatewayRef: "pi_1",
	}))

	exists, err := payments.ExistsByGatewayRef("pi_1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = payments.ExistsByGatewayRef("pi_unknown")
	require.NoError(t, err)
	assert.False(t, exists)

	// blank refs (offline payments) are never treated as duplicates
	exists, err = payments.ExistsByGatewayRef("")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestInstallmentPendingOrderAndCompletion(t *testing.T) {
	db := newTestDB(t)
	installments := NewInstallmentRepository(db.DB, zap.NewNop())

	// created out of order; listing must come back by sequence
	second := &models.Installment{StudentID: 7, Sequence: 2, Amount: dec("300")}
	first := &models.Installment{StudentID: 7, Sequence: 1, Amount: dec("300")}
	require.NoError(t, installments.Create(nil, second))
	require.NoError(t, installments.Create(nil, first))

	pending, err := installments.ListPendingByStudent(7)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].Sequence)
	assert.Equal(t, 2, pending[1].Sequence)

	paidDate := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, installments.MarkCompleted(nil, first.ID, paidDate))

	pending, err = installments.ListPendingByStudent(7)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Sequence)

	completed, err := installments.GetByID(first.ID)
	require.NoError(t, err)
	require.NotNil(t, completed.PaidDate)
	assert.Equal(t, models.InstallmentStatusCompleted, completed.Status)
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	invoices := NewInvoiceRepository(db.DB, zap.NewNop())
	payments := NewPaymentRepository(db.DB, zap.NewNop())

	invoice := mustCreateInvoice(t, invoices, 7, "300")

	err := db.WithTransaction(func(tx *sql.Tx) error {
		if err := payments.Create(tx, &models.Payment{
			InvoiceID: invoice.ID, Amount: dec("300"),
			Method: models.MethodGateway, Status: models.PaymentStatusCompleted, GatewayRef: "pi_1",
		}); err != nil {
			return err
		}
		return errors.New("forced failure")
	})
	require.Error(t, err)

	rows, err := payments.ListByInvoice(invoice.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestAuditTrail(t *testing.T) {
	db := newTestDB(t)
	audit := NewAuditRepository(db.DB, zap.NewNop())

	require.NoError(t, audit.Create(&models.AuditEntry{
		StudentID: 7,
		InvoiceID: 1,
		PaymentID: 2,
		Action:    "payment.succeeded",
		Detail:    "amount=300 method=gateway",
	}))

	entries, err := audit.ListByStudent(7)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "payment.succeeded", entries[0].Action)
	assert.Equal(t, int64(2), entries[0].PaymentID)
}
