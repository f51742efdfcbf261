package worker

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/havenstay/billing/internal/dispatcher"
	"github.com/havenstay/billing/internal/models"
)

type fakeReconcilerStore struct {
	invoices map[int64]*models.Invoice
	paid     map[int64]decimal.Decimal

	listErr error
	sumErr  error
}

func (f *fakeReconcilerStore) PendingWithCompletedPayments() ([]*models.Invoice, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*models.Invoice
	for _, inv := range f.invoices {
		if inv.Status == models.InvoiceStatusPending {
			if _, ok := f.paid[inv.ID]; ok {
				out = append(out, inv)
			}
		}
	}
	return out, nil
}

func (f *fakeReconcilerStore) UpdateStatus(_ *sql.Tx, id int64, status models.InvoiceStatus, _ string) error {
	f.invoices[id].Status = status
	return nil
}

func (f *fakeReconcilerStore) SumCompletedByInvoice(invoiceID int64) (decimal.Decimal, error) {
	if f.sumErr != nil {
		return decimal.Zero, f.sumErr
	}
	return f.paid[invoiceID], nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestSweepRepairsFullyPaidInvoices(t *testing.T) {
	store := &fakeReconcilerStore{
		invoices: map[int64]*models.Invoice{
			1: {ID: 1, StudentID: 7, Amount: dec("300"), Status: models.InvoiceStatusPending},
			2: {ID: 2, StudentID: 7, Amount: dec("300"), Status: models.InvoiceStatusPending},
		},
		paid: map[int64]decimal.Decimal{
			1: dec("300"), // fully covered, repair
			2: dec("100"), // partial, leave alone
		},
	}

	events := dispatcher.New(zap.NewNop())
	defer events.Close()

	r := NewReconciler(store, store, events, time.Minute, zap.NewNop())
	repaired, err := r.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, repaired)
	assert.Equal(t, models.InvoiceStatusCompleted, store.invoices[1].Status)
	assert.Equal(t, models.InvoiceStatusPending, store.invoices[2].Status)
}

func TestSweepRepairsOverpaidInvoice(t *testing.T) {
	store := &fakeReconcilerStore{
		invoices: map[int64]*models.Invoice{
			1: {ID: 1, StudentID: 7, Amount: dec("300"), Status: models.InvoiceStatusPending},
		},
		paid: map[int64]decimal.Decimal{
			1: dec("350"),
		},
	}

	events := dispatcher.New(zap.NewNop())
	defer events.Close()

	r := NewReconciler(store, store, events, time.Minute, zap.NewNop())
	repaired, err := r.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, repaired)
	assert.Equal(t, models.InvoiceStatusCompleted, store.invoices[1].Status)
}

func TestSweepNothingToRepair(t *testing.T) {
	store := &fakeReconcilerStore{
		invoices: map[int64]*models.Invoice{},
		paid:     map[int64]decimal.Decimal{},
	}

	events := dispatcher.New(zap.NewNop())
	defer events.Close()

	r := NewReconciler(store, store, events, time.Minute, zap.NewNop())
	repaired, err := r.Sweep(context.Background())

	require.NoError(t, err)
	assert.Zero(t, repaired)
}

func TestSweepPropagatesListError(t *testing.T) {
	store := &fakeReconcilerStore{listErr: errors.New("database is locked")}

	events := dispatcher.New(zap.NewNop())
	defer events.Close()

	r := NewReconciler(store, store, events, time.Minute, zap.NewNop())
	_, err := r.Sweep(context.Background())

	assert.Error(t, err)
}

func TestSweepSkipsInvoiceOnSumError(t *testing.T) {
	store := &fakeReconcilerStore{
		invoices: map[int64]*models.Invoice{
			1: {ID: 1, StudentID: 7, Amount: dec("300"), Status: models.InvoiceStatusPending},
		},
		paid: map[int64]decimal.Decimal{
			1: dec("300"),
		},
		sumErr: errors.New("database is locked"),
	}

	events := dispatcher.New(zap.NewNop())
	defer events.Close()

	r := NewReconciler(store, store, events, time.Minute, zap.NewNop())
	repaired, err := r.Sweep(context.Background())

	require.NoError(t, err)
	assert.Zero(t, repaired)
	assert.Equal(t, models.InvoiceStatusPending, store.invoices[1].Status)
}

func TestReconcilerStartStop(t *testing.T) {
	store := &fakeReconcilerStore{
		invoices: map[int64]*models.Invoice{},
		paid:     map[int64]decimal.Decimal{},
	}

	events := dispatcher.New(zap.NewNop())
	defer events.Close()

	r := NewReconciler(store, store, events, time.Hour, zap.NewNop())

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()), "second start must be rejected")

	r.Stop()
	r.Stop() // idempotent
}
