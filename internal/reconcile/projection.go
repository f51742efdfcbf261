package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/havenstay/billing/internal/models"
)

// ProjectOutstanding returns the subset of a student's invoices that should
// be presented as outstanding.
//
// When an installment plan is active the ledger may hold both one large
// "total" invoice and N smaller per-installment invoices for the same
// obligation; showing both double-counts the balance. An invoice is treated
// as a duplicate main invoice when all of the following hold:
//
//   - its amount exceeds the deposit threshold,
//   - it is the only invoice at exactly that amount, and
//   - its amount strictly exceeds at least one other above-threshold invoice
//     of the same student.
//
// Main invoices are dropped only if other non-deposit invoices remain after
// excluding them, so a simple booking with a single rent invoice is never
// projected as empty. The function is pure and idempotent: it never mutates
// its input and applying it to its own output returns the same set.
func ProjectOutstanding(invoices []*models.Invoice, depositThreshold decimal.Decimal) []*models.Invoice {
	if len(invoices) < 2 {
		return invoices
	}

	countByAmount := make(map[string]int, len(invoices))
	for _, inv := range invoices {
		countByAmount[inv.Amount.String()]++
	}

	duplicateMain := make(map[int64]bool)
	for _, inv := range invoices {
		if !inv.Amount.GreaterThan(depositThreshold) {
			continue
		}
		if countByAmount[inv.Amount.String()] != 1 {
			continue
		}
		for _, other := range invoices {
			if other.ID == inv.ID {
				continue
			}
			if other.Amount.GreaterThan(depositThreshold) && inv.Amount.GreaterThan(other.Amount) {
				duplicateMain[inv.ID] = true
				break
			}
		}
	}

	if len(duplicateMain) == 0 {
		return invoices
	}

	// Dropping the mains must leave at least one non-deposit invoice behind
	nonDepositLeft := 0
	for _, inv := range invoices {
		if duplicateMain[inv.ID] {
			continue
		}
		if inv.Amount.GreaterThan(depositThreshold) {
			nonDepositLeft++
		}
	}
	if nonDepositLeft == 0 {
		return invoices
	}

	outstanding := make([]*models.Invoice, 0, len(invoices)-len(duplicateMain))
	for _, inv := range invoices {
		if !duplicateMain[inv.ID] {
			outstanding = append(outstanding, inv)
		}
	}
	return outstanding
}
