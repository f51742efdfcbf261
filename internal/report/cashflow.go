// Package report maintains the operator's cash-flow workbook. The workbook
// is a side-effect artifact: it is rebuilt from events best-effort and the
// ledger stays the source of truth.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/havenstay/billing/internal/dispatcher"
)

const sheetName = "CashFlow"

var headers = []string{"Recorded At", "Student", "Invoice", "Payment", "Amount", "Method", "Event"}

// CashFlow appends one workbook row per completed payment event
type CashFlow struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewCashFlow creates a new cash-flow report writer
func NewCashFlow(path string, logger *zap.Logger) *CashFlow {
	return &CashFlow{
		path:   path,
		logger: logger,
	}
}

// Handle appends the event to the workbook
func (c *CashFlow) Handle(_ context.Context, evt *dispatcher.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, isNew, err := c.open()
	if err != nil {
		return err
	}
	defer f.Close()

	if isNew {
		if err := c.writeHeaders(f); err != nil {
			return err
		}
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return fmt.Errorf("read workbook rows: %w", err)
	}

	row := len(rows) + 1
	values := []interface{}{
		evt.Timestamp.UTC().Format(time.RFC3339),
		evt.StudentID,
		evt.InvoiceID,
		evt.PaymentID,
		evt.GetPayloadString("amount"),
		evt.GetPayloadString("method"),
		evt.Type.String(),
	}
	for col, value := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("compute cell name: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, value); err != nil {
			return fmt.Errorf("write cell %s: %w", cell, err)
		}
	}

	if err := f.SaveAs(c.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}

	c.logger.Debug("Cash-flow row appended",
		zap.String("path", c.path),
		zap.Int("row", row))
	return nil
}

func (c *CashFlow) open() (*excelize.File, bool, error) {
	if _, err := os.Stat(c.path); err == nil {
		f, err := excelize.OpenFile(c.path)
		if err != nil {
			return nil, false, fmt.Errorf("open workbook: %w", err)
		}
		return f, false, nil
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, false, fmt.Errorf("create report directory: %w", err)
		}
	}

	f := excelize.NewFile()
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, false, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, false, fmt.Errorf("drop default sheet: %w", err)
	}
	return f, true, nil
}

func (c *CashFlow) writeHeaders(f *excelize.File) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("compute header cell: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return fmt.Errorf("write header %s: %w", header, err)
		}
	}
	return nil
}
