package reconciliation

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"tuitionledger/models"

	"github.com/xuri/excelize/v2"
)

var exportHeader = []string{
	"Invoice ID", "Student Number", "Student Name", "Month", "Year", "Reference Number",
	"Amount Due", "Amount Paid", "Outstanding Balance", "Overpaid Amount", "Status",
	"Currency", "Due Date", "Last Payment",
}

// exportInvoices loads every invoice matching f, ignoring its paging fields
func (s *Service) exportInvoices(ctx context.Context, f InvoiceFilter) ([]models.Invoice, error) {
	q, err := f.apply(s.db.WithContext(ctx).Model(&models.Invoice{}))
	if err != nil {
		return nil, err
	}
	var invoices []models.Invoice
	if err := q.Order("billing_year DESC, billing_month DESC, student_number ASC").Find(&invoices).Error; err != nil {
		return nil, classifyDBError(err)
	}
	return invoices, nil
}

func exportRecord(inv models.Invoice) []string {
	lastPayment := ""
	if inv.LastPaymentAt != nil {
		lastPayment = inv.LastPaymentAt.Format("2006-01-02 15:04:05")
	}
	return []string{
		strconv.FormatUint(uint64(inv.ID), 10),
		inv.StudentNumber,
		inv.StudentName,
		strconv.Itoa(inv.Month),
		strconv.Itoa(inv.Year),
		inv.ReferenceNumber,
		inv.AmountDue.StringFixed(2),
		inv.AmountPaid.StringFixed(2),
		inv.OutstandingBalance.StringFixed(2),
		inv.OverpaidAmount.StringFixed(2),
		string(inv.Status),
		inv.Currency,
		inv.DueDate.Format("2006-01-02"),
		lastPayment,
	}
}

// ExportInvoicesCSV writes matching invoices as CSV
func (s *Service) ExportInvoicesCSV(ctx context.Context, f InvoiceFilter, w io.Writer) (int, error) {
	invoices, err := s.exportInvoices(ctx, f)
	if err != nil {
		return 0, err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, err
	}
	for _, inv := range invoices {
		if err := cw.Write(exportRecord(inv)); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	return len(invoices), cw.Error()
}

// ExportInvoicesXLSX writes matching invoices as a single-sheet workbook.
// Money columns are written as numbers so they can be summed in a spreadsheet.
func (s *Service) ExportInvoicesXLSX(ctx context.Context, f InvoiceFilter, w io.Writer) (int, error) {
	invoices, err := s.exportInvoices(ctx, f)
	if err != nil {
		return 0, err
	}

	xf := excelize.NewFile()
	defer xf.Close()
	const sheet = "Invoices"
	if err := xf.SetSheetName("Sheet1", sheet); err != nil {
		return 0, err
	}

	header := make([]interface{}, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := xf.SetSheetRow(sheet, "A1", &header); err != nil {
		return 0, err
	}

	for i, inv := range invoices {
		rec := exportRecord(inv)
		row := make([]interface{}, len(rec))
		for j, v := range rec {
			row[j] = v
		}
		// numeric columns stay numeric in the sheet
		row[3], row[4] = inv.Month, inv.Year
		row[6], _ = inv.AmountDue.Float64()
		row[7], _ = inv.AmountPaid.Float64()
		row[8], _ = inv.OutstandingBalance.Float64()
		row[9], _ = inv.OverpaidAmount.Float64()

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return 0, err
		}
		if err := xf.SetSheetRow(sheet, cell, &row); err != nil {
			return 0, err
		}
	}

	if err := xf.Write(w); err != nil {
		return 0, fmt.Errorf("failed to write workbook: %w", err)
	}
	return len(invoices), nil
}
