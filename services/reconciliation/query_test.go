package reconciliation

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"tuitionledger/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func seedListing(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	for _, n := range []string{"STU001", "STU002", "STU003"} {
		createStudent(t, svc.db, n, true)
	}
	_, err := svc.GenerateMonthlyInvoices(ctx, 2, 2025, dec("500"), nil)
	require.NoError(t, err)
	_, err = svc.GenerateMonthlyInvoices(ctx, 3, 2025, dec("500"), nil)
	require.NoError(t, err)
	_, err = svc.ImportStatement(ctx, "feb.csv", statement(
		"STU001,500.00,2025-02-03",
		"STU002,200.00,2025-02-04",
		"STU003,1100.00,2025-02-05",
		"NOBODY,5.00,2025-02-05",
	), 1)
	require.NoError(t, err)
}

func TestListInvoicesFiltersAndSummary(t *testing.T) {
	svc, _ := newTestService(t)
	seedListing(t, svc)
	ctx := context.Background()

	all, err := svc.ListInvoices(ctx, InvoiceFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(6), all.Pagination.Total)
	assert.Len(t, all.Invoices, 6)
	assert.Equal(t, 3, all.Invoices[0].Month, "newest period first")
	requireAmount(t, "3000", all.Summary.TotalDue)
	requireAmount(t, "1800", all.Summary.TotalPaid)

	// the oldest open invoice takes the whole payment, overpayment included
	feb, err := svc.ListInvoices(ctx, InvoiceFilter{Month: 2, Year: 2025})
	require.NoError(t, err)
	assert.Equal(t, int64(3), feb.Summary.TotalInvoices)
	assert.Equal(t, int64(1), feb.Summary.ByStatus[models.InvoicePaid])
	assert.Equal(t, int64(1), feb.Summary.ByStatus[models.InvoicePartial])
	assert.Equal(t, int64(1), feb.Summary.ByStatus[models.InvoiceOverpaid])
	requireAmount(t, "300", feb.Summary.TotalOutstanding)
	requireAmount(t, "600", feb.Summary.TotalOverpaid)

	overpaid, err := svc.ListInvoices(ctx, InvoiceFilter{Status: models.InvoiceOverpaid})
	require.NoError(t, err)
	require.Len(t, overpaid.Invoices, 1)
	assert.Equal(t, "STU003", overpaid.Invoices[0].StudentNumber)

	byStudent, err := svc.ListInvoices(ctx, InvoiceFilter{StudentNumber: "stu002"})
	require.NoError(t, err)
	assert.Len(t, byStudent.Invoices, 2)

	paged, err := svc.ListInvoices(ctx, InvoiceFilter{Page: 2, Limit: 4})
	require.NoError(t, err)
	assert.Len(t, paged.Invoices, 2)
	assert.Equal(t, 2, paged.Pagination.TotalPages)
	assert.Equal(t, int64(6), paged.Summary.TotalInvoices)

	_, err = svc.ListInvoices(ctx, InvoiceFilter{Status: "Lost"})
	require.ErrorIs(t, err, ErrInvalidFilter)
}

func TestGetInvoiceAndTransactions(t *testing.T) {
	svc, db := newTestService(t)
	seedListing(t, svc)
	ctx := context.Background()

	var inv models.Invoice
	require.NoError(t, db.Where("student_number = ? AND billing_month = ?", "STU002", 2).First(&inv).Error)
	got, err := svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, got.Transactions, 1)
	require.NotNil(t, got.Student)
	assert.Equal(t, "STU002", got.Student.StudentNumber)

	_, err = svc.GetInvoice(ctx, 9999)
	require.ErrorIs(t, err, ErrInvoiceNotFound)

	unmatched, err := svc.ListTransactions(ctx, TransactionFilter{Unmatched: true})
	require.NoError(t, err)
	require.Len(t, unmatched.Transactions, 1)
	assert.Equal(t, "NOBODY", unmatched.Transactions[0].RawReference)

	bank, err := svc.ListTransactions(ctx, TransactionFilter{Method: models.MethodBankImport})
	require.NoError(t, err)
	assert.Equal(t, int64(4), bank.Pagination.Total)

	_, err = svc.ListTransactions(ctx, TransactionFilter{Method: "cheque"})
	require.ErrorIs(t, err, ErrInvalidFilter)

	batches, err := svc.ListBatches(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, batches.Batches, 1)
	assert.Equal(t, 1, batches.Batches[0].Unmatched)

	_, err = svc.GetBatch(ctx, 9999)
	require.ErrorIs(t, err, ErrBatchNotFound)
}

func TestExportInvoices(t *testing.T) {
	svc, _ := newTestService(t)
	seedListing(t, svc)
	ctx := context.Background()

	var buf bytes.Buffer
	n, err := svc.ExportInvoicesCSV(ctx, InvoiceFilter{Month: 2, Year: 2025}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, exportHeader, records[0])
	assert.Equal(t, "STU001", records[1][1])
	assert.Equal(t, "500.00", records[1][7])
	assert.Equal(t, "Paid", records[1][10])

	buf.Reset()
	n, err = svc.ExportInvoicesXLSX(ctx, InvoiceFilter{}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Invoices")
	require.NoError(t, err)
	assert.Len(t, rows, 7)
	assert.Equal(t, "Invoice ID", rows[0][0])
}

func TestClearAllInvoices(t *testing.T) {
	svc, db := newTestService(t)
	seedListing(t, svc)
	pub := &recordingPublisher{}
	svc.SetEventPublisher(pub)

	res, err := svc.ClearAllInvoices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.DeletedInvoices)
	assert.Equal(t, int64(4), res.DeletedTransactions)
	assert.Equal(t, int64(1), res.DeletedBatches)

	var remaining int64
	require.NoError(t, db.Model(&models.Invoice{}).Count(&remaining).Error)
	assert.Zero(t, remaining)
	require.NoError(t, db.Model(&models.Student{}).Count(&remaining).Error)
	assert.Equal(t, int64(3), remaining, "students are not touched")

	require.Len(t, pub.events, 1)
	assert.Equal(t, EventInvoicesCleared, pub.events[0].Type)
}
