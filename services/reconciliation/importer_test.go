package reconciliation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tuitionledger/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	events []Event
}

func (p *recordingPublisher) Broadcast(message interface{}) {
	if e, ok := message.(Event); ok {
		p.events = append(p.events, e)
	}
}

type memoryArchiver struct {
	files map[string][]byte
	err   error
}

func (a *memoryArchiver) ArchiveStatement(_ context.Context, fileName string, data []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	if a.files == nil {
		a.files = map[string][]byte{}
	}
	key := "statements/" + fileName
	a.files[key] = data
	return key, nil
}

func countTransactions(t *testing.T, svc *Service) int64 {
	t.Helper()
	var n int64
	require.NoError(t, svc.db.Model(&models.PaymentTransaction{}).Count(&n).Error)
	return n
}

func TestImportFullPayment(t *testing.T) {
	svc, db := newTestService(t)
	st := createStudent(t, db, "STU001", true)
	inv := createInvoice(t, db, st, 3, 2025, "500.00")

	summary, err := svc.ImportStatement(context.Background(), "march.csv", statement("STU001,500.00,2025-03-05"), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Matched)
	assert.Empty(t, summary.Errors)

	got := reloadInvoice(t, db, inv.ID)
	assert.Equal(t, models.InvoicePaid, got.Status)
	requireAmount(t, "0", got.OutstandingBalance)
	requireAmount(t, "500", got.AmountPaid)
	require.NotNil(t, got.LastPaymentAt)

	batch, err := svc.GetBatch(context.Background(), summary.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Matched)
	assert.Equal(t, 1, batch.RowCount)
}

func TestImportPartialThenOverpaid(t *testing.T) {
	svc, db := newTestService(t)
	st := createStudent(t, db, "STU001", true)
	inv := createInvoice(t, db, st, 3, 2025, "500.00")

	summary, err := svc.ImportStatement(context.Background(), "march.csv", statement(
		"STU001,300.00,2025-03-05",
		"STU001,250.00,2025-03-06",
	), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Partial)
	assert.Equal(t, 1, summary.Overpaid)

	var txs []models.PaymentTransaction
	require.NoError(t, db.Order("id").Find(&txs).Error)
	require.Len(t, txs, 2)
	assert.Equal(t, models.ClassPartial, txs[0].Classification)
	assert.Equal(t, models.ClassOverpaid, txs[1].Classification)

	got := reloadInvoice(t, db, inv.ID)
	requireAmount(t, "550.00", got.AmountPaid)
	requireAmount(t, "50.00", got.OverpaidAmount)
	requireAmount(t, "0", got.OutstandingBalance)
	assert.Equal(t, models.InvoiceOverpaid, got.Status)
}

func TestImportOneCentBoundary(t *testing.T) {
	tests := []struct {
		name        string
		amount      string
		class       models.Classification
		status      models.InvoiceStatus
		outstanding string
		overpaid    string
	}{
		{name: "one cent short", amount: "499.99", class: models.ClassPartial, status: models.InvoicePartial, outstanding: "0.01", overpaid: "0"},
		{name: "exact balance", amount: "500.00", class: models.ClassMatched, status: models.InvoicePaid, outstanding: "0", overpaid: "0"},
		{name: "one cent over", amount: "500.01", class: models.ClassOverpaid, status: models.InvoiceOverpaid, outstanding: "0", overpaid: "0.01"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			svc, db := newTestService(t)
			st := createStudent(t, db, "STU001", true)
			inv := createInvoice(t, db, st, 3, 2025, "500.00")

			summary, err := svc.ImportStatement(context.Background(), "march.csv", statement("STU001,"+tc.amount+",2025-03-05"), 1)
			require.NoError(t, err)
			assert.Equal(t, 1, summary.Processed)
			assert.Empty(t, summary.Errors)

			var pt models.PaymentTransaction
			require.NoError(t, db.First(&pt).Error)
			assert.Equal(t, tc.class, pt.Classification)

			got := reloadInvoice(t, db, inv.ID)
			assert.Equal(t, tc.status, got.Status)
			requireAmount(t, tc.amount, got.AmountPaid)
			requireAmount(t, tc.outstanding, got.OutstandingBalance)
			requireAmount(t, tc.overpaid, got.OverpaidAmount)
		})
	}
}

func TestImportUnmatchedReference(t *testing.T) {
	svc, db := newTestService(t)
	st := createStudent(t, db, "STU001", true)
	inv := createInvoice(t, db, st, 3, 2025, "500.00")

	summary, err := svc.ImportStatement(context.Background(), "march.csv", statement("UNKNOWN999,500.00,2025-03-05"), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Unmatched)

	var pt models.PaymentTransaction
	require.NoError(t, db.First(&pt).Error)
	assert.Nil(t, pt.InvoiceID)
	assert.Equal(t, models.ClassUnmatched, pt.Classification)
	assert.Equal(t, "UNKNOWN999", pt.RawReference)

	got := reloadInvoice(t, db, inv.ID)
	requireAmount(t, "0", got.AmountPaid)
	assert.Equal(t, models.InvoiceUnpaid, got.Status)
}

func TestImportIsIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	st := createStudent(t, db, "STU001", true)
	inv := createInvoice(t, db, st, 3, 2025, "500.00")

	csv := "reference,amount,date\n" +
		"STU001,200.00,2025-03-05\n" +
		"STU001,200.00,2025-03-05\n" +
		"UNKNOWN999,10.00,2025-03-06\n"

	first, err := svc.ImportStatement(context.Background(), "march.csv", strings.NewReader(csv), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Partial, "identical rows in one file are distinct payments")
	assert.Equal(t, 1, first.Unmatched)
	assert.Equal(t, int64(3), countTransactions(t, svc))
	before := reloadInvoice(t, db, inv.ID)
	requireAmount(t, "400", before.AmountPaid)

	second, err := svc.ImportStatement(context.Background(), "march-again.csv", strings.NewReader(csv), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Processed)
	assert.Equal(t, 3, second.Duplicates)
	assert.Zero(t, second.Matched+second.Partial+second.Overpaid+second.Unmatched)
	assert.Equal(t, int64(3), countTransactions(t, svc))

	after := reloadInvoice(t, db, inv.ID)
	requireAmount(t, before.AmountPaid.String(), after.AmountPaid)
	assert.Equal(t, before.Status, after.Status)
}

func TestImportReportsRowErrorsAndContinues(t *testing.T) {
	svc, db := newTestService(t)
	st := createStudent(t, db, "STU001", true)
	createInvoice(t, db, st, 3, 2025, "500.00")

	summary, err := svc.ImportStatement(context.Background(), "march.csv", statement(
		"STU001,abc,2025-03-05",
		"STU001,100.00,2025-03-05",
		"STU001,0,2025-03-05",
	), 7)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Rows)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Partial)
	require.Len(t, summary.Errors, 2)
	assert.Equal(t, 2, summary.Errors[0].Row)
	assert.Equal(t, string(ReasonNonNumericAmount), summary.Errors[0].Reason)
	assert.Equal(t, 4, summary.Errors[1].Row)

	batch, err := svc.GetBatch(context.Background(), summary.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.ErrorCount)
	assert.Equal(t, uint(7), batch.UploadedBy)
	assert.Contains(t, string(batch.Errors), "non-numeric amount")
}

func TestImportMalformedFile(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ImportStatement(context.Background(), "bad.csv", strings.NewReader("reference;amount;date\n"), 1)
	require.ErrorIs(t, err, ErrMalformedStatement)
	assert.Zero(t, countTransactions(t, svc))

	var batches int64
	require.NoError(t, svc.db.Model(&models.UploadBatch{}).Count(&batches).Error)
	assert.Zero(t, batches, "a rejected file leaves no batch behind")
}

func TestImportRejectsOversizedFile(t *testing.T) {
	svc, db := newTestService(t)
	svc.opts.MaxStatementBytes = 32
	createStudent(t, db, "STU001", true)

	_, err := svc.ImportStatement(context.Background(), "big.csv", statement(
		"STU001,100.00,2025-03-05",
		"STU001,100.00,2025-03-06",
	), 1)
	require.ErrorIs(t, err, ErrStatementTooLarge)
	assert.Zero(t, countTransactions(t, svc))

	svc.opts.MaxStatementBytes = 1 << 20
	summary, err := svc.ImportStatement(context.Background(), "big.csv", statement("STU001,100.00,2025-03-05"), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
}

func TestImportKeepsSummaryWhenBatchUpdateFails(t *testing.T) {
	svc, db := newTestService(t)
	st := createStudent(t, db, "STU001", true)
	inv := createInvoice(t, db, st, 3, 2025, "500.00")

	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:fail_batch_update", func(tx *gorm.DB) {
		if tx.Statement.Table == "upload_batches" {
			tx.AddError(errors.New("disk full"))
		}
	}))

	summary, err := svc.ImportStatement(context.Background(), "march.csv", statement("STU001,500.00,2025-03-05"), 1)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Matched)
	assert.Contains(t, summary.BatchPersistError, "disk full")

	got := reloadInvoice(t, db, inv.ID)
	assert.Equal(t, models.InvoicePaid, got.Status)
	assert.Equal(t, int64(1), countTransactions(t, svc))
}

func TestImportArchivesAndPublishes(t *testing.T) {
	svc, db := newTestService(t)
	st := createStudent(t, db, "STU001", true)
	createInvoice(t, db, st, 3, 2025, "500.00")

	pub := &recordingPublisher{}
	arch := &memoryArchiver{}
	svc.SetEventPublisher(pub)
	svc.SetStatementArchiver(arch)

	summary, err := svc.ImportStatement(context.Background(), "march.csv", statement("STU001,500.00,2025-03-05"), 1)
	require.NoError(t, err)
	assert.Equal(t, "statements/march.csv", summary.SourceKey)
	assert.Contains(t, string(arch.files["statements/march.csv"]), "STU001,500.00")

	require.Len(t, pub.events, 1)
	assert.Equal(t, EventStatementImported, pub.events[0].Type)

	arch.err = errors.New("bucket unavailable")
	summary, err = svc.ImportStatement(context.Background(), "april.csv", statement("STU001,1.00,2025-04-05"), 1)
	require.NoError(t, err, "archive failures do not block the import")
	assert.Empty(t, summary.SourceKey)
	assert.Equal(t, 1, summary.Overpaid)
}

func TestLedgerIntegrityAfterMixedActivity(t *testing.T) {
	svc, db := newTestService(t)
	st := createStudent(t, db, "STU001", true)
	inv := createInvoice(t, db, st, 3, 2025, "500.00")
	ctx := context.Background()

	_, err := svc.ImportStatement(ctx, "march.csv", statement(
		"STU001,120.00,2025-03-01",
		"STU001,80.50,2025-03-02",
	), 1)
	require.NoError(t, err)

	_, pt, err := svc.AddManualPayment(ctx, ManualPaymentInput{StudentID: st.ID, Amount: dec("99.50"), Month: 3, Year: 2025})
	require.NoError(t, err)
	newAmount := dec("50.00")
	_, _, err = svc.UpdateManualPayment(ctx, pt.ID, ManualPaymentUpdate{Amount: &newAmount})
	require.NoError(t, err)

	issues, err := svc.VerifyLedger(ctx)
	require.NoError(t, err)
	assert.Empty(t, issues)

	require.NoError(t, db.Model(&models.Invoice{}).Where("id = ?", inv.ID).Update("amount_paid", "1.00").Error)
	issues, err = svc.VerifyLedger(ctx)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, inv.ID, issues[0].InvoiceID)
	requireAmount(t, "250.50", issues[0].Expected)
}
